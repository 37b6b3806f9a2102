package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ActionRulesCollection = "action_rules"

// EnsureActionRulesCollection creates the indexes the resolver rule
// repository queries on. Safe to call on every startup.
func EnsureActionRulesCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(ActionRulesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_action_rules_name").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "enabled", Value: 1}, {Key: "priority", Value: -1}, {Key: "size", Value: -1}},
			Options: options.Index().SetName("idx_action_rules_enabled_priority_size"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_action_rules_updated_at"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
