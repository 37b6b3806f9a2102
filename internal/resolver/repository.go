package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/migrations"
)

type RuleRepository interface {
	RuleSource
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
}

type MongoRuleRepository struct {
	collection *mongo.Collection
}

func NewMongoRuleRepository(db *mongo.Database) *MongoRuleRepository {
	return &MongoRuleRepository{
		collection: db.Collection(migrations.ActionRulesCollection),
	}
}

func (r *MongoRuleRepository) ActiveRules(ctx context.Context) ([]Rule, error) {
	return r.find(ctx, bson.M{"enabled": true})
}

func (r *MongoRuleRepository) ListRules(ctx context.Context) ([]Rule, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoRuleRepository) find(ctx context.Context, filter bson.M) ([]Rule, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "size", Value: -1},
		{Key: "name", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list action rules: %w", err)
	}
	defer cursor.Close(ctx)

	rules := make([]Rule, 0)
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode action rules: %w", err)
	}

	return rules, nil
}

func (r *MongoRuleRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	var rule Rule
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rule)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("action rule %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action rule: %w", err)
	}

	return &rule, nil
}

func (r *MongoRuleRepository) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, rule); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("action rule '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create action rule: %w", err)
	}

	return nil
}

func (r *MongoRuleRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"name":        rule.Name,
		"kind":        rule.Kind,
		"size":        rule.Size,
		"expression":  rule.Expression,
		"priority":    rule.Priority,
		"enabled":     rule.Enabled,
		"description": rule.Description,
		"updated_at":  rule.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": rule.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("action rule '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to update action rule: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("action rule %s not found", rule.ID))
	}

	return nil
}

func (r *MongoRuleRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete action rule: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("action rule %s not found", id))
	}

	return nil
}
