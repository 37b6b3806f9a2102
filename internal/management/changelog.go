package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresChangeLog struct {
	db *sql.DB
}

func NewChangeLog(db *sql.DB) *PostgresChangeLog {
	return &PostgresChangeLog{db: db}
}

func (l *PostgresChangeLog) Record(ctx context.Context, change *RuleChange) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}

	oldValue, err := jsonColumn(change.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newValue, err := jsonColumn(change.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	query := `
		INSERT INTO action_rule_changes (id, rule_id, action, old_value, new_value, changed_by, ip_address, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	ip := sql.NullString{String: change.IPAddress, Valid: change.IPAddress != ""}
	if _, err := l.db.ExecContext(ctx, query,
		change.ID, change.RuleID, change.Action, oldValue, newValue, change.ChangedBy, ip, change.ChangedAt,
	); err != nil {
		return fmt.Errorf("failed to record rule change: %w", err)
	}

	return nil
}

// List returns the newest changes first; an empty ruleID lists every rule.
func (l *PostgresChangeLog) List(ctx context.Context, ruleID string, limit int) ([]RuleChange, error) {
	query := `
		SELECT id, rule_id, action, old_value, new_value, changed_by, ip_address, changed_at
		FROM action_rule_changes
		WHERE ($1 = '' OR rule_id = $1)
		ORDER BY changed_at DESC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule changes: %w", err)
	}
	defer rows.Close()

	changes := make([]RuleChange, 0)
	for rows.Next() {
		var (
			change             RuleChange
			oldValue, newValue sql.NullString
			ip                 sql.NullString
		)
		if err := rows.Scan(
			&change.ID, &change.RuleID, &change.Action, &oldValue, &newValue,
			&change.ChangedBy, &ip, &change.ChangedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule change: %w", err)
		}
		change.IPAddress = ip.String

		if oldValue.Valid {
			if err := json.Unmarshal([]byte(oldValue.String), &change.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old value: %w", err)
			}
		}
		if newValue.Valid {
			if err := json.Unmarshal([]byte(newValue.String), &change.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new value: %w", err)
			}
		}

		changes = append(changes, change)
	}

	return changes, rows.Err()
}

// jsonColumn renders v for a JSONB column. lib/pq sends []byte as bytea,
// so the JSON goes over the wire as text.
func jsonColumn(v map[string]interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
