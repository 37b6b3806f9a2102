package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"enrollsync/internal/constants"
	"enrollsync/pkg/metrics"
)

type Store interface {
	// Append inserts rec. It reports false when the transaction already has
	// a record with the same event key, leaving the existing one in place.
	Append(ctx context.Context, rec Record) (bool, error)
	HasProcessed(ctx context.Context, hbxEnrollmentID, enrollmentAction string) (bool, error)
	Query(ctx context.Context, q Query) ([]Record, error)
}

type PostgresStore struct {
	db      *sql.DB
	service string
}

func NewPostgresStore(db *sql.DB, service string) *PostgresStore {
	return &PostgresStore{db: db, service: service}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	headers, err := json.Marshal(nonNilHeaders(rec.Headers))
	if err != nil {
		return false, fmt.Errorf("failed to encode audit headers: %w", err)
	}
	var details []byte
	if len(rec.Details) > 0 {
		if details, err = json.Marshal(rec.Details); err != nil {
			return false, fmt.Errorf("failed to encode audit details: %w", err)
		}
	}

	query := `
		INSERT INTO enrollment_event_audits (id, hbx_enrollment_id, enrollment_action, event_key, level,
		                                     status_code, headers, details, batch_id, transaction_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id, event_key) WHERE transaction_id IS NOT NULL DO NOTHING
	`

	start := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.HbxEnrollmentID,
		rec.EnrollmentAction,
		rec.EventKey,
		rec.Level,
		rec.StatusCode,
		string(headers),
		nullJSON(details),
		nullString(rec.BatchID),
		nullString(rec.TransactionID),
		rec.ReceivedAt,
	)
	s.observe("append", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to append audit record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) HasProcessed(ctx context.Context, hbxEnrollmentID, enrollmentAction string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM enrollment_event_audits
			WHERE hbx_enrollment_id = $1 AND enrollment_action = $2 AND event_key = $3
		)
	`

	start := time.Now()
	var exists bool
	err := s.db.QueryRowContext(ctx, query, hbxEnrollmentID, enrollmentAction, EventKeyProcessed).Scan(&exists)
	s.observe("has_processed", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to query processed audit records: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("hbx_enrollment_id", q.HbxEnrollmentID)
	add("enrollment_action", q.EnrollmentAction)
	add("event_key", q.EventKey)
	add("batch_id", q.BatchID)

	query := `
		SELECT id, hbx_enrollment_id, enrollment_action, event_key, level, status_code, headers,
		       details, COALESCE(batch_id::text, ''), COALESCE(transaction_id::text, ''), received_at, created_at
		FROM enrollment_event_audits`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	args = append(args, limit, max(q.Offset, 0))
	query += fmt.Sprintf("\n\t\tORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("query", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec              Record
			headers, details []byte
			receivedAt       sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.HbxEnrollmentID,
			&rec.EnrollmentAction,
			&rec.EventKey,
			&rec.Level,
			&rec.StatusCode,
			&headers,
			&details,
			&rec.BatchID,
			&rec.TransactionID,
			&receivedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode audit headers: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		if receivedAt.Valid {
			t := receivedAt.Time
			rec.ReceivedAt = &t
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	metrics.ObservePostgresQuery(s.service, "audit_"+operation, start, err)
}

func nonNilHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullJSON passes JSON as text; lib/pq would send a []byte as bytea.
func nullJSON(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
