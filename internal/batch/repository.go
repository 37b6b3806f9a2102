package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"enrollsync/internal/constants"
	"enrollsync/internal/notification"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/metrics"
)

type Repository interface {
	// Append stores tx in the open batch for key, opening one when needed.
	// A message id that was already stored is not appended again and
	// appended is false.
	Append(ctx context.Context, key Key, tx Transaction) (b *Batch, appended bool, err error)
	Get(ctx context.Context, id string) (*Batch, error)
	List(ctx context.Context, f ListFilter) ([]Batch, error)
	// ListOpen returns open batches oldest first with PendingSibling set.
	ListOpen(ctx context.Context, limit int) ([]Batch, error)
	// Transition moves batch id from one state to another only if it is
	// still in from.
	Transition(ctx context.Context, id string, from, to State, lastError string) error
	Transactions(ctx context.Context, batchID string) ([]Transaction, error)
	// PendingTransactions returns the transactions still to be processed in
	// (event time, arrival) order: those never acknowledged and those whose
	// last outcome was an infrastructure failure.
	PendingTransactions(ctx context.Context, batchID string) ([]Transaction, error)
	AckTransaction(ctx context.Context, transactionID, eventKey string, status int) error
}

type PostgresRepository struct {
	db      *sql.DB
	service string
}

func NewRepository(db *sql.DB, service string) *PostgresRepository {
	return &PostgresRepository{db: db, service: service}
}

const batchColumns = `id, subscriber_id, employer_id, benefit_kind, state, transaction_count,
		       COALESCE(last_error, ''), created_at, updated_at`

func (r *PostgresRepository) Append(ctx context.Context, key Key, tx Transaction) (*Batch, bool, error) {
	start := time.Now()
	b, appended, err := r.append(ctx, key, tx)
	r.observe("append_transaction", start, err)
	return b, appended, err
}

func (r *PostgresRepository) append(ctx context.Context, key Key, tx Transaction) (*Batch, bool, error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	b, err := lockOpenBatch(ctx, sqlTx, key)
	if err != nil {
		return nil, false, err
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	headers, err := json.Marshal(tx.Headers)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode transaction headers: %w", err)
	}
	if tx.Headers == nil {
		headers = []byte("{}")
	}

	res, err := sqlTx.ExecContext(ctx, `
		INSERT INTO batch_transactions (id, batch_id, message_id, headers, body, event_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO NOTHING
	`, tx.ID, b.ID, tx.MessageID, string(headers), tx.Body, tx.EventTime)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return b, false, sqlTx.Commit()
	}

	err = sqlTx.QueryRowContext(ctx, `
		UPDATE batches SET transaction_count = transaction_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING transaction_count, updated_at
	`, b.ID).Scan(&b.TransactionCount, &b.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update batch %s: %w", b.ID, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return b, true, nil
}

// lockOpenBatch returns the open batch for key locked for update, creating
// it first when there is none. The partial unique index on open batches
// makes concurrent creators converge on one row.
func lockOpenBatch(ctx context.Context, tx *sql.Tx, key Key) (*Batch, error) {
	selectOpen := `SELECT ` + batchColumns + ` FROM batches
		WHERE subscriber_id = $1 AND employer_id = $2 AND benefit_kind = $3 AND state = 'open'
		FOR UPDATE`

	b, err := scanBatch(tx.QueryRowContext(ctx, selectOpen, key.SubscriberID, key.EmployerID, string(key.BenefitKind)))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load open batch: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, subscriber_id, employer_id, benefit_kind, state)
		VALUES ($1, $2, $3, $4, 'open')
		ON CONFLICT (subscriber_id, employer_id, benefit_kind) WHERE state = 'open' DO NOTHING
	`, uuid.New().String(), key.SubscriberID, key.EmployerID, string(key.BenefitKind))
	if err != nil {
		return nil, fmt.Errorf("failed to open batch: %w", err)
	}

	b, err = scanBatch(tx.QueryRowContext(ctx, selectOpen, key.SubscriberID, key.EmployerID, string(key.BenefitKind)))
	if err != nil {
		return nil, fmt.Errorf("failed to load opened batch: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Batch, error) {
	start := time.Now()
	b, err := scanBatch(r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	r.observe("get_batch", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("batch_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", id, err)
	}
	return b, nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Batch, error) {
	limit, offset := pageBounds(f.Limit, f.Offset)

	query := `SELECT ` + batchColumns + ` FROM batches`
	args := []interface{}{}
	if f.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(f.State))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.observe("list_batches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return batches, nil
}

func (r *PostgresRepository) ListOpen(ctx context.Context, limit int) ([]Batch, error) {
	query := `
		SELECT b.id, b.subscriber_id, b.employer_id, b.benefit_kind, b.state, b.transaction_count,
		       COALESCE(b.last_error, ''), b.created_at, b.updated_at,
		       EXISTS (
		           SELECT 1 FROM batches p
		           WHERE p.state = 'pending_transmission'
		             AND p.subscriber_id = b.subscriber_id
		             AND p.employer_id = b.employer_id
		             AND p.benefit_kind = b.benefit_kind
		       )
		FROM batches b
		WHERE b.state = 'open'
		ORDER BY b.created_at
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.observe("list_open_batches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list open batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var kind, state string
		if err := rows.Scan(&b.ID, &b.Key.SubscriberID, &b.Key.EmployerID, &kind, &state,
			&b.TransactionCount, &b.LastError, &b.CreatedAt, &b.UpdatedAt, &b.PendingSibling); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Key.BenefitKind = notification.CoverageType(kind)
		b.State = State(state)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return batches, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to State, lastError string) error {
	var errText sql.NullString
	if to == StateError {
		errText = sql.NullString{String: lastError, Valid: true}
	}

	start := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE batches SET state = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND state = $2
	`, id, string(from), string(to), errText)
	r.observe("transition_batch", start, err)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ErrConflict.WithCause(err).
				WithDetail("message", fmt.Sprintf("another batch with the same key is already %s", to))
		}
		return fmt.Errorf("failed to transition batch %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.ErrConflict.
			WithDetail("batch_id", id).
			WithDetail("message", fmt.Sprintf("batch is no longer %s", from))
	}
	return nil
}

func (r *PostgresRepository) Transactions(ctx context.Context, batchID string) ([]Transaction, error) {
	return r.transactions(ctx, "list_transactions", batchID, false)
}

func (r *PostgresRepository) PendingTransactions(ctx context.Context, batchID string) ([]Transaction, error) {
	return r.transactions(ctx, "list_pending_transactions", batchID, true)
}

func (r *PostgresRepository) transactions(ctx context.Context, op, batchID string, pendingOnly bool) ([]Transaction, error) {
	query := `
		SELECT id, batch_id, sequence, message_id, headers, body, event_time,
		       COALESCE(outcome_key, ''), COALESCE(status_code, 0), acked_at, created_at
		FROM batch_transactions
		WHERE batch_id = $1`
	if pendingOnly {
		query += ` AND (acked_at IS NULL OR status_code >= 500)`
	}
	query += ` ORDER BY event_time, sequence`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, batchID)
	r.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var headers []byte
		var acked sql.NullTime
		if err := rows.Scan(&t.ID, &t.BatchID, &t.Sequence, &t.MessageID, &headers, &t.Body,
			&t.EventTime, &t.OutcomeKey, &t.StatusCode, &acked, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &t.Headers); err != nil {
				return nil, fmt.Errorf("failed to decode headers of transaction %s: %w", t.ID, err)
			}
		}
		if acked.Valid {
			t.AckedAt = &acked.Time
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return txs, nil
}

func (r *PostgresRepository) AckTransaction(ctx context.Context, transactionID, eventKey string, status int) error {
	start := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE batch_transactions SET outcome_key = $2, status_code = $3, acked_at = NOW()
		WHERE id = $1
	`, transactionID, eventKey, status)
	r.observe("ack_transaction", start, err)
	if err != nil {
		return fmt.Errorf("failed to ack transaction %s: %w", transactionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var kind, state string
	if err := row.Scan(&b.ID, &b.Key.SubscriberID, &b.Key.EmployerID, &kind, &state,
		&b.TransactionCount, &b.LastError, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Key.BenefitKind = notification.CoverageType(kind)
	b.State = State(state)
	return &b, nil
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (r *PostgresRepository) observe(operation string, start time.Time, err error) {
	metrics.ObservePostgresQuery(r.service, operation, start, err)
}
