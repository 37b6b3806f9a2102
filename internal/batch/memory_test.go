package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/models"
)

// memoryRepo keeps batches in maps and enforces the same key uniqueness as
// the partial unique indexes.
type memoryRepo struct {
	mu        sync.Mutex
	batches   map[string]*Batch
	txs       map[string][]Transaction
	messages  map[string]bool
	seq       int64
	appendErr error

	// transitionErr fails transitions into the given state.
	transitionErr map[State]error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:  map[string]*Batch{},
		txs:      map[string][]Transaction{},
		messages: map[string]bool{},
	}
}

func (r *memoryRepo) add(b Batch) *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Unix(int64(len(r.batches)), 0)
	}
	r.batches[b.ID] = &b
	return &b
}

func (r *memoryRepo) Append(_ context.Context, key Key, tx Transaction) (*Batch, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return nil, false, r.appendErr
	}
	var open *Batch
	for _, b := range r.batches {
		if b.Key == key && b.State == StateOpen {
			open = b
		}
	}
	if open == nil {
		open = &Batch{ID: fmt.Sprintf("b-%d", len(r.batches)+1), Key: key, State: StateOpen, CreatedAt: time.Unix(int64(len(r.batches)), 0)}
		r.batches[open.ID] = open
	}
	if r.messages[tx.MessageID] {
		c := *open
		return &c, false, nil
	}
	r.messages[tx.MessageID] = true
	r.seq++
	tx.ID = fmt.Sprintf("t-%d", r.seq)
	tx.BatchID = open.ID
	tx.Sequence = r.seq
	r.txs[open.ID] = append(r.txs[open.ID], tx)
	open.TransactionCount++
	c := *open
	return &c, true, nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (r *memoryRepo) List(_ context.Context, f ListFilter) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if f.State == "" || b.State == f.State {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListOpen(_ context.Context, limit int) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.State != StateOpen {
			continue
		}
		c := *b
		for _, p := range r.batches {
			if p.Key == b.Key && p.State == StatePendingTransmission {
				c.PendingSibling = true
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) Transition(_ context.Context, id string, from, to State, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionErr[to]; err != nil {
		return err
	}
	b, ok := r.batches[id]
	if !ok || b.State != from {
		return apperrors.ErrConflict
	}
	if to == StateOpen || to == StatePendingTransmission {
		for _, o := range r.batches {
			if o.ID != id && o.Key == b.Key && o.State == to {
				return apperrors.ErrConflict
			}
		}
	}
	b.State = to
	if to == StateError {
		b.LastError = lastError
	}
	return nil
}

func (r *memoryRepo) Transactions(_ context.Context, batchID string) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transaction(nil), r.txs[batchID]...), nil
}

func (r *memoryRepo) PendingTransactions(ctx context.Context, batchID string) ([]Transaction, error) {
	all, _ := r.Transactions(ctx, batchID)
	var out []Transaction
	for _, t := range all {
		if t.AckedAt == nil || t.StatusCode >= 500 {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) AckTransaction(_ context.Context, id, key string, status int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for batchID, txs := range r.txs {
		for i := range txs {
			if txs[i].ID == id {
				txs[i].OutcomeKey = key
				txs[i].StatusCode = status
				txs[i].AckedAt = &now
				r.txs[batchID] = txs
			}
		}
	}
	return nil
}

func (r *memoryRepo) state(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[id].State
}

type memoryProducer struct {
	mu     sync.Mutex
	topics []string
	sent   []models.MessageEnvelope
	err    error
}

func (p *memoryProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.sent = append(p.sent, msg)
	return nil
}

func (p *memoryProducer) Close() error { return nil }
