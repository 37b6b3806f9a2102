package management

import (
	"context"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/resolver"
)

type Service interface {
	ListRules(ctx context.Context) ([]resolver.Rule, error)
	GetRule(ctx context.Context, id string) (*resolver.Rule, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (*resolver.Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*resolver.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	ReloadRules(ctx context.Context) error
	GetRuleChanges(ctx context.Context, ruleID string, limit int) ([]RuleChange, error)

	ListBatches(ctx context.Context, filter batch.ListFilter) ([]batch.Batch, error)
	GetBatch(ctx context.Context, id string) (*batch.Batch, error)
	ListTransactions(ctx context.Context, batchID string) ([]batch.Transaction, error)
	RetriggerBatch(ctx context.Context, id string) (*batch.Batch, error)
	Cut(ctx context.Context) (*CutResult, error)

	QueryAudit(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// Dispatcher hands batches to the processor; batch.CutService implements it.
type Dispatcher interface {
	Cut(ctx context.Context) (int, error)
	Retrigger(ctx context.Context, id string) (*batch.Batch, error)
}

type AuditReader interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

type ChangeLog interface {
	Record(ctx context.Context, change *RuleChange) error
	List(ctx context.Context, ruleID string, limit int) ([]RuleChange, error)
}
