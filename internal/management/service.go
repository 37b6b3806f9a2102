package management

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/logger"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/cel"
	pkgerrors "enrollsync/pkg/errors"
	"enrollsync/pkg/models"
)

type Deps struct {
	Rules      resolver.RuleRepository
	Evaluator  *cel.Evaluator
	Batches    batch.Repository
	Dispatcher Dispatcher
	Records    AuditReader
}

type service struct {
	Deps
	changeLog ChangeLog
	events    *ConfigEventProducer
	logger    logger.Logger
	now       func() time.Time
}

type ServiceOption func(*service)

func WithChangeLog(changeLog ChangeLog) ServiceOption {
	return func(s *service) {
		s.changeLog = changeLog
	}
}

func WithConfigEvents(events *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func NewService(deps Deps, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		Deps:   deps,
		logger: log,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) ListRules(ctx context.Context) ([]resolver.Rule, error) {
	rules, err := s.Rules.ListRules(ctx)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return rules, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*resolver.Rule, error) {
	rule, err := s.Rules.GetRule(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return rule, nil
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*resolver.Rule, error) {
	rule := ruleFromRequest(req)
	if err := resolver.ValidateRule(s.Evaluator, rule); err != nil {
		return nil, err
	}

	if err := s.Rules.CreateRule(ctx, &rule); err != nil {
		return nil, wrapInternal(err)
	}

	s.recordChange(ctx, rule.ID, models.ActionCreate, nil, &rule)
	s.publishConfigEvent(ctx, models.ActionCreate, rule.ID)

	return &rule, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*resolver.Rule, error) {
	rule, err := s.Rules.GetRule(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}
	old := *rule

	applyUpdate(rule, req)
	if err := resolver.ValidateRule(s.Evaluator, *rule); err != nil {
		return nil, err
	}

	if err := s.Rules.UpdateRule(ctx, rule); err != nil {
		return nil, wrapInternal(err)
	}

	action := models.ActionUpdate
	if req.Enabled != nil && *req.Enabled != old.Enabled && onlyToggles(req) {
		action = models.ActionToggle
	}
	s.recordChange(ctx, rule.ID, action, &old, rule)
	s.publishConfigEvent(ctx, action, rule.ID)

	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.Rules.GetRule(ctx, id)
	if err != nil {
		return wrapInternal(err)
	}

	if err := s.Rules.DeleteRule(ctx, id); err != nil {
		return wrapInternal(err)
	}

	s.recordChange(ctx, id, models.ActionDelete, rule, nil)
	s.publishConfigEvent(ctx, models.ActionDelete, id)
	return nil
}

// ReloadRules asks every processor to reload without changing a rule.
func (s *service) ReloadRules(ctx context.Context) error {
	if s.events == nil {
		return pkgerrors.ErrServiceUnavailable.WithDetail("message", "config update topic is not configured")
	}
	if err := s.events.PublishActionRuleEvent(ctx, models.ActionReload, "", actorFrom(ctx).ChangedBy); err != nil {
		return wrapInternal(err)
	}
	return nil
}

func (s *service) GetRuleChanges(ctx context.Context, ruleID string, limit int) ([]RuleChange, error) {
	if s.changeLog == nil {
		return []RuleChange{}, nil
	}
	changes, err := s.changeLog.List(ctx, ruleID, limit)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return changes, nil
}

func (s *service) ListBatches(ctx context.Context, filter batch.ListFilter) ([]batch.Batch, error) {
	batches, err := s.Batches.List(ctx, filter)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return batches, nil
}

func (s *service) GetBatch(ctx context.Context, id string) (*batch.Batch, error) {
	b, err := s.Batches.Get(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return b, nil
}

func (s *service) ListTransactions(ctx context.Context, batchID string) ([]batch.Transaction, error) {
	if _, err := s.Batches.Get(ctx, batchID); err != nil {
		return nil, wrapInternal(err)
	}
	txs, err := s.Batches.Transactions(ctx, batchID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return txs, nil
}

func (s *service) RetriggerBatch(ctx context.Context, id string) (*batch.Batch, error) {
	b, err := s.Dispatcher.Retrigger(ctx, id)
	if err != nil {
		return nil, wrapInternal(err)
	}
	s.logger.InfowCtx(ctx, "Batch retriggered",
		"batch_id", id,
		"changed_by", actorFrom(ctx).ChangedBy,
	)
	return b, nil
}

func (s *service) Cut(ctx context.Context) (*CutResult, error) {
	at := s.now().UTC()
	n, err := s.Dispatcher.Cut(ctx)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return &CutResult{Dispatched: n, CutAt: at}, nil
}

func (s *service) QueryAudit(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	records, err := s.Records.Query(ctx, q)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return records, nil
}

// recordChange is best effort: the rule store already holds the change.
func (s *service) recordChange(ctx context.Context, ruleID, action string, oldRule, newRule *resolver.Rule) {
	if s.changeLog == nil {
		return
	}

	actor := actorFrom(ctx)
	change := &RuleChange{
		RuleID:    ruleID,
		Action:    action,
		OldValue:  ruleToMap(oldRule),
		NewValue:  ruleToMap(newRule),
		ChangedBy: actor.ChangedBy,
		IPAddress: actor.IPAddress,
		ChangedAt: s.now().UTC(),
	}
	if err := s.changeLog.Record(ctx, change); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record rule change",
			"rule_id", ruleID,
			"action", action,
			"error", err,
		)
	}
}

// publishConfigEvent is best effort: processors also reload on their timer.
func (s *service) publishConfigEvent(ctx context.Context, action, ruleID string) {
	if err := s.events.PublishActionRuleEvent(ctx, action, ruleID, actorFrom(ctx).ChangedBy); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config update event",
			"rule_id", ruleID,
			"action", action,
			"error", err,
		)
	}
}

func onlyToggles(req UpdateRuleRequest) bool {
	return req.Name == nil && req.Kind == nil && req.Size == nil &&
		req.Expression == nil && req.Priority == nil && req.Description == nil
}

func ruleToMap(rule *resolver.Rule) map[string]interface{} {
	if rule == nil {
		return nil
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// wrapInternal keeps typed errors and marks everything else internal.
func wrapInternal(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.ErrInternal.WithCause(err)
}
