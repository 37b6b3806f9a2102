// Package resolver turns ordered event windows into enrollment actions
// using a prioritized table of CEL rules.
package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/ordering"
	"enrollsync/pkg/cel"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/tracing"
)

type Resolver struct {
	repo      RuleSource
	evaluator *cel.Evaluator
	cfg       config.ResolverConfig
	logger    logger.Logger
	now       func() time.Time

	rulesMu sync.RWMutex
	rules   []Rule
}

// RuleSource supplies the enabled rules; an empty result selects DefaultRules.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

func NewResolver(repo RuleSource, cfg config.ResolverConfig, log logger.Logger) (*Resolver, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	r := &Resolver{
		repo:      repo,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
	if err := r.setRules(DefaultRules()); err != nil {
		return nil, fmt.Errorf("invalid default rules: %w", err)
	}
	return r, nil
}

func (r *Resolver) Evaluator() *cel.Evaluator {
	return r.evaluator
}

// Rules returns a copy of the active rule table in evaluation order.
func (r *Resolver) Rules() []Rule {
	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()

	rules := make([]Rule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// ResolveAll walks the chunks of one ordered bucket. A matching rule
// consumes as many events as it inspects; a chunk nothing matches reports
// its first event as unresolved and the walk moves on by one.
func (r *Resolver) ResolveAll(ctx context.Context, chunks []ordering.Chunk) ([]Result, error) {
	ctx, span := tracing.GetTracer("resolver").Start(ctx, "resolver.resolve_all")
	defer span.End()

	rules := r.Rules()
	var results []Result

	for i := 0; i < len(chunks); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		window := chunks[i].Window
		action, err := r.resolve(ctx, rules, window)
		if err != nil {
			return nil, err
		}

		if action == nil {
			results = append(results, Result{Unresolved: window[0], Reason: unresolvedReason(window[0])})
			i++
			continue
		}

		metrics.IncActionResolved(string(action.Kind), action.Rule)
		results = append(results, Result{Action: action})
		i += len(action.Events)
	}

	return results, nil
}

// Resolve returns the action for the first rule that matches window, or nil.
func (r *Resolver) Resolve(ctx context.Context, window []*notification.Event) (*Action, error) {
	return r.resolve(ctx, r.Rules(), window)
}

func (r *Resolver) resolve(ctx context.Context, rules []Rule, window []*notification.Event) (*Action, error) {
	facts := make([]map[string]interface{}, len(window))
	for i, e := range window {
		facts[i] = Facts(e.View())
	}

	for _, rule := range rules {
		if rule.Size > len(window) {
			continue
		}

		matched, err := r.evaluator.EvaluateWindow(ctx, rule.Expression, facts[:rule.Size])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.FallbackUsageTotal.WithLabelValues("resolver", "skip_rule", "evaluation_error").Inc()
			r.logger.WarnwCtx(ctx, "Rule evaluation error, skipping rule",
				"rule", rule.Name,
				"error", err,
			)
			continue
		}
		if matched {
			return r.newAction(rule, window[:rule.Size]), nil
		}
	}

	return nil, nil
}

func (r *Resolver) newAction(rule Rule, events []*notification.Event) *Action {
	last := events[len(events)-1].View()
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.View().TransactionID
	}

	return &Action{
		ID:              ActionID(rule.Kind, ids),
		Kind:            rule.Kind,
		Rule:            rule.Name,
		HbxEnrollmentID: last.HbxEnrollmentID,
		SubscriberID:    last.SubscriberID,
		CoverageType:    last.CoverageType,
		EmployerID:      last.EmployerID,
		TransactionIDs:  ids,
		ResolvedAt:      r.now().UTC(),
		Events:          append([]*notification.Event(nil), events...),
	}
}

var actionNamespace = uuid.MustParse("8d6f2b1e-4c3a-5e7f-9a0b-1c2d3e4f5a6b")

// ActionID names the action of kind that consumes transactionIDs. A rerun
// that resolves the same transactions again produces the same id, which is
// what downstream consumers deduplicate on.
func ActionID(kind Kind, transactionIDs []string) string {
	name := string(kind) + "\x00" + strings.Join(transactionIDs, "\x00")
	return uuid.NewSHA1(actionNamespace, []byte(name)).String()
}

func unresolvedReason(e *notification.Event) UnresolvedReason {
	if e.View().Action.Known() {
		return NoEventFound
	}
	return NotYetImplemented
}

// ReloadRules replaces the rule table with the enabled rules from the
// source, or the defaults when the source has none.
func (r *Resolver) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	if err := r.applyJitter(ctx, len(skipJitter) > 0 && skipJitter[0]); err != nil {
		return err
	}

	rules, err := r.repo.ActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		r.logger.DebugwCtx(ctx, "No action rules configured, using defaults")
		rules = DefaultRules()
	}

	if err := r.setRules(rules); err != nil {
		return err
	}

	r.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(rules),
	)
	return nil
}

func (r *Resolver) applyJitter(ctx context.Context, skip bool) error {
	if skip || r.cfg.Reload.JitterMaxMilliseconds <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(r.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setRules validates and compiles every rule before swapping the table, so a
// bad rule never replaces a working table.
func (r *Resolver) setRules(rules []Rule) error {
	sorted := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := ValidateRule(r.evaluator, rule); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if _, err := r.evaluator.CompileExpression(rule.Expression); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		sorted = append(sorted, rule)
	}
	SortRules(sorted)

	r.rulesMu.Lock()
	r.rules = sorted
	r.rulesMu.Unlock()

	exprs := make([]string, len(sorted))
	for i, rule := range sorted {
		exprs[i] = rule.Expression
	}
	r.evaluator.Retain(exprs...)

	metrics.SetResolverActiveRules(len(sorted))
	return nil
}

// SortRules orders rules for evaluation: priority, then wider windows, then name.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		if rules[i].Size != rules[j].Size {
			return rules[i].Size > rules[j].Size
		}
		return rules[i].Name < rules[j].Name
	})
}

func (r *Resolver) StartReloader(ctx context.Context) error {
	interval := time.Duration(r.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := r.ReloadRules(ctx, true); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to reload rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := r.ReloadRules(ctx); err != nil {
				r.logger.ErrorwCtx(ctx, "Failed to reload rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
