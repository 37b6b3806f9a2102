package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs boolean expressions over a window of
// enrollment events. Each event is exposed as a map of derived facts under
// the list variable `events`; `size` holds the number of events in the window.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("events", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	// Event facts are dyn, so a bare fact is only checked at evaluation time.
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return fmt.Errorf("rule expression must return bool, got %v", out)
	}

	return nil
}

// CompileExpression returns a cached program for expression.
func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	if err := e.ValidateExpression(expression); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Retain drops every cached program whose expression is not listed, so the
// cache only holds the rule table in use.
func (e *Evaluator) Retain(expressions ...string) {
	keep := make(map[string]struct{}, len(expressions))
	for _, expr := range expressions {
		keep[expr] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for expr := range e.programs {
		if _, ok := keep[expr]; !ok {
			delete(e.programs, expr)
		}
	}
}

// Cached reports how many compiled programs are held.
func (e *Evaluator) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

func (e *Evaluator) EvaluateWindow(ctx context.Context, expression string, events []map[string]interface{}) (bool, error) {
	program, err := e.CompileExpression(expression)
	if err != nil {
		return false, err
	}

	list := make([]interface{}, len(events))
	for i, ev := range events {
		list[i] = ev
	}

	vars := map[string]interface{}{
		"events": list,
		"size":   int64(len(events)),
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
