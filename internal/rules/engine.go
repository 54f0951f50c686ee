// Package rules provides the CEL-Go based segment override engine.
//
// Override rules let a tenant carve out custom segments (e.g. "VIP") ahead
// of the built-in ladder: rules are evaluated in ascending priority order
// against each scored customer and the first matching rule assigns its
// label.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
)

// Engine compiles and evaluates segment override rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*CompiledRule // sorted by ascending priority
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.SegmentRule
	Program cel.Program
}

// NewEngine creates a new segment rule engine.
func NewEngine() (*Engine, error) {
	// CEL environment exposing the scored RFM fields of one customer.
	env, err := cel.NewEnv(
		cel.Variable("r_score", cel.IntType),
		cel.Variable("f_score", cel.IntType),
		cel.Variable("m_score", cel.IntType),
		cel.Variable("rfm_score", cel.StringType),
		cel.Variable("recency", cel.IntType),
		cel.Variable("frequency", cel.IntType),
		cel.Variable("monetary_avg", cel.DoubleType),
		cel.Variable("t", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.SegmentRule) error {
	if cfg == nil {
		return fmt.Errorf("segment rule is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRules compiles and loads the enabled rules, replacing any previously
// loaded set. This enables hot-reloading from the database.
func (e *Engine) LoadRules(configs []*domain.SegmentRule) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		c, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Config.Priority < compiled[j].Config.Priority
	})

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()

	return nil
}

// Match evaluates the loaded rules against a scored customer and returns
// the label of the first rule that matches. ok is false when no rule
// matched and the built-in ladder should decide.
func (e *Engine) Match(s *domain.CustomerScore) (label string, ok bool) {
	e.mu.RLock()
	rulesSnapshot := e.compiled
	e.mu.RUnlock()

	if len(rulesSnapshot) == 0 {
		return "", false
	}

	activation := map[string]any{
		"r_score":      int64(s.RScore),
		"f_score":      int64(s.FScore),
		"m_score":      int64(s.MScore),
		"rfm_score":    s.RFMScore,
		"recency":      int64(s.Recency),
		"frequency":    int64(s.Frequency),
		"monetary_avg": s.MonetaryAvg,
		"t":            int64(s.T),
	}

	for _, rule := range rulesSnapshot {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			// A rule that fails to evaluate never matches; the ladder
			// still produces a total assignment.
			continue
		}
		if b, isBool := out.(types.Bool); isBool && bool(b) {
			return rule.Config.Label, true
		}
	}

	return "", false
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedRules returns the currently loaded rule configurations in
// priority order.
func (e *Engine) GetLoadedRules() []*domain.SegmentRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.SegmentRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.SegmentRule) (*CompiledRule, error) {
	if cfg.Label == "" {
		return nil, fmt.Errorf("segment rule %s: label is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile segment rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("segment rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for segment rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
