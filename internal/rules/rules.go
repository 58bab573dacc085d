// Package rules implements the procedural rule engine that forms Stage 1
// of the classifier pipeline (spec §4.5). Each ProceduralRule carries a
// boolean condition expressed in the expr-lang expression language — the
// spec's abstract operator set {equals, contains, matches_regex, in_set,
// and, or, not} maps directly onto expr-lang's `==`, `contains(...)`,
// `matches`, `in`, `&&`, `||`, `!`. Conditions are pure: the same input
// always evaluates to the same result, since expr-lang expressions have
// no side effects and the engine never mutates Env between calls.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/crjfisher/bergamot/pkg/models"
)

// Env is the evaluation environment a condition is run against — the
// field set spec §3 names for ProceduralRule.condition.
type Env struct {
	URL            URLEnv `expr:"url"`
	Title          string `expr:"title"`
	ContentFirst2k string `expr:"content_first_2k"`
	TabGroupSize   int    `expr:"tab_group_size"`
}

// URLEnv exposes the parsed components of the visited URL.
type URLEnv struct {
	Host  string `expr:"host"`
	Path  string `expr:"path"`
	Query string `expr:"query"`
}

// Engine evaluates ProceduralRules in descending priority order and
// caches compiled expr-lang programs so repeated evaluation of the same
// rule set does not re-parse conditions.
type Engine struct {
	mu       sync.Mutex
	programs map[string]*vm.Program // keyed by rule ID
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{programs: make(map[string]*vm.Program)}
}

// Outcome is what Stage 1 produces for a single visit (spec §4.5).
type Outcome struct {
	// Terminal is true when a rule fired always_process or never_process;
	// the pipeline returns a decision built from these values directly,
	// without running the LM, episodic, or arbitration stages.
	Terminal      bool
	ShouldProcess bool

	// PreferType and HasBoost carry priors for Stage 4 arbitration.
	HasPreferType bool
	PreferType    models.Classification
	HasBoost      bool
	ConfidenceBoost float64

	// MatchedRuleID is set whenever any rule matched, terminal or not: the
	// terminal rule's ID on a terminal outcome, otherwise the first
	// (highest-priority) matching rule's ID; empty when nothing matched.
	MatchedRuleID string
}

// Evaluate runs rules, highest priority first, applying each matching
// rule's action per spec §4.5 Stage 1. Evaluation stops at the first
// always_process/never_process match; prefer_type and boost_confidence
// accumulate across every rule that matches before a terminal action (or
// before the rule list is exhausted).
func (e *Engine) Evaluate(rules []models.ProceduralRule, in models.ClassifierInput) (Outcome, error) {
	ordered := make([]models.ProceduralRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	env := toEnv(in)
	var out Outcome

	for _, rule := range ordered {
		matched, err := e.eval(rule, env)
		if err != nil {
			return Outcome{}, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
		}
		if !matched {
			continue
		}

		switch rule.Action.Kind {
		case models.ActionAlwaysProcess:
			return Outcome{Terminal: true, ShouldProcess: true, MatchedRuleID: rule.ID}, nil
		case models.ActionNeverProcess:
			return Outcome{Terminal: true, ShouldProcess: false, MatchedRuleID: rule.ID}, nil
		case models.ActionPreferType:
			if !out.HasPreferType {
				out.HasPreferType = true
				out.PreferType = rule.Action.PreferType
			}
		case models.ActionBoostConfidence:
			out.HasBoost = true
			out.ConfidenceBoost += rule.Action.ConfidenceBoost
		}
		if out.MatchedRuleID == "" {
			out.MatchedRuleID = rule.ID
		}
	}

	return out, nil
}

func (e *Engine) eval(rule models.ProceduralRule, env Env) (bool, error) {
	program, err := e.compile(rule)
	if err != nil {
		return false, err
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run condition: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", rule.Condition)
	}
	return matched, nil
}

func (e *Engine) compile(rule models.ProceduralRule) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[rule.ID]; ok {
		return p, nil
	}

	program, err := expr.Compile(rule.Condition, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", rule.Condition, err)
	}
	e.programs[rule.ID] = program
	return program, nil
}

// InvalidateCache drops a compiled program, forcing recompilation the
// next time the rule with this ID is evaluated — used after a rule's
// condition is edited in place.
func (e *Engine) InvalidateCache(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.programs, ruleID)
}

func toEnv(in models.ClassifierInput) Env {
	u := parseURLEnv(in.URL)
	return Env{
		URL:            u,
		Title:          in.Title,
		ContentFirst2k: in.ContentFirst2k,
		TabGroupSize:   in.TabGroupSize,
	}
}
