package rules_test

import (
	"testing"

	"github.com/crjfisher/bergamot/internal/rules"
	"github.com/crjfisher/bergamot/pkg/models"
)

func TestEvaluate_NeverProcessIsTerminal(t *testing.T) {
	e := rules.NewEngine()
	rs := []models.ProceduralRule{
		{
			ID:        "block-example",
			Priority:  100,
			Condition: `url.host == "example.com"`,
			Action:    models.RuleAction{Kind: models.ActionNeverProcess},
		},
	}

	out, err := e.Evaluate(rs, models.ClassifierInput{URL: "https://example.com/p"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !out.Terminal || out.ShouldProcess {
		t.Errorf("Evaluate() = %+v, want terminal never_process", out)
	}
	if out.MatchedRuleID != "block-example" {
		t.Errorf("MatchedRuleID = %q, want block-example", out.MatchedRuleID)
	}
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	e := rules.NewEngine()
	rs := []models.ProceduralRule{
		{ID: "low", Priority: 1, Condition: "true", Action: models.RuleAction{Kind: models.ActionAlwaysProcess}},
		{ID: "high", Priority: 100, Condition: "true", Action: models.RuleAction{Kind: models.ActionNeverProcess}},
	}

	out, err := e.Evaluate(rs, models.ClassifierInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.MatchedRuleID != "high" || out.ShouldProcess {
		t.Errorf("Evaluate() = %+v, want the higher-priority rule to win", out)
	}
}

func TestEvaluate_PreferTypeAndBoostAccumulate(t *testing.T) {
	e := rules.NewEngine()
	rs := []models.ProceduralRule{
		{
			ID:        "prefer-leisure",
			Priority:  10,
			Condition: `contains(url.host, "reddit")`,
			Action:    models.RuleAction{Kind: models.ActionPreferType, PreferType: models.ClassLeisure},
		},
		{
			ID:        "boost",
			Priority:  5,
			Condition: `tab_group_size in [2, 3, 4]`,
			Action:    models.RuleAction{Kind: models.ActionBoostConfidence, ConfidenceBoost: 0.2},
		},
	}

	out, err := e.Evaluate(rs, models.ClassifierInput{URL: "https://old.reddit.com/r/golang", TabGroupSize: 3})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Terminal {
		t.Fatalf("Evaluate() terminal = true, want non-terminal accumulation")
	}
	if !out.HasPreferType || out.PreferType != models.ClassLeisure {
		t.Errorf("PreferType = %v (has=%v), want leisure", out.PreferType, out.HasPreferType)
	}
	if !out.HasBoost || out.ConfidenceBoost != 0.2 {
		t.Errorf("ConfidenceBoost = %v (has=%v), want 0.2", out.ConfidenceBoost, out.HasBoost)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	e := rules.NewEngine()
	rs := []models.ProceduralRule{
		{ID: "r1", Priority: 1, Condition: `url.host == "nomatch.example"`, Action: models.RuleAction{Kind: models.ActionNeverProcess}},
	}
	out, err := e.Evaluate(rs, models.ClassifierInput{URL: "https://other.example/p"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Terminal || out.MatchedRuleID != "" {
		t.Errorf("Evaluate() = %+v, want no match", out)
	}
}
