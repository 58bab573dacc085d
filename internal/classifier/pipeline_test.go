package classifier_test

import (
	"context"
	"testing"

	"github.com/crjfisher/bergamot/internal/classifier"
	"github.com/crjfisher/bergamot/internal/episodic"
	"github.com/crjfisher/bergamot/internal/rules"
	"github.com/crjfisher/bergamot/pkg/models"
)

type fakeLM struct {
	resp models.LMResponse
	err  error
}

func (f *fakeLM) Classify(ctx context.Context, in models.ClassifierInput) (models.LMResponse, error) {
	return f.resp, f.err
}

type fakeEpisodic struct {
	corrections []models.EpisodicCorrection
}

func (f *fakeEpisodic) ListCorrections(ctx context.Context) ([]models.EpisodicCorrection, error) {
	return f.corrections, nil
}
func (f *fakeEpisodic) AddCorrection(ctx context.Context, c models.EpisodicCorrection) error {
	f.corrections = append(f.corrections, c)
	return nil
}

func defaultCfg() classifier.Config {
	return classifier.Config{
		AllowedTypes:               []models.Classification{models.ClassKnowledge},
		MinConfidence:              0.5,
		EpisodicK:                  5,
		EpisodicAgreementThreshold: 3,
	}
}

// Scenario 4 (spec §8): a terminal never_process rule overrides the LM
// entirely and is never consulted.
func TestPipeline_RuleOverride(t *testing.T) {
	lmClient := &fakeLM{resp: models.LMResponse{PageType: models.ClassKnowledge, Confidence: 0.95, ShouldProcess: true}}
	rs := []models.ProceduralRule{
		{ID: "block", Priority: 100, Condition: `url.host == "blocked.example"`, Action: models.RuleAction{Kind: models.ActionNeverProcess}},
	}
	p := classifier.New(rules.NewEngine(), lmClient, &fakeEpisodic{}, defaultCfg())

	decision, err := p.Classify(context.Background(), rs, models.ClassifierInput{URL: "https://blocked.example/x"}, "https://blocked.example/x")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision.ShouldProcess {
		t.Errorf("decision = %+v, want should_process=false from rule", decision)
	}
	if decision.Reasoning != "rule" {
		t.Errorf("Reasoning = %q, want %q", decision.Reasoning, "rule")
	}
}

// Scenario 5 (spec §8): episodic corrections override a low-confidence
// LM classification when enough neighbors agree.
func TestPipeline_EpisodicOverride(t *testing.T) {
	url := "https://news.example/article/42"
	embedding := episodic.EmbedURL(url)

	corrections := make([]models.EpisodicCorrection, 0, 5)
	for i := 0; i < 5; i++ {
		corrections = append(corrections, models.EpisodicCorrection{
			ID:                      "c" + string(rune('0'+i)),
			CorrectedClassification: models.ClassLeisure,
			Embedding:               embedding,
		})
	}

	lmClient := &fakeLM{resp: models.LMResponse{PageType: models.ClassKnowledge, Confidence: 0.6, ShouldProcess: true, Reasoning: "lm guess"}}
	cfg := defaultCfg()
	cfg.AllowedTypes = []models.Classification{models.ClassKnowledge, models.ClassLeisure}

	p := classifier.New(rules.NewEngine(), lmClient, &fakeEpisodic{corrections: corrections}, cfg)

	decision, err := p.Classify(context.Background(), nil, models.ClassifierInput{URL: url}, url)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision.PageType != models.ClassLeisure {
		t.Errorf("PageType = %v, want overridden to leisure", decision.PageType)
	}
	if decision.Reasoning != "episodic_override" {
		t.Errorf("Reasoning = %q, want episodic_override", decision.Reasoning)
	}
}

func TestPipeline_LMFailureDefaultsToNotProcessed(t *testing.T) {
	lmClient := &fakeLM{err: errTimeout{}}
	p := classifier.New(rules.NewEngine(), lmClient, &fakeEpisodic{}, defaultCfg())

	decision, err := p.Classify(context.Background(), nil, models.ClassifierInput{URL: "https://x.example"}, "https://x.example")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision.ShouldProcess || decision.Reasoning != "lm_fail" {
		t.Errorf("decision = %+v, want lm_fail default", decision)
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }
