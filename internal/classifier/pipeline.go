// Package classifier orchestrates the four-stage classification pipeline
// from spec §4.5: procedural rules, language-model classification,
// episodic adjustment, and final arbitration.
package classifier

import (
	"context"

	"github.com/crjfisher/bergamot/internal/episodic"
	"github.com/crjfisher/bergamot/internal/lm"
	"github.com/crjfisher/bergamot/internal/rules"
	"github.com/crjfisher/bergamot/pkg/models"
)

// Config holds the arbitration and episodic-lookup parameters a Pipeline
// needs (a subset of internal/config.ClassifierConfig, kept separate so
// this package doesn't import the config package directly).
type Config struct {
	AllowedTypes               []models.Classification
	MinConfidence              float64
	EpisodicK                  int
	EpisodicAgreementThreshold int
}

// Pipeline runs the full four-stage classification for a single page.
type Pipeline struct {
	rules    *rules.Engine
	lm       lm.Client
	episodic episodic.Store
	cfg      Config
}

// New creates a Pipeline. lmClient and episodicStore may be nil only in
// tests that exercise the rule-terminal path, which never reaches them.
func New(rulesEngine *rules.Engine, lmClient lm.Client, episodicStore episodic.Store, cfg Config) *Pipeline {
	return &Pipeline{rules: rulesEngine, lm: lmClient, episodic: episodicStore, cfg: cfg}
}

// Classify runs proceduralRules, then (unless a rule is terminal) the LM
// classifier, episodic adjustment, and final arbitration, against in.
// url is used only to derive the episodic-lookup embedding.
func (p *Pipeline) Classify(ctx context.Context, proceduralRules []models.ProceduralRule, in models.ClassifierInput, url string) (models.ClassifierDecision, error) {
	stage1, err := p.rules.Evaluate(proceduralRules, in)
	if err != nil {
		return models.ClassifierDecision{}, err
	}

	if stage1.Terminal {
		pageType := models.ClassOther
		if stage1.ShouldProcess {
			pageType = models.ClassKnowledge
		}
		return models.ClassifierDecision{
			ShouldProcess: stage1.ShouldProcess,
			PageType:      pageType,
			Confidence:    1.0,
			Reasoning:     "rule",
		}, nil
	}

	lmResp, err := p.lm.Classify(ctx, in)
	if err != nil {
		lmResp = lm.FailDefault
	}

	decision := models.ClassifierDecision{
		ShouldProcess: lmResp.ShouldProcess,
		PageType:      lmResp.PageType,
		Confidence:    lmResp.Confidence,
		Reasoning:     lmResp.Reasoning,
	}

	decision = p.adjustEpisodic(ctx, decision, url)
	decision = p.arbitrate(decision, stage1)

	return decision, nil
}

func (p *Pipeline) adjustEpisodic(ctx context.Context, decision models.ClassifierDecision, url string) models.ClassifierDecision {
	if p.episodic == nil {
		return decision
	}
	corrections, err := p.episodic.ListCorrections(ctx)
	if err != nil || len(corrections) == 0 {
		return decision
	}

	query := episodic.EmbedURL(url)
	neighbors := episodic.Nearest(corrections, query, p.cfg.EpisodicK)
	return episodic.Adjust(decision, neighbors, p.cfg.EpisodicAgreementThreshold)
}

func (p *Pipeline) arbitrate(decision models.ClassifierDecision, stage1 rules.Outcome) models.ClassifierDecision {
	if stage1.HasPreferType && decision.Confidence < 0.5 {
		decision.PageType = stage1.PreferType
	}
	if stage1.HasBoost {
		decision.Confidence = clamp01(decision.Confidence + stage1.ConfidenceBoost)
	}

	decision.ShouldProcess = decision.Confidence >= p.cfg.MinConfidence && p.isAllowedType(decision.PageType)
	return decision
}

func (p *Pipeline) isAllowedType(t models.Classification) bool {
	for _, allowed := range p.cfg.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
