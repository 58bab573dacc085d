// Package lm implements Stage 2 of the classifier pipeline (spec §4.5):
// a call out to a language model with a fixed prompt schema, applying
// the retry and failure-default policy from spec §7.
package lm

import (
	"context"

	"github.com/crjfisher/bergamot/pkg/models"
)

// Client classifies a single page. Implementations must be safe for
// concurrent use; the pipeline calls it from the bounded LM worker pool.
type Client interface {
	Classify(ctx context.Context, in models.ClassifierInput) (models.LMResponse, error)
}

// FailDefault is the decision substituted when the LM call itself fails
// after exhausting retries (spec §7): the page is never processed rather
// than processed on a guess.
var FailDefault = models.LMResponse{
	PageType:      models.ClassOther,
	Confidence:    0,
	Reasoning:     "lm_fail",
	ShouldProcess: false,
}

// ParseFailDefault is the decision substituted when the LM responded but
// its payload didn't parse into the expected schema.
var ParseFailDefault = models.LMResponse{
	PageType:      models.ClassOther,
	Confidence:    0,
	Reasoning:     "parse_fail",
	ShouldProcess: false,
}

// Valid reports whether resp is a well-formed classification: a known
// page type and a confidence within [0, 1].
func Valid(resp models.LMResponse) bool {
	if !models.ValidClassification(resp.PageType) {
		return false
	}
	return resp.Confidence >= 0 && resp.Confidence <= 1
}
