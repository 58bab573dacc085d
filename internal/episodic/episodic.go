// Package episodic implements Stage 3 of the classifier pipeline (spec
// §4.5): adjusting a language-model classification against the k nearest
// prior corrections by cosine similarity of a URL-derived embedding.
package episodic

import (
	"context"
	"math"
	"sort"

	"github.com/crjfisher/bergamot/pkg/models"
)

// Store is the read/write surface over persisted EpisodicCorrections
// that this package needs. The structured store satisfies it.
type Store interface {
	ListCorrections(ctx context.Context) ([]models.EpisodicCorrection, error)
	AddCorrection(ctx context.Context, c models.EpisodicCorrection) error
}

type neighbor struct {
	correction models.EpisodicCorrection
	similarity float64
}

// Nearest returns the k corrections in all whose embeddings are closest
// to query by cosine similarity, descending.
func Nearest(all []models.EpisodicCorrection, query []float32, k int) []neighbor {
	neighbors := make([]neighbor, 0, len(all))
	for _, c := range all {
		if len(c.Embedding) == 0 {
			continue
		}
		neighbors = append(neighbors, neighbor{correction: c, similarity: cosineSimilarity(query, c.Embedding)})
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].similarity > neighbors[j].similarity })
	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// Adjust applies Stage 3 to a copy of a Stage 2 decision and returns
// that copy. agreementThreshold is the minimum number of the k neighbors
// that must agree on the same corrected_classification, different from
// decision.PageType, to trigger an override (spec default 3-of-5).
//
// When no override fires, confidence is nudged by the neighbors' mean
// agreement signal (+1 where a neighbor's correction matches the current
// page_type, -1 otherwise) scaled by 0.2 and clamped to [0, 1]. The spec
// names "their confidences" as the override's post-override value but an
// EpisodicCorrection carries no stored confidence of its own; each
// neighbor's cosine similarity score stands in for it (see DESIGN.md).
func Adjust(decision models.ClassifierDecision, neighbors []neighbor, agreementThreshold int) models.ClassifierDecision {
	if len(neighbors) == 0 {
		return decision
	}

	votes := make(map[models.Classification]int)
	for _, n := range neighbors {
		votes[n.correction.CorrectedClassification]++
	}

	var winner models.Classification
	var winnerCount int
	for c, count := range votes {
		if count > winnerCount {
			winner, winnerCount = c, count
		}
	}

	if winnerCount >= agreementThreshold && winner != decision.PageType {
		var simSum float64
		var simCount int
		for _, n := range neighbors {
			if n.correction.CorrectedClassification == winner {
				simSum += n.similarity
				simCount++
			}
		}
		meanSim := 0.0
		if simCount > 0 {
			meanSim = simSum / float64(simCount)
		}
		decision.PageType = winner
		decision.Confidence = clamp01(meanSim + 0.1)
		decision.Reasoning = "episodic_override"
		return decision
	}

	var signalSum float64
	for _, n := range neighbors {
		if n.correction.CorrectedClassification == decision.PageType {
			signalSum++
		} else {
			signalSum--
		}
	}
	meanSignal := signalSum / float64(len(neighbors))
	decision.Confidence = clamp01(decision.Confidence + meanSignal*0.2)
	return decision
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

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
