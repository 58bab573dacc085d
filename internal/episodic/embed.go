package episodic

import (
	"hash/fnv"
	"math"
)

// Dimensions is the fixed size of the URL-derived embeddings this
// package produces. Spec §4.5 Stage 3 calls for "a URL-derived
// embedding" without specifying a model — there is no language model in
// the loop at this stage, so corrections are compared using a
// deterministic feature-hashing embedding over character trigrams, the
// same hashing-trick technique used where no ML embedding model is
// wired (see DESIGN.md).
const Dimensions = 64

// EmbedURL produces a deterministic, fixed-dimension embedding of a URL
// by hashing its character trigrams into buckets. Identical URLs always
// produce identical vectors; near-identical URLs (same host/path
// prefix) produce vectors with high cosine similarity because they
// share most of their trigrams.
func EmbedURL(url string) []float32 {
	v := make([]float32, Dimensions)
	if len(url) == 0 {
		return v
	}

	runes := []rune(url)
	n := len(runes)
	for i := 0; i < n; i++ {
		end := i + 3
		if end > n {
			end = n
		}
		gram := string(runes[i:end])

		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		bucket := h.Sum32() % uint32(Dimensions)

		sign := float32(1)
		if (h.Sum32()>>8)%2 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}

	normalize(v)
	return v
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= norm
	}
}
