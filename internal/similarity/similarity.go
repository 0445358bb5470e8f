// Package similarity provides the two primitive similarity measures the
// engine ranks with (token Jaccard and cosine on unit vectors) and the
// fixed-weight score combiner used by search.
package similarity

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Ranking combiner weights. These are configuration constants shared by
// every ranking site; do not fork per-component copies.
const (
	WeightSemantic  = 0.50
	WeightKeyword   = 0.20
	WeightEntity    = 0.15
	WeightRecency   = 0.10
	WeightFrequency = 0.05
)

// Scores carries the raw sub-scores for one candidate, each in [0, 1].
type Scores struct {
	Semantic  float64
	Keyword   float64
	Entity    float64
	Recency   float64
	Frequency float64
}

// Combine folds sub-scores into the final ranking score.
func Combine(s Scores) float64 {
	return WeightSemantic*s.Semantic +
		WeightKeyword*s.Keyword +
		WeightEntity*s.Entity +
		WeightRecency*s.Recency +
		WeightFrequency*s.Frequency
}

// Jaccard computes token-set overlap between two strings: lowercase,
// split on non-letter/digit runs, |A∩B| / |A∪B|. Returns 0 when both
// token sets are empty.
func Jaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Cosine returns the dot product of two unit vectors clamped to [-1, 1].
// Both inputs must already be L2-normalized; mismatched lengths or empty
// vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return dot
}

// Unit maps a cosine in [-1, 1] affinely onto [0, 1] for use as a mix
// weight.
func Unit(cos float64) float64 {
	return (cos + 1) / 2
}

// Normalize scales v to unit L2 length in place. Zero vectors are left
// untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// Recency maps an age to the raw recency sub-score:
// max(0, (7 - ageDays) / 7). Combine applies the weight.
func Recency(age time.Duration) float64 {
	days := age.Hours() / 24
	raw := (7 - days) / 7
	if raw < 0 {
		raw = 0
	}
	return raw
}

// Frequency maps an access count to the raw frequency sub-score:
// min(1, access/10). Combine applies the weight.
func Frequency(access int) float64 {
	raw := float64(access) / 10
	if raw > 1 {
		raw = 1
	}
	return raw
}

// EntityOverlap maps the number of shared entities to the raw entity
// sub-score: min(1, overlap * 0.2).
func EntityOverlap(overlap int) float64 {
	raw := float64(overlap) * 0.2
	if raw > 1 {
		raw = 1
	}
	return raw
}

// Ranked pairs an identity with its combined score and the tie-break
// fields search ordering depends on.
type Ranked struct {
	ID        string
	Score     float64
	CreatedAt time.Time
}

// SortRanked orders by score descending, then newer CreatedAt, then
// lexical ID. Deterministic for equal inputs.
func SortRanked(items []Ranked) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
