package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "dashboard uses next.js", b: "dashboard uses next.js", want: 1},
		{name: "disjoint", a: "alpha beta", b: "gamma delta", want: 0},
		{name: "both empty", a: "", b: "", want: 0},
		{name: "one empty", a: "alpha", b: "", want: 0},
		{name: "case insensitive", a: "Dark Mode", b: "dark mode", want: 1},
		{name: "punctuation ignored", a: "next.js, 14!", b: "next js 14", want: 1},
		{name: "partial overlap", a: "user prefers dark mode", b: "user prefers light mode", want: 3.0 / 5.0},
		{name: "duplicate tokens count once", a: "go go go", b: "go", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestJaccardUnicode(t *testing.T) {
	// Unicode letters tokenize on word boundaries, not bytes.
	got := Jaccard("café rendezvous", "café meeting")
	assert.InDelta(t, 1.0/3.0, got, 1e-9)
}

func TestCosine(t *testing.T) {
	t.Run("identical unit vectors", func(t *testing.T) {
		v := []float32{1, 0, 0}
		assert.InDelta(t, 1, Cosine(v, v), 1e-6)
	})

	t.Run("orthogonal", func(t *testing.T) {
		assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	})

	t.Run("opposite", func(t *testing.T) {
		assert.InDelta(t, -1, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	})

	t.Run("length mismatch scores zero", func(t *testing.T) {
		assert.Zero(t, Cosine([]float32{1, 0}, []float32{1}))
	})

	t.Run("empty scores zero", func(t *testing.T) {
		assert.Zero(t, Cosine(nil, nil))
	})

	t.Run("clamped against float drift", func(t *testing.T) {
		v := make([]float32, 128)
		for i := range v {
			v[i] = 0.7
		}
		Normalize(v)
		got := Cosine(v, v)
		assert.LessOrEqual(t, got, 1.0)
		assert.InDelta(t, 1, got, 1e-5)
	})
}

func TestUnit(t *testing.T) {
	assert.InDelta(t, 1, Unit(1), 1e-9)
	assert.InDelta(t, 0.5, Unit(0), 1e-9)
	assert.InDelta(t, 0, Unit(-1), 1e-9)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	// Zero vectors stay untouched rather than dividing by zero.
	z := []float32{0, 0}
	Normalize(z)
	assert.Equal(t, []float32{0, 0}, z)
}

func TestCombineWeights(t *testing.T) {
	// Weights must sum to 1 so a perfect candidate scores exactly 1.
	sum := WeightSemantic + WeightKeyword + WeightEntity + WeightRecency + WeightFrequency
	require.InDelta(t, 1.0, sum, 1e-9)

	perfect := Scores{Semantic: 1, Keyword: 1, Entity: 1, Recency: 1, Frequency: 1}
	assert.InDelta(t, 1.0, Combine(perfect), 1e-9)

	semanticOnly := Scores{Semantic: 1}
	assert.InDelta(t, 0.50, Combine(semanticOnly), 1e-9)
}

func TestRecency(t *testing.T) {
	assert.InDelta(t, 1.0, Recency(0), 1e-9)
	assert.InDelta(t, 0.5, Recency(84*time.Hour), 1e-9) // 3.5 days
	assert.Zero(t, Recency(8*24*time.Hour))
	assert.Zero(t, Recency(30*24*time.Hour))
}

func TestFrequency(t *testing.T) {
	assert.Zero(t, Frequency(0))
	assert.InDelta(t, 0.5, Frequency(5), 1e-9)
	assert.InDelta(t, 1.0, Frequency(10), 1e-9)
	assert.InDelta(t, 1.0, Frequency(100), 1e-9)
}

func TestEntityOverlap(t *testing.T) {
	assert.Zero(t, EntityOverlap(0))
	assert.InDelta(t, 0.4, EntityOverlap(2), 1e-9)
	assert.InDelta(t, 1.0, EntityOverlap(5), 1e-9)
	assert.InDelta(t, 1.0, EntityOverlap(9), 1e-9)
}

func TestSortRanked(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []Ranked{
		{ID: "c", Score: 0.5, CreatedAt: base},
		{ID: "a", Score: 0.9, CreatedAt: base},
		{ID: "b", Score: 0.5, CreatedAt: base.Add(time.Hour)},
		{ID: "d", Score: 0.5, CreatedAt: base},
	}

	SortRanked(items)

	// Highest score first; ties broken by newer CreatedAt, then ID.
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "b", items[1].ID)
	require.Equal(t, "c", items[2].ID)
	require.Equal(t, "d", items[3].ID)
}
