package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataAccessors(t *testing.T) {
	md := Metadata{}

	md.SetPriority(PriorityCritical)
	md.SetSource("cache")
	md.SetAccessCount(4)
	md.SetEntities([]string{"Next.js", "Dashboard"})
	md.SetKeywords([]string{"dashboard", "next"})
	md.SetRelations([]Relation{{Subject: "Dashboard", Predicate: "uses", Object: "Next.js"}})
	md.SetEmbeddingVersion(2)
	md.SetScrubbed()

	assert.Equal(t, PriorityCritical, md.Priority())
	assert.Equal(t, "cache", md.Source())
	assert.Equal(t, 4, md.AccessCount())
	assert.Equal(t, []string{"Next.js", "Dashboard"}, md.Entities())
	assert.Equal(t, []string{"dashboard", "next"}, md.Keywords())
	assert.Equal(t, 2, md.EmbeddingVersion())
	assert.True(t, md.Scrubbed())

	rels := md.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, "uses", rels[0].Predicate)
}

func TestMetadataDefaults(t *testing.T) {
	var md Metadata

	assert.Equal(t, PriorityNormal, md.Priority())
	assert.Empty(t, md.Source())
	assert.Zero(t, md.AccessCount())
	assert.Nil(t, md.Entities())
	assert.Nil(t, md.Relations())
	assert.False(t, md.Scrubbed())
}

// Metadata written by the engine is read back through a JSON decode, so
// every accessor must tolerate []any and float64 representations.
func TestMetadataAfterJSONRoundTrip(t *testing.T) {
	md := Metadata{}
	md.SetAccessCount(7)
	md.SetEntities([]string{"Redis", "TTL"})
	md.SetRelations([]Relation{
		{Subject: "cache", Predicate: "expires_after", Object: "24h"},
	})

	raw, err := json.Marshal(md)
	require.NoError(t, err)

	var back Metadata
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.Equal(t, 7, back.AccessCount())
	assert.Equal(t, []string{"Redis", "TTL"}, back.Entities())

	rels := back.Relations()
	require.Len(t, rels, 1)
	assert.Equal(t, Relation{Subject: "cache", Predicate: "expires_after", Object: "24h"}, rels[0])
}

func TestMetadataCloneIndependence(t *testing.T) {
	md := Metadata{MetaTags: []string{"a", "b"}}
	cp := md.Clone()

	cp[MetaTags].([]string)[0] = "mutated"
	cp[MetaSource] = "remote"

	assert.Equal(t, []string{"a", "b"}, md.Tags())
	assert.Empty(t, md.Source())
}

func TestMemoryClone(t *testing.T) {
	m := &Memory{
		ID:       "m1",
		UserID:   "u1",
		Content:  "c",
		Metadata: Metadata{MetaEntities: []string{"e1"}},
	}

	cp := m.Clone()
	cp.Metadata.SetEntities([]string{"other"})
	cp.Content = "changed"

	assert.Equal(t, "c", m.Content)
	assert.Equal(t, []string{"e1"}, m.Metadata.Entities())
}
