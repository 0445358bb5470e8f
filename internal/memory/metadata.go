package memory

// Metadata is a JSON-compatible bag attached to every memory. Values
// survive a JSON round trip through the cache, so accessors normalize
// both freshly-set Go values and their decoded forms ([]any,
// map[string]any, float64).
type Metadata map[string]any

// Well-known metadata keys.
const (
	MetaPriority         = "priority"
	MetaSource           = "source"
	MetaTags             = "tags"
	MetaAccessCount      = "accessCount"
	MetaEntities         = "entities"
	MetaRelationships    = "relationships"
	MetaKeywords         = "keywords"
	MetaEmbeddingVersion = "embeddingVersion"
	MetaScrubbed         = "scrubbed"
)

// Values recorded under MetaSource, telling callers which layer served
// a record.
const (
	SourceCache  = "cache"
	SourceRemote = "remote"
)

// Relation is one extracted (subject, predicate, object) triple.
type Relation struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Clone returns a shallow copy with its own top-level map. Slice values
// are copied; nested maps are shared (metadata is treated as immutable
// below the first level).
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		case []Relation:
			out[k] = append([]Relation(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// Priority reads the priority key, defaulting to PriorityNormal.
func (md Metadata) Priority() Priority {
	if p, err := ParsePriority(md.str(MetaPriority)); err == nil {
		return p
	}
	return PriorityNormal
}

// SetPriority stores the priority key.
func (md Metadata) SetPriority(p Priority) { md[MetaPriority] = string(p) }

// Source reports where a returned record was served from ("cache",
// "remote", "vector_index", ...). Informational only.
func (md Metadata) Source() string { return md.str(MetaSource) }

// SetSource stores the source key.
func (md Metadata) SetSource(s string) { md[MetaSource] = s }

// Tags returns the tags list, nil when absent.
func (md Metadata) Tags() []string { return md.strings(MetaTags) }

// AccessCount returns the recorded access counter.
func (md Metadata) AccessCount() int { return md.integer(MetaAccessCount) }

// SetAccessCount stores the access counter.
func (md Metadata) SetAccessCount(n int) { md[MetaAccessCount] = n }

// Entities returns extracted entity names, nil when unenriched.
func (md Metadata) Entities() []string { return md.strings(MetaEntities) }

// SetEntities stores extracted entity names.
func (md Metadata) SetEntities(es []string) { md[MetaEntities] = es }

// Keywords returns extracted keywords, nil when unenriched.
func (md Metadata) Keywords() []string { return md.strings(MetaKeywords) }

// SetKeywords stores extracted keywords.
func (md Metadata) SetKeywords(ks []string) { md[MetaKeywords] = ks }

// Relations returns extracted relationship triples, tolerating the
// decoded []any/map[string]any shape.
func (md Metadata) Relations() []Relation {
	switch v := md[MetaRelationships].(type) {
	case []Relation:
		return v
	case []any:
		out := make([]Relation, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r := Relation{
				Subject:   asString(m["subject"]),
				Predicate: asString(m["predicate"]),
				Object:    asString(m["object"]),
			}
			if r.Subject != "" && r.Object != "" {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

// SetRelations stores relationship triples.
func (md Metadata) SetRelations(rs []Relation) { md[MetaRelationships] = rs }

// EmbeddingVersion returns the embedding model version recorded at
// enrichment time, 0 when never embedded.
func (md Metadata) EmbeddingVersion() int { return md.integer(MetaEmbeddingVersion) }

// SetEmbeddingVersion records the embedding model version.
func (md Metadata) SetEmbeddingVersion(v int) { md[MetaEmbeddingVersion] = v }

// Scrubbed reports whether secret scrubbing redacted this content.
func (md Metadata) Scrubbed() bool {
	b, _ := md[MetaScrubbed].(bool)
	return b
}

// SetScrubbed marks the record as redacted.
func (md Metadata) SetScrubbed() { md[MetaScrubbed] = true }

func (md Metadata) str(key string) string {
	return asString(md[key])
}

func (md Metadata) integer(key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	default:
		return 0
	}
}

func (md Metadata) strings(key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
