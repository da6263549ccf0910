package encoding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/agentdex/internal/domain"
)

// Kind is the classification of a stored embedding representation.
type Kind string

// Representation kinds, one per stored shape the corpus has accumulated.
const (
	KindMissing           Kind = "missing"
	KindCanonical         Kind = "canonical"
	KindLegacyArrayText   Kind = "legacy_array_text"
	KindLegacyLiteralText Kind = "legacy_literal_text"
	KindCorrupt           Kind = "corrupt"
)

// Representation is a classified stored embedding. For canonical and legacy
// kinds it carries the parsed vector; for corrupt it carries the raw value
// and a human-readable reason.
type Representation struct {
	kind   Kind
	vector []float32
	raw    string
	reason string
}

// Kind returns the classification.
func (r Representation) Kind() Kind { return r.kind }

// Raw returns the raw text value, when the stored value was text.
func (r Representation) Raw() string { return r.raw }

// Reason returns why a corrupt value failed classification.
func (r Representation) Reason() string { return r.reason }

// Dimension returns the parsed vector dimension and whether one is known.
func (r Representation) Dimension() (int, bool) {
	if r.vector == nil {
		return 0, false
	}
	return len(r.vector), true
}

// Classify inspects a stored value and tags its representation.
// dim is the index dimension D; a parsable value of any other dimension is
// corrupt, never truncated or padded.
func Classify(stored Stored, dim int) Representation {
	if stored.IsNull() {
		return Representation{kind: KindMissing}
	}

	if v, ok := stored.Vector(); ok {
		if len(v) != dim {
			return Representation{
				kind:   KindCorrupt,
				vector: v,
				reason: dimReason(dim, len(v)),
			}
		}
		return Representation{kind: KindCanonical, vector: v}
	}

	raw, _ := stored.Text()
	text := strings.TrimSpace(raw)
	if text == "" {
		return Representation{kind: KindMissing}
	}

	if v, ok := parseJSONArray(text); ok {
		if len(v) != dim {
			return Representation{kind: KindCorrupt, raw: raw, vector: v, reason: dimReason(dim, len(v))}
		}
		return Representation{kind: KindLegacyArrayText, raw: raw, vector: v}
	}

	if v, ok := parseLiteral(text); ok {
		if len(v) != dim {
			return Representation{kind: KindCorrupt, raw: raw, vector: v, reason: dimReason(dim, len(v))}
		}
		return Representation{kind: KindLegacyLiteralText, raw: raw, vector: v}
	}

	return Representation{kind: KindCorrupt, raw: raw, reason: "unparseable embedding value"}
}

// Normalize converts a classified representation into a canonical vector.
// Canonical input is returned unchanged, so normalization is idempotent and
// triggers no write. Missing and corrupt representations fail; the caller
// decides whether to log and skip.
func Normalize(rep Representation) ([]float32, error) {
	switch rep.kind {
	case KindCanonical, KindLegacyArrayText, KindLegacyLiteralText:
		return rep.vector, nil
	case KindMissing:
		return nil, fmt.Errorf("no embedding stored: %w", domain.ErrFormat)
	case KindCorrupt:
		return nil, fmt.Errorf("%s: %w", rep.reason, domain.ErrFormat)
	default:
		return nil, fmt.Errorf("unknown representation %q: %w", rep.kind, domain.ErrFormat)
	}
}

func dimReason(want, got int) string {
	return fmt.Sprintf("expected %d dims, got %d", want, got)
}

// parseJSONArray parses a JSON-style bracketed numeric array.
func parseJSONArray(text string) ([]float32, bool) {
	if !strings.HasPrefix(text, "[") {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}

// literal delimiters accepted for serialized list/set/tuple dumps.
var literalDelims = [][2]string{
	{"{", "}"},
	{"(", ")"},
	{"[", "]"},
}

// parseLiteral parses a serialized list-like literal that is not valid JSON,
// e.g. "{0.1, 0.2}", "(0.1, 0.2)", or "['0.1', '0.2']".
func parseLiteral(text string) ([]float32, bool) {
	var inner string
	matched := false
	for _, d := range literalDelims {
		if strings.HasPrefix(text, d[0]) && strings.HasSuffix(text, d[1]) {
			inner = text[len(d[0]) : len(text)-len(d[1])]
			matched = true
			break
		}
	}
	if !matched {
		return nil, false
	}

	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, false
	}

	parts := strings.Split(inner, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `'"`)
		if p == "" {
			return nil, false
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, false
		}
		v = append(v, float32(f))
	}
	return v, true
}
