package encoding

// Stored is an embedding value exactly as persisted, before classification.
// Upstream storage historically accepted loosely-typed input, so a stored
// value is either a native numeric vector, an opaque text blob, or null.
type Stored struct {
	vector    []float32
	text      string
	hasVector bool
	hasText   bool
}

// StoredNull creates a Stored for a row with no embedding.
func StoredNull() Stored { return Stored{} }

// StoredVector creates a Stored for a natively typed vector value.
func StoredVector(v []float32) Stored { return Stored{vector: v, hasVector: true} }

// StoredText creates a Stored for a text-typed value of unknown shape.
func StoredText(s string) Stored { return Stored{text: s, hasText: true} }

// IsNull reports whether no embedding is stored.
func (s Stored) IsNull() bool { return !s.hasVector && !s.hasText }

// Vector returns the native vector and whether one is present.
func (s Stored) Vector() ([]float32, bool) { return s.vector, s.hasVector }

// Text returns the raw text value and whether one is present.
func (s Stored) Text() (string, bool) { return s.text, s.hasText }
