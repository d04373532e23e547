package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector width used by NewHashEmbedder.
const DefaultHashDimensions = 4096

// stopwords carry no meaning for memory similarity.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "am": true,
	"was": true, "be": true, "i": true, "me": true, "my": true, "to": true,
	"of": true, "and": true, "or": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "it": true, "this": true, "that": true,
	"do": true, "does": true, "what": true, "s": true,
}

// HashEmbedder is a local, deterministic bag-of-words embedder. Each token is
// hashed with FNV-1a into one of Dimensions buckets and the term-frequency
// vector is L2-normalized, so the dot product of two embeddings is the cosine
// similarity of their token counts.
//
// It needs no network and is the default embedder of the in-process index.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder of the given width. Non-positive
// widths use DefaultHashDimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the normalized hashed term-frequency vector of text. Text
// without meaningful tokens yields the zero vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding width.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// GetModel identifies the embedder.
func (e *HashEmbedder) GetModel() string {
	return "hash-bow"
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or a digit, dropping stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// IsZeroVector reports whether every component of vec is zero.
func IsZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// normalize scales vec to unit length in place. The zero vector is returned
// unchanged.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when either
// is the zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Compile-time assertion.
var _ EmbeddingGenerator = (*HashEmbedder)(nil)
