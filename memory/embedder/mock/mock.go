package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/becomeliminal/mcp-memory/memory"
)

// stopWords carry no topical signal and are skipped.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "what": true, "with": true,
}

// MockEmbedder is a deterministic embedder for tests and demos.
//
// Each content word maps to a fixed pseudo-random unit vector derived from
// its hash; a text embeds as the normalized sum of its words. Texts that
// share words therefore score higher under cosine similarity than texts
// that do not, which is enough to exercise ranking without a model.
type MockEmbedder struct {
	dimensions int
}

// New creates a mock embedder with 384 dimensions.
func New() *MockEmbedder {
	return NewWithDimensions(384) // Match all-MiniLM-L6-v2 dimensions
}

// NewWithDimensions creates a mock embedder with the given vector size.
func NewWithDimensions(dims int) *MockEmbedder {
	return &MockEmbedder{dimensions: dims}
}

// EmbedDocuments embeds each text independently.
func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.embed(text)
	}
	return out, nil
}

// EmbedQuery embeds a query exactly like a document.
func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.embed(text), nil
}

// VectorSize returns the embedding size.
func (m *MockEmbedder) VectorSize() int {
	return m.dimensions
}

// Distance returns memory.Cosine.
func (m *MockEmbedder) Distance() memory.Distance {
	return memory.Cosine
}

func (m *MockEmbedder) embed(text string) []float32 {
	embedding := make([]float32, m.dimensions)
	words := tokenize(text)
	if len(words) == 0 {
		// Keep empty input well-defined: hash the raw text instead.
		words = []string{text}
	}
	for _, word := range words {
		addWordVector(embedding, word)
	}
	return normalize(embedding)
}

// addWordVector adds the word's pseudo-random vector to dst.
func addWordVector(dst []float32, word string) {
	h := fnv.New64a()
	h.Write([]byte(word))
	seed := h.Sum64()

	for i := range dst {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		dst[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
