package memory

import (
	"context"
	"fmt"
	"strings"
)

// Payload keys used by every Store implementation.
const (
	PayloadDocument = "document"
	PayloadMetadata = "metadata"
)

// Distance identifies the similarity function a collection ranks with.
type Distance int

const (
	// Cosine ranks by cosine similarity (higher is better).
	Cosine Distance = iota
	// Euclidean ranks by L2 distance (lower distance ranks first).
	Euclidean
	// Dot ranks by raw dot product (higher is better).
	Dot
)

// String returns the canonical lowercase name of the distance.
func (d Distance) String() string {
	switch d {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case Dot:
		return "dot"
	default:
		return fmt.Sprintf("distance(%d)", int(d))
	}
}

// MarshalYAML encodes the distance by name.
func (d Distance) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML decodes a distance name.
func (d *Distance) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDistance(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDistance parses a distance name. It accepts the names used by
// common vector databases ("euclid", "l2", "dotproduct").
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return Cosine, nil
	case "euclidean", "euclid", "l2":
		return Euclidean, nil
	case "dot", "dotproduct", "dot_product":
		return Dot, nil
	default:
		return 0, fmt.Errorf("unknown distance %q", s)
	}
}

// CollectionParams are the immutable vector settings of a collection.
type CollectionParams struct {
	VectorSize int      `yaml:"vector_size"`
	Distance   Distance `yaml:"distance"`
}

func (p CollectionParams) String() string {
	return fmt.Sprintf("size=%d distance=%s", p.VectorSize, p.Distance)
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name        string           `json:"name"`
	Params      CollectionParams `json:"params"`
	PointsCount uint64           `json:"points_count"`
}

// Point is a single vector with its payload, as written to a Store.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit. The vector is never returned.
// Score is the backend's similarity score; for Scroll results it is zero.
type ScoredPoint struct {
	ID      string
	Payload Payload
	Score   float32
}

// Embedder converts text to vector embeddings.
//
// Implementations may embed queries differently from documents (prefixes,
// instruction templates). The Connector always uses EmbedDocuments for
// stored content and EmbedQuery for search input.
//
//go:generate mockgen -source=memory.go -destination=mocks/memory.go -package=mocks
type Embedder interface {
	// EmbedDocuments embeds texts in order, one vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// VectorSize returns the fixed embedding size.
	VectorSize() int

	// Distance returns the metric the model was trained for.
	Distance() Distance
}

// Store is the vector database adapter.
// Implementations: chromem (local path or in-memory), qdrant (remote).
//
// All methods fail fast: no internal retry.
type Store interface {
	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates the collection. Calling it for an existing
	// collection with identical params succeeds; with different params it
	// returns *DimensionMismatchError.
	CreateCollection(ctx context.Context, name string, params CollectionParams) error

	// Upsert writes points into the collection.
	Upsert(ctx context.Context, name string, points ...Point) error

	// Search returns at most limit points ordered best-first.
	// A missing or empty collection yields an empty result.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredPoint, error)

	// Scroll returns at most limit points whose metadata equals every
	// key/value in filter. Order is unspecified.
	Scroll(ctx context.Context, name string, filter Metadata, limit int) ([]ScoredPoint, error)

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CollectionInfo describes a collection, or returns ErrCollectionNotFound.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// Close releases resources.
	Close() error
}
