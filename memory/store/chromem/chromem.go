package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/mcp-memory/memory"
)

// InMemory is the location that selects a non-persistent database.
const InMemory = ":memory:"

const (
	// paramsFile records collection vector settings next to the collection
	// directories. chromem ignores plain files in its persistence root.
	paramsFile = "collections.yaml"

	// metadataKey holds the JSON-encoded metadata of a document.
	metadataKey = "metadata"
	// fieldPrefix prefixes per-key JSON values used for exact-match filters.
	fieldPrefix = "m."
)

// errNoEmbeddingFunc guards against chromem embedding content itself.
var errNoEmbeddingFunc = errors.New("documents must carry precomputed embeddings")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Store wraps chromem-go for local vector storage.
// chromem-go is a pure Go, embedded vector database that ranks by cosine
// similarity only.
type Store struct {
	db   *chromem.DB
	path string // empty when in-memory

	// mu serializes collection creation; chromem's CreateCollection
	// replaces an existing collection.
	mu     sync.Mutex
	params map[string]memory.CollectionParams

	log *log.Entry
}

// New creates an in-memory store. Contents are lost on Close.
func New() (*Store, error) {
	return &Store{
		db:     chromem.NewDB(),
		params: make(map[string]memory.CollectionParams),
		log:    log.WithField("component", "chromem"),
	}, nil
}

// Open opens (or creates) a persistent store rooted at path.
// InMemory selects New.
func Open(path string) (*Store, error) {
	if path == InMemory {
		return New()
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, memory.NewStoreUnavailableError("open", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		params: make(map[string]memory.CollectionParams),
		log:    log.WithFields(log.Fields{"component": "chromem", "path": path}),
	}
	if err := s.loadParams(); err != nil {
		return nil, memory.NewStoreUnavailableError("open", err)
	}

	s.log.WithField("collections", len(db.ListCollections())).Debug("opened local store")
	return s, nil
}

// CollectionExists reports whether the named collection exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	return s.collection(name) != nil, nil
}

// CreateCollection creates the collection. An existing collection with the
// same params is left untouched.
func (s *Store) CreateCollection(ctx context.Context, name string, params memory.CollectionParams) error {
	if params.VectorSize <= 0 {
		return fmt.Errorf("invalid vector size %d", params.VectorSize)
	}
	if params.Distance != memory.Cosine {
		return memory.NewConfigurationError(fmt.Errorf("local store supports cosine distance only, got %s", params.Distance))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection(name) != nil {
		existing, known := s.params[name]
		if !known {
			// Created before params were recorded; adopt the caller's.
			s.params[name] = params
			return s.saveParams()
		}
		if existing != params {
			return memory.NewDimensionMismatchError(name, existing, params, nil)
		}
		return nil
	}

	meta := map[string]string{
		"vector_size": fmt.Sprint(params.VectorSize),
		"distance":    params.Distance.String(),
	}
	if _, err := s.db.CreateCollection(name, meta, noEmbedding); err != nil {
		return memory.NewStoreUnavailableError("create collection", err)
	}
	s.params[name] = params
	if err := s.saveParams(); err != nil {
		return memory.NewStoreUnavailableError("create collection", err)
	}

	s.log.WithFields(log.Fields{"collection": name, "params": params.String()}).Debug("created collection")
	return nil
}

// Upsert writes points into the collection. Points with an existing ID
// replace the stored document.
func (s *Store) Upsert(ctx context.Context, name string, points ...memory.Point) error {
	col := s.collection(name)
	if col == nil {
		return fmt.Errorf("upsert into %q: %w", name, memory.ErrCollectionNotFound)
	}
	params := s.paramsFor(name)

	for _, p := range points {
		if params.VectorSize > 0 && len(p.Vector) != params.VectorSize {
			return memory.NewDimensionMismatchError(name, params,
				memory.CollectionParams{VectorSize: len(p.Vector), Distance: params.Distance}, nil)
		}
		doc, err := toDocument(p)
		if err != nil {
			return err
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return memory.NewStoreUnavailableError("upsert", err)
		}
	}
	return nil
}

// Search returns at most limit points ranked by cosine similarity.
func (s *Store) Search(ctx context.Context, name string, vector []float32, limit int) ([]memory.ScoredPoint, error) {
	col := s.collection(name)
	if col == nil || limit <= 0 {
		return []memory.ScoredPoint{}, nil
	}
	params := s.paramsFor(name)
	if params.VectorSize > 0 && len(vector) != params.VectorSize {
		return nil, memory.NewDimensionMismatchError(name, params,
			memory.CollectionParams{VectorSize: len(vector), Distance: params.Distance}, nil)
	}

	// chromem requires nResults <= collection size
	n := col.Count()
	if n == 0 {
		return []memory.ScoredPoint{}, nil
	}
	if limit > n {
		limit = n
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, memory.NewStoreUnavailableError("search", err)
	}
	s.log.WithFields(log.Fields{"collection": name, "results": len(results)}).Debug("queried collection")
	return toScoredPoints(results, true), nil
}

// Scroll returns at most limit points whose metadata matches filter.
// chromem only filters inside a similarity query, so the collection is
// queried with a fixed probe vector and the scores are discarded.
func (s *Store) Scroll(ctx context.Context, name string, filter memory.Metadata, limit int) ([]memory.ScoredPoint, error) {
	col := s.collection(name)
	if col == nil || limit <= 0 {
		return []memory.ScoredPoint{}, nil
	}
	n := col.Count()
	if n == 0 {
		return []memory.ScoredPoint{}, nil
	}
	params := s.paramsFor(name)
	if params.VectorSize <= 0 {
		return nil, memory.NewStoreUnavailableError("scroll", fmt.Errorf("collection %q has no recorded vector size", name))
	}

	where, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	probe := make([]float32, params.VectorSize)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, n, where, nil)
	if err != nil {
		return nil, memory.NewStoreUnavailableError("scroll", err)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return toScoredPoints(results, false), nil
}

// ListCollections returns all collection names, sorted.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CollectionInfo describes the named collection.
func (s *Store) CollectionInfo(ctx context.Context, name string) (*memory.CollectionInfo, error) {
	col := s.collection(name)
	if col == nil {
		return nil, memory.ErrCollectionNotFound
	}
	return &memory.CollectionInfo{
		Name:        name,
		Params:      s.paramsFor(name),
		PointsCount: uint64(col.Count()),
	}, nil
}

// Close releases resources. Persistent stores write through on every
// change, so nothing is flushed here.
func (s *Store) Close() error {
	return nil
}

func (s *Store) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, noEmbedding)
}

func (s *Store) paramsFor(name string) memory.CollectionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[name]
}

// loadParams reads the params file, if any.
func (s *Store) loadParams() error {
	data, err := os.ReadFile(filepath.Join(s.path, paramsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &s.params); err != nil {
		return fmt.Errorf("parse %s: %w", paramsFile, err)
	}
	if s.params == nil {
		s.params = make(map[string]memory.CollectionParams)
	}
	return nil
}

// saveParams rewrites the params file. Caller holds mu.
func (s *Store) saveParams() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.params)
	if err != nil {
		return err
	}
	target := filepath.Join(s.path, paramsFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// toDocument converts a point into a chromem document. The content is the
// document text; metadata is kept both whole and per key.
func toDocument(p memory.Point) (chromem.Document, error) {
	entry, err := p.Payload.Entry()
	if err != nil {
		return chromem.Document{}, fmt.Errorf("point %s: %w", p.ID, err)
	}

	meta := map[string]string{}
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return chromem.Document{}, fmt.Errorf("marshal metadata: %w", err)
		}
		meta[metadataKey] = string(data)

		fields, err := whereClause(entry.Metadata)
		if err != nil {
			return chromem.Document{}, err
		}
		for k, v := range fields {
			meta[k] = v
		}
	}

	return chromem.Document{
		ID:        p.ID,
		Metadata:  meta,
		Embedding: p.Vector,
		Content:   entry.Content,
	}, nil
}

// whereClause encodes each metadata value as canonical JSON under its
// prefixed key, the form documents are indexed with.
func whereClause(md memory.Metadata) (map[string]string, error) {
	normalized, err := md.Normalize()
	if err != nil {
		return nil, err
	}
	where := make(map[string]string, len(normalized))
	for k, v := range normalized {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata %q: %w", k, err)
		}
		where[fieldPrefix+k] = string(data)
	}
	return where, nil
}

func toScoredPoints(results []chromem.Result, scored bool) []memory.ScoredPoint {
	points := make([]memory.ScoredPoint, 0, len(results))
	for _, r := range results {
		payload := memory.Payload{memory.PayloadDocument: r.Content}
		if raw, ok := r.Metadata[metadataKey]; ok && raw != "" {
			var md map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &md); err == nil {
				payload[memory.PayloadMetadata] = md
			} else {
				// Surfaces as a skipped entry in the connector.
				payload[memory.PayloadMetadata] = strings.TrimSpace(raw)
			}
		}
		p := memory.ScoredPoint{ID: r.ID, Payload: payload}
		if scored {
			p.Score = r.Similarity
		}
		points = append(points, p)
	}
	return points
}
