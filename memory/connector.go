package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DefaultSearchLimit is the number of entries Find returns when the caller
// does not ask for a specific limit.
const DefaultSearchLimit = 10

// ConnectorConfig holds the connector's fixed settings.
type ConnectorConfig struct {
	// CollectionName is the collection every operation targets. Required.
	CollectionName string

	// SearchLimit is the default Find limit. Default: DefaultSearchLimit.
	SearchLimit int
}

// Connector orchestrates the Embedder and the Store into the Store and Find
// operations. It holds no per-request state and is safe for concurrent use.
type Connector struct {
	embedder Embedder
	store    Store
	config   ConnectorConfig
	log      *log.Entry
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Entry) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// NewConnector creates a Connector over embedder and store.
func NewConnector(cfg ConnectorConfig, embedder Embedder, store Store, opts ...Option) (*Connector, error) {
	if cfg.CollectionName == "" {
		return nil, NewConfigurationError(errors.New("collection name is required"))
	}
	if embedder == nil {
		return nil, NewConfigurationError(errors.New("embedder is required"))
	}
	if store == nil {
		return nil, NewConfigurationError(errors.New("store is required"))
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}

	c := &Connector{
		embedder: embedder,
		store:    store,
		config:   cfg,
		log:      log.WithField("component", "memory"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("collection", cfg.CollectionName)
	return c, nil
}

// CollectionName returns the collection this connector targets.
func (c *Connector) CollectionName() string {
	return c.config.CollectionName
}

// Store embeds content and writes it to the collection, creating the
// collection first if needed. It returns a human-readable confirmation.
//
// Storing identical content twice creates two entries.
func (c *Connector) Store(ctx context.Context, content string, metadata Metadata) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}
	md, err := metadata.Normalize()
	if err != nil {
		return "", fmt.Errorf("invalid metadata: %w", err)
	}

	if err := c.ensureCollection(ctx); err != nil {
		return "", err
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed content: %w", asEmbeddingError(err))
	}
	if len(vectors) != 1 {
		return "", NewEmbeddingError("", fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}

	point := Point{
		ID:      newPointID(),
		Vector:  vectors[0],
		Payload: Entry{Content: content, Metadata: md}.Payload(),
	}
	if err := c.store.Upsert(ctx, c.config.CollectionName, point); err != nil {
		return "", fmt.Errorf("upsert: %w", err)
	}

	c.log.WithField("id", point.ID).Debugf("stored entry: %q", truncate(content, 50))
	return fmt.Sprintf("Remembered: %s", content), nil
}

// Find returns up to limit entries related to query, best match first.
// limit <= 0 uses the configured default. A collection that does not exist
// yet yields an empty result.
func (c *Connector) Find(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = c.config.SearchLimit
	}

	exists, err := c.store.CollectionExists(ctx, c.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		c.log.Debug("collection does not exist yet, nothing to find")
		return []Entry{}, nil
	}

	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", asEmbeddingError(err))
	}

	hits, err := c.store.Search(ctx, c.config.CollectionName, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	entries := c.toEntries(hits)
	c.log.WithFields(log.Fields{"limit": limit, "results": len(entries)}).
		Debugf("found entries for query: %q", truncate(query, 50))
	return entries, nil
}

// Match returns up to limit entries whose metadata contains every key/value
// of filter. Results are not ranked.
func (c *Connector) Match(ctx context.Context, filter Metadata, limit int) ([]Entry, error) {
	if len(filter) == 0 {
		return nil, errors.New("metadata filter must not be empty")
	}
	if limit <= 0 {
		limit = c.config.SearchLimit
	}

	exists, err := c.store.CollectionExists(ctx, c.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return []Entry{}, nil
	}

	points, err := c.store.Scroll(ctx, c.config.CollectionName, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	return c.toEntries(points), nil
}

// ListCollections returns all collection names known to the store.
func (c *Connector) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// CollectionInfo describes the named collection, or the connector's own
// collection when name is empty.
func (c *Connector) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if name == "" {
		name = c.config.CollectionName
	}
	info, err := c.store.CollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("collection info %q: %w", name, err)
	}
	return info, nil
}

// ensureCollection creates the collection from the embedder's settings
// when it does not exist. Not atomic: concurrent callers may both create,
// which Store.CreateCollection tolerates.
func (c *Connector) ensureCollection(ctx context.Context) error {
	name := c.config.CollectionName
	exists, err := c.store.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	params := CollectionParams{
		VectorSize: c.embedder.VectorSize(),
		Distance:   c.embedder.Distance(),
	}
	if err := c.store.CreateCollection(ctx, name, params); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.log.WithField("params", params.String()).Info("created collection")
	return nil
}

// toEntries decodes payloads, skipping points that were not written by
// this connector.
func (c *Connector) toEntries(points []ScoredPoint) []Entry {
	return lo.FilterMap(points, func(p ScoredPoint, i int) (Entry, bool) {
		entry, err := p.Payload.Entry()
		if err != nil {
			c.log.WithField("id", p.ID).Warnf("skipping result #%d: %v", i+1, err)
			return Entry{}, false
		}
		return entry, true
	})
}

// asEmbeddingError wraps err as an EmbeddingError unless it already is one.
func asEmbeddingError(err error) error {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	return NewEmbeddingError("", err)
}
