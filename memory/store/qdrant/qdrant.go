package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/mcp-memory/memory"
)

const (
	// GRPCPort is the default Qdrant gRPC port.
	GRPCPort = 6334
	// RESTPort is the default Qdrant REST port. URLs naming it are
	// redirected to GRPCPort, since this client speaks gRPC only.
	RESTPort = 6333
)

// Config configures the remote store.
type Config struct {
	// URL of the Qdrant server, e.g. "http://localhost:6333".
	URL string
	// APIKey is sent with every request when set.
	APIKey string
}

// client is the subset of *qdrant.Client the store uses.
type client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Close() error
}

// Store is a memory.Store backed by a Qdrant server.
type Store struct {
	client client
	log    *log.Entry
}

// New connects to the Qdrant server at cfg.URL.
func New(cfg Config) (*Store, error) {
	qcfg, err := clientConfig(cfg)
	if err != nil {
		return nil, memory.NewConfigurationError(err)
	}
	c, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, memory.NewStoreUnavailableError("connect", err)
	}

	s := newStore(c)
	s.log = s.log.WithField("host", fmt.Sprintf("%s:%d", qcfg.Host, qcfg.Port))
	s.log.WithField("tls", qcfg.UseTLS).Debug("connected to qdrant")
	return s, nil
}

func newStore(c client) *Store {
	return &Store{
		client: c,
		log:    log.WithField("component", "qdrant"),
	}
}

// clientConfig maps a server URL onto the gRPC client config.
func clientConfig(cfg Config) (*qdrant.Config, error) {
	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", cfg.URL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid qdrant url %q: missing host", cfg.URL)
	}

	port := GRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
		if port == RESTPort {
			port = GRPCPort
		}
	}

	return &qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	}, nil
}

// CollectionExists reports whether the named collection exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, memory.NewStoreUnavailableError("collection exists", err)
	}
	return exists, nil
}

// CreateCollection creates a single unnamed dense vector collection.
// A concurrent creator winning the race is not an error as long as its
// params match.
func (s *Store) CreateCollection(ctx context.Context, name string, params memory.CollectionParams) error {
	if params.VectorSize <= 0 {
		return fmt.Errorf("invalid vector size %d", params.VectorSize)
	}
	distance, err := toDistance(params.Distance)
	if err != nil {
		return memory.NewConfigurationError(err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(params.VectorSize),
			Distance: distance,
		}),
	})
	if err == nil {
		s.log.WithFields(log.Fields{"collection": name, "params": params.String()}).Debug("created collection")
		return nil
	}
	if !isAlreadyExists(err) {
		return memory.NewStoreUnavailableError("create collection", err)
	}

	info, infoErr := s.CollectionInfo(ctx, name)
	if infoErr != nil {
		return infoErr
	}
	if info.Params != params {
		return memory.NewDimensionMismatchError(name, info.Params, params, err)
	}
	return nil
}

// Upsert writes points and waits for them to be applied.
func (s *Store) Upsert(ctx context.Context, name string, points ...memory.Point) error {
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(map[string]any(p.Payload))
		if err != nil {
			return fmt.Errorf("point %s payload: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return s.mapWriteError(ctx, name, len(firstVector(points)), err)
	}
	return nil
}

// Search returns the nearest points by the collection's distance.
func (s *Store) Search(ctx context.Context, name string, vector []float32, limit int) ([]memory.ScoredPoint, error) {
	if limit <= 0 {
		return []memory.ScoredPoint{}, nil
	}
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []memory.ScoredPoint{}, nil
		}
		return nil, s.mapWriteError(ctx, name, len(vector), err)
	}

	out := make([]memory.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, memory.ScoredPoint{
			ID:      pointID(h.GetId()),
			Payload: fromValueMap(h.GetPayload()),
			Score:   h.GetScore(),
		})
	}
	s.log.WithFields(log.Fields{"collection": name, "results": len(out)}).Debug("queried collection")
	return out, nil
}

// Scroll returns points whose metadata matches filter.
func (s *Store) Scroll(ctx context.Context, name string, filter memory.Metadata, limit int) ([]memory.ScoredPoint, error) {
	if limit <= 0 {
		return []memory.ScoredPoint{}, nil
	}
	conditions, err := filterConditions(filter)
	if err != nil {
		return nil, err
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Filter:         &qdrant.Filter{Must: conditions},
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []memory.ScoredPoint{}, nil
		}
		return nil, memory.NewStoreUnavailableError("scroll", err)
	}

	out := make([]memory.ScoredPoint, 0, len(points))
	for _, p := range points {
		out = append(out, memory.ScoredPoint{
			ID:      pointID(p.GetId()),
			Payload: fromValueMap(p.GetPayload()),
		})
	}
	return out, nil
}

// ListCollections returns all collection names on the server.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, memory.NewStoreUnavailableError("list collections", err)
	}
	return names, nil
}

// CollectionInfo describes the named collection.
func (s *Store) CollectionInfo(ctx context.Context, name string) (*memory.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, memory.ErrCollectionNotFound
		}
		return nil, memory.NewStoreUnavailableError("collection info", err)
	}

	vp := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if vp == nil {
		return nil, fmt.Errorf("collection %q has no single unnamed vector", name)
	}
	distance, err := fromDistance(vp.GetDistance())
	if err != nil {
		return nil, err
	}
	return &memory.CollectionInfo{
		Name: name,
		Params: memory.CollectionParams{
			VectorSize: int(vp.GetSize()),
			Distance:   distance,
		},
		PointsCount: info.GetPointsCount(),
	}, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// mapWriteError turns a vector size rejection into a DimensionMismatchError.
func (s *Store) mapWriteError(ctx context.Context, name string, got int, err error) error {
	st, _ := status.FromError(err)
	if st.Code() == codes.InvalidArgument && strings.Contains(strings.ToLower(st.Message()), "dimension") {
		expected := memory.CollectionParams{}
		if info, infoErr := s.CollectionInfo(ctx, name); infoErr == nil {
			expected = info.Params
		}
		return memory.NewDimensionMismatchError(name, expected,
			memory.CollectionParams{VectorSize: got, Distance: expected.Distance}, err)
	}
	return memory.NewStoreUnavailableError("write", err)
}

func isAlreadyExists(err error) bool {
	st, _ := status.FromError(err)
	return st.Code() == codes.AlreadyExists || strings.Contains(strings.ToLower(st.Message()), "already exists")
}

func firstVector(points []memory.Point) []float32 {
	if len(points) == 0 {
		return nil
	}
	return points[0].Vector
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
