package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/mcp-memory/memory"
)

// fakeClient records requests and returns canned responses.
type fakeClient struct {
	exists    bool
	createErr error
	info      *qdrant.CollectionInfo
	infoErr   error
	upsertErr error
	hits      []*qdrant.ScoredPoint
	queryErr  error
	points    []*qdrant.RetrievedPoint
	scrollErr error

	created *qdrant.CreateCollection
	upserts *qdrant.UpsertPoints
	query   *qdrant.QueryPoints
	scroll  *qdrant.ScrollPoints
	closed  bool
}

func (f *fakeClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return f.createErr
}

func (f *fakeClient) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeClient) ListCollections(ctx context.Context) ([]string, error) {
	return []string{"a", "b"}, nil
}

func (f *fakeClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = req
	return &qdrant.UpdateResult{}, f.upsertErr
}

func (f *fakeClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.query = req
	return f.hits, f.queryErr
}

func (f *fakeClient) Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	f.scroll = req
	return f.points, f.scrollErr
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func collectionInfo(size uint64, distance qdrant.Distance, count uint64) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: distance}),
			},
		},
		PointsCount: qdrant.PtrOf(count),
	}
}

func TestClientConfig(t *testing.T) {
	tests := []struct {
		url      string
		host     string
		port     int
		tls      bool
		hasError bool
	}{
		{url: "http://localhost:6333", host: "localhost", port: GRPCPort},
		{url: "http://localhost", host: "localhost", port: GRPCPort},
		{url: "localhost:6334", host: "localhost", port: GRPCPort},
		{url: "https://xyz.cloud.qdrant.io", host: "xyz.cloud.qdrant.io", port: GRPCPort, tls: true},
		{url: "grpc://10.0.0.5:7000", host: "10.0.0.5", port: 7000},
		{url: "http://:6333", hasError: true},
		{url: "http://localhost:port", hasError: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg, err := clientConfig(Config{URL: tt.url, APIKey: "secret"})
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Host)
			assert.Equal(t, tt.port, cfg.Port)
			assert.Equal(t, tt.tls, cfg.UseTLS)
			assert.Equal(t, "secret", cfg.APIKey)
		})
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{URL: "http://:1"})
	var cfgErr *memory.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCreateCollection(t *testing.T) {
	f := &fakeClient{}
	s := newStore(f)

	err := s.CreateCollection(context.Background(), "notes", memory.CollectionParams{VectorSize: 384, Distance: memory.Cosine})
	require.NoError(t, err)
	require.NotNil(t, f.created)
	assert.Equal(t, "notes", f.created.GetCollectionName())
	vp := f.created.GetVectorsConfig().GetParams()
	assert.EqualValues(t, 384, vp.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, vp.GetDistance())
}

func TestCreateCollectionAlreadyExists(t *testing.T) {
	params := memory.CollectionParams{VectorSize: 384, Distance: memory.Cosine}
	f := &fakeClient{
		createErr: status.Error(codes.AlreadyExists, "Collection `notes` already exists!"),
		info:      collectionInfo(384, qdrant.Distance_Cosine, 7),
	}
	s := newStore(f)
	require.NoError(t, s.CreateCollection(context.Background(), "notes", params))

	f.info = collectionInfo(768, qdrant.Distance_Cosine, 7)
	err := s.CreateCollection(context.Background(), "notes", params)
	var mismatch *memory.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 768, mismatch.Expected.VectorSize)
	assert.Equal(t, 384, mismatch.Actual.VectorSize)
}

func TestCreateCollectionUnavailable(t *testing.T) {
	f := &fakeClient{createErr: status.Error(codes.Unavailable, "connection refused")}
	s := newStore(f)

	err := s.CreateCollection(context.Background(), "notes", memory.CollectionParams{VectorSize: 3, Distance: memory.Dot})
	var storeErr *memory.StoreUnavailableError
	assert.True(t, errors.As(err, &storeErr))
}

func TestUpsert(t *testing.T) {
	f := &fakeClient{}
	s := newStore(f)

	p := memory.Point{
		ID:      "5c56c793-69f3-4fbf-87e6-c4bf54c28c26",
		Vector:  []float32{0.1, 0.2},
		Payload: memory.Entry{Content: "hello", Metadata: memory.Metadata{"n": 1.0}}.Payload(),
	}
	require.NoError(t, s.Upsert(context.Background(), "notes", p))
	require.NotNil(t, f.upserts)
	assert.True(t, f.upserts.GetWait())
	require.Len(t, f.upserts.GetPoints(), 1)

	got := f.upserts.GetPoints()[0]
	assert.Equal(t, p.ID, got.GetId().GetUuid())
	assert.Equal(t, "hello", got.GetPayload()[memory.PayloadDocument].GetStringValue())
	md := got.GetPayload()[memory.PayloadMetadata].GetStructValue().GetFields()
	assert.Equal(t, 1.0, md["n"].GetDoubleValue())
}

func TestUpsertDimensionRejected(t *testing.T) {
	f := &fakeClient{
		upsertErr: status.Error(codes.InvalidArgument, "Wrong input: Vector dimension error: expected dim: 384, got 2"),
		info:      collectionInfo(384, qdrant.Distance_Cosine, 0),
	}
	s := newStore(f)

	err := s.Upsert(context.Background(), "notes", memory.Point{ID: "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", Vector: []float32{1, 2}, Payload: memory.Payload{memory.PayloadDocument: "x"}})
	var mismatch *memory.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 384, mismatch.Expected.VectorSize)
	assert.Equal(t, 2, mismatch.Actual.VectorSize)
}

func TestSearch(t *testing.T) {
	f := &fakeClient{hits: []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewIDNum(7),
			Score: 0.8,
			Payload: qdrant.NewValueMap(map[string]any{
				memory.PayloadDocument: "hello",
				memory.PayloadMetadata: map[string]any{"count": 2, "tags": []any{"a"}},
			}),
		},
	}}
	s := newStore(f)

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, f.query.GetLimit())
	require.Len(t, hits, 1)
	assert.Equal(t, "7", hits[0].ID)
	assert.Equal(t, float32(0.8), hits[0].Score)

	entry, err := hits[0].Payload.Entry()
	require.NoError(t, err)
	assert.Equal(t, memory.Entry{
		Content:  "hello",
		Metadata: memory.Metadata{"count": float64(2), "tags": []interface{}{"a"}},
	}, entry)
}

func TestSearchMissingCollection(t *testing.T) {
	f := &fakeClient{queryErr: status.Error(codes.NotFound, "Collection `notes` doesn't exist!")}
	s := newStore(f)

	hits, err := s.Search(context.Background(), "notes", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScroll(t *testing.T) {
	f := &fakeClient{points: []*qdrant.RetrievedPoint{
		{Id: qdrant.NewID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26"), Payload: qdrant.NewValueMap(map[string]any{memory.PayloadDocument: "x"})},
	}}
	s := newStore(f)

	hits, err := s.Scroll(context.Background(), "notes", memory.Metadata{"team": "infra"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", hits[0].ID)
	assert.Zero(t, hits[0].Score)
	assert.EqualValues(t, 3, f.scroll.GetLimit())
	require.Len(t, f.scroll.GetFilter().GetMust(), 1)
	assert.Equal(t, "metadata.team", f.scroll.GetFilter().GetMust()[0].GetField().GetKey())

	_, err = s.Scroll(context.Background(), "notes", memory.Metadata{"tags": []string{"a"}}, 3)
	assert.Error(t, err)
}

func TestScrollNumericMetadataMatchesStoredKind(t *testing.T) {
	f := &fakeClient{}
	s := newStore(f)

	md, err := memory.Metadata{"priority": 2}.Normalize()
	require.NoError(t, err)
	p := memory.Point{
		ID:      "5c56c793-69f3-4fbf-87e6-c4bf54c28c26",
		Vector:  []float32{0.1, 0.2},
		Payload: memory.Entry{Content: "urgent", Metadata: md}.Payload(),
	}
	require.NoError(t, s.Upsert(context.Background(), "notes", p))
	stored := f.upserts.GetPoints()[0].GetPayload()[memory.PayloadMetadata].GetStructValue().GetFields()["priority"]
	require.IsType(t, &qdrant.Value_DoubleValue{}, stored.GetKind())

	_, err = s.Scroll(context.Background(), "notes", memory.Metadata{"priority": 2}, 3)
	require.NoError(t, err)
	require.Len(t, f.scroll.GetFilter().GetMust(), 1)
	cond := f.scroll.GetFilter().GetMust()[0].GetField()
	assert.Equal(t, "metadata.priority", cond.GetKey())
	assert.Nil(t, cond.GetMatch(), "integer match never selects a double payload")
	require.NotNil(t, cond.GetRange())
	assert.Equal(t, 2.0, cond.GetRange().GetGte())
	assert.Equal(t, 2.0, cond.GetRange().GetLte())

	_, err = s.Scroll(context.Background(), "notes", memory.Metadata{"score": 0.5}, 3)
	require.NoError(t, err)
	cond = f.scroll.GetFilter().GetMust()[0].GetField()
	assert.Equal(t, 0.5, cond.GetRange().GetGte())
	assert.Equal(t, 0.5, cond.GetRange().GetLte())
}

func TestCollectionInfo(t *testing.T) {
	f := &fakeClient{info: collectionInfo(768, qdrant.Distance_Dot, 12)}
	s := newStore(f)

	info, err := s.CollectionInfo(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, &memory.CollectionInfo{
		Name:        "notes",
		Params:      memory.CollectionParams{VectorSize: 768, Distance: memory.Dot},
		PointsCount: 12,
	}, info)

	f.infoErr = status.Error(codes.NotFound, "not found")
	_, err = s.CollectionInfo(context.Background(), "notes")
	assert.ErrorIs(t, err, memory.ErrCollectionNotFound)

	f.infoErr = status.Error(codes.Unavailable, "down")
	_, err = s.CollectionInfo(context.Background(), "notes")
	var storeErr *memory.StoreUnavailableError
	assert.True(t, errors.As(err, &storeErr))
}

func TestListAndClose(t *testing.T) {
	f := &fakeClient{}
	s := newStore(f)

	names, err := s.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Close())
	assert.True(t, f.closed)
}
