package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/becomeliminal/mcp-memory/core"
	"github.com/becomeliminal/mcp-memory/memory"
)

// Tool names.
const (
	ToolStore           = "qdrant-store"
	ToolFind            = "qdrant-find"
	ToolMatch           = "qdrant-match"
	ToolListCollections = "qdrant-list-collections"
	ToolCollectionInfo  = "qdrant-collection-info"
)

// Default descriptions for tools whose description is not configurable.
const (
	MatchDescription           = "Find memories whose metadata exactly matches the given key/value pairs."
	ListCollectionsDescription = "List all available collections in the vector store."
	CollectionInfoDescription  = "Get detailed information about a specific collection, including its vector size, distance and number of points."
)

// FindContentLength is the number of runes of each entry shown in find
// results.
const FindContentLength = 200

// Connector is the memory API the tools call.
type Connector interface {
	CollectionName() string
	Store(ctx context.Context, content string, metadata memory.Metadata) (string, error)
	Find(ctx context.Context, query string, limit int) ([]memory.Entry, error)
	Match(ctx context.Context, filter memory.Metadata, limit int) ([]memory.Entry, error)
	ListCollections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) (*memory.CollectionInfo, error)
}

// Options configures the memory tools.
type Options struct {
	StoreDescription string
	FindDescription  string

	// SearchLimit caps find results. Zero uses the connector's default.
	SearchLimit int

	// ReadOnly registers the tools in a read-only registry, which refuses
	// those that modify stored data.
	ReadOnly bool
}

// MemoryTools returns the tools backed by conn, in advertised order.
// ReadOnly is applied by the registry, not here.
func MemoryTools(conn Connector, opts Options) []core.Tool {
	return []core.Tool{
		&storeTool{conn: conn, description: opts.StoreDescription},
		&findTool{conn: conn, description: opts.FindDescription, limit: opts.SearchLimit},
		&matchTool{conn: conn},
		&listCollectionsTool{conn: conn},
		&collectionInfoTool{conn: conn},
	}
}

// decodeInput unmarshals a tool's arguments. Empty input decodes as {}.
func decodeInput(tool string, raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ArgumentError{Tool: tool, cause: err}
	}
	return nil
}

type storeTool struct {
	conn        Connector
	description string
}

func (t *storeTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{
		ToolName:        ToolStore,
		ToolDescription: t.description,
		InputSchema:     SchemaFor(&core.StoreInput{}),
		Write:           true,
	}
}

func (t *storeTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var input core.StoreInput
	if err := decodeInput(ToolStore, params.Input, &input); err != nil {
		return nil, err
	}
	if input.Information == "" {
		return nil, &ArgumentError{Tool: ToolStore, cause: errors.New("information is required")}
	}

	msg, err := t.conn.Store(ctx, input.Information, memory.Metadata(input.Metadata))
	if err != nil {
		return nil, err
	}
	return core.NewTextResult(msg), nil
}

type findTool struct {
	conn        Connector
	description string
	limit       int
}

func (t *findTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{
		ToolName:        ToolFind,
		ToolDescription: t.description,
		InputSchema:     SchemaFor(&core.FindInput{}),
	}
}

func (t *findTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var input core.FindInput
	if err := decodeInput(ToolFind, params.Input, &input); err != nil {
		return nil, err
	}

	entries, err := t.conn.Find(ctx, input.Query, t.limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return core.NewTextResult(fmt.Sprintf("No information found for the query '%s'", input.Query)), nil
	}

	texts := []string{fmt.Sprintf("Results for the query '%s'", input.Query)}
	for _, e := range entries {
		texts = append(texts, e.Format(FindContentLength))
	}
	return core.NewTextResult(texts...), nil
}

type matchTool struct {
	conn Connector
}

func (t *matchTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{
		ToolName:        ToolMatch,
		ToolDescription: MatchDescription,
		InputSchema:     SchemaFor(&core.MatchInput{}),
	}
}

func (t *matchTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var input core.MatchInput
	if err := decodeInput(ToolMatch, params.Input, &input); err != nil {
		return nil, err
	}
	if len(input.Metadata) == 0 {
		return nil, &ArgumentError{Tool: ToolMatch, cause: errors.New("metadata must not be empty")}
	}

	entries, err := t.conn.Match(ctx, memory.Metadata(input.Metadata), input.Limit)
	if err != nil {
		return nil, err
	}

	filter, _ := json.Marshal(input.Metadata)
	if len(entries) == 0 {
		return core.NewTextResult(fmt.Sprintf("No information found for the metadata '%s'", filter)), nil
	}
	texts := []string{fmt.Sprintf("Results for the metadata match '%s'", filter)}
	for _, e := range entries {
		texts = append(texts, e.Format(0))
	}
	return core.NewTextResult(texts...), nil
}

type listCollectionsTool struct {
	conn Connector
}

func (t *listCollectionsTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{
		ToolName:        ToolListCollections,
		ToolDescription: ListCollectionsDescription,
		InputSchema:     SchemaFor(&core.ListCollectionsInput{}),
	}
}

func (t *listCollectionsTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	names, err := t.conn.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return core.NewTextResult("No collections found."), nil
	}
	return core.NewTextResult("Available collections: " + strings.Join(names, ", ")), nil
}

type collectionInfoTool struct {
	conn Connector
}

func (t *collectionInfoTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{
		ToolName:        ToolCollectionInfo,
		ToolDescription: CollectionInfoDescription,
		InputSchema:     SchemaFor(&core.CollectionInfoInput{}),
	}
}

func (t *collectionInfoTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var input core.CollectionInfoInput
	if err := decodeInput(ToolCollectionInfo, params.Input, &input); err != nil {
		return nil, err
	}
	name := input.CollectionName
	if name == "" {
		name = t.conn.CollectionName()
	}

	info, err := t.conn.CollectionInfo(ctx, name)
	if errors.Is(err, memory.ErrCollectionNotFound) {
		return core.NewErrorResult(fmt.Sprintf("Collection '%s' not found.", name)), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(collectionInfoView{
		Name:        info.Name,
		VectorSize:  info.Params.VectorSize,
		Distance:    info.Params.Distance.String(),
		PointsCount: info.PointsCount,
	})
	if err != nil {
		return nil, err
	}
	return core.NewTextResult(string(data)), nil
}

type collectionInfoView struct {
	Name        string `json:"name"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
	PointsCount uint64 `json:"points_count"`
}
