package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/mcp-memory/core"
	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/embedder/mock"
	"github.com/becomeliminal/mcp-memory/memory/store/chromem"
)

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	store, err := chromem.New()
	require.NoError(t, err)
	conn, err := memory.NewConnector(memory.ConnectorConfig{CollectionName: "notes"}, mock.New(), store)
	require.NoError(t, err)
	if opts.StoreDescription == "" {
		opts.StoreDescription = "store"
	}
	if opts.FindDescription == "" {
		opts.FindDescription = "find"
	}
	return NewMemoryDispatcher(conn, opts)
}

func call(t *testing.T, d *Dispatcher, name, args string) *core.ToolResult {
	t.Helper()
	result, err := d.Call(context.Background(), name, json.RawMessage(args))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestDefinitions(t *testing.T) {
	d := newTestDispatcher(t, Options{StoreDescription: "Remember things", FindDescription: "Recall things"})

	defs := d.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.ToolName)
		assert.NotEmpty(t, def.ToolDescription, def.ToolName)
		assert.Equal(t, "object", def.InputSchema["type"], def.ToolName)
		assert.NotNil(t, def.InputSchema["properties"], def.ToolName)
	}
	assert.Equal(t, []string{ToolStore, ToolFind, ToolMatch, ToolListCollections, ToolCollectionInfo}, names)
	assert.Equal(t, "Remember things", defs[0].ToolDescription)
	assert.True(t, defs[0].Write)
	assert.Equal(t, "Recall things", defs[1].ToolDescription)
}

func TestReadOnlyOmitsStore(t *testing.T) {
	d := newTestDispatcher(t, Options{ReadOnly: true})

	assert.Len(t, d.Definitions(), 4)
	for _, def := range d.Definitions() {
		assert.NotEqual(t, ToolStore, def.ToolName)
		assert.False(t, def.Write)
	}
	_, err := d.Call(context.Background(), ToolStore, json.RawMessage(`{"information":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestStoreThenFind(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	result := call(t, d, ToolStore, `{"information":"The user's cat is named Miso","metadata":{"topic":"pets"}}`)
	assert.False(t, result.IsError)
	assert.Equal(t, "Remembered: The user's cat is named Miso", result.Text())

	result = call(t, d, ToolFind, `{"query":"cat named"}`)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 2)
	assert.Equal(t, "Results for the query 'cat named'", result.Content[0].Text)
	assert.Equal(t,
		`<entry><content>The user's cat is named Miso</content><metadata>{"topic":"pets"}</metadata></entry>`,
		result.Content[1].Text)
}

func TestFindEmpty(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	result := call(t, d, ToolFind, `{"query":"anything"}`)
	assert.False(t, result.IsError)
	assert.Equal(t, "No information found for the query 'anything'", result.Text())
}

func TestFindTruncatesContent(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	long := strings.Repeat("garden ", 60)
	call(t, d, ToolStore, `{"information":"`+long+`"}`)

	result := call(t, d, ToolFind, `{"query":"garden"}`)
	require.Len(t, result.Content, 2)
	assert.Contains(t, result.Content[1].Text, long[:FindContentLength]+"...</content>")
}

func TestFindRespectsSearchLimit(t *testing.T) {
	d := newTestDispatcher(t, Options{SearchLimit: 2})

	for _, s := range []string{"apple pie", "apple tart", "apple crumble"} {
		call(t, d, ToolStore, `{"information":"`+s+`"}`)
	}
	result := call(t, d, ToolFind, `{"query":"apple"}`)
	assert.Len(t, result.Content, 3, "header plus two entries")
}

func TestMatch(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	call(t, d, ToolStore, `{"information":"Quarterly report due","metadata":{"team":"finance"}}`)
	call(t, d, ToolStore, `{"information":"Offsite in May","metadata":{"team":"ops"}}`)

	result := call(t, d, ToolMatch, `{"metadata":{"team":"finance"}}`)
	require.Len(t, result.Content, 2)
	assert.Equal(t, `Results for the metadata match '{"team":"finance"}'`, result.Content[0].Text)
	assert.Equal(t,
		`<entry><content>Quarterly report due</content><metadata>{"team":"finance"}</metadata></entry>`,
		result.Content[1].Text)

	result = call(t, d, ToolMatch, `{"metadata":{"team":"legal"}}`)
	assert.Equal(t, `No information found for the metadata '{"team":"legal"}'`, result.Text())

	_, err := d.Call(context.Background(), ToolMatch, json.RawMessage(`{"metadata":{}}`))
	var argErr *ArgumentError
	assert.True(t, errors.As(err, &argErr))
}

func TestListCollections(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	assert.Equal(t, "No collections found.", call(t, d, ToolListCollections, `{}`).Text())

	call(t, d, ToolStore, `{"information":"hello"}`)
	assert.Equal(t, "Available collections: notes", call(t, d, ToolListCollections, ``).Text())
}

func TestCollectionInfo(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	result := call(t, d, ToolCollectionInfo, `{}`)
	assert.True(t, result.IsError)
	assert.Equal(t, "Collection 'notes' not found.", result.Text())

	call(t, d, ToolStore, `{"information":"hello"}`)

	result = call(t, d, ToolCollectionInfo, `{"collection_name":"notes"}`)
	require.False(t, result.IsError)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Text()), &view))
	assert.Equal(t, map[string]interface{}{
		"name":         "notes",
		"vector_size":  float64(384),
		"distance":     "cosine",
		"points_count": float64(1),
	}, view)

	result = call(t, d, ToolCollectionInfo, `{"collection_name":"other"}`)
	assert.True(t, result.IsError)
	assert.Equal(t, "Collection 'other' not found.", result.Text())
}

func TestArgumentErrors(t *testing.T) {
	d := newTestDispatcher(t, Options{})

	tests := []struct {
		tool string
		args string
	}{
		{ToolStore, `{}`},
		{ToolStore, `{"information":42}`},
		{ToolFind, `not json`},
		{ToolMatch, `{"metadata":"team"}`},
	}
	for _, tt := range tests {
		t.Run(tt.tool+" "+tt.args, func(t *testing.T) {
			result, err := d.Call(context.Background(), tt.tool, json.RawMessage(tt.args))
			assert.Nil(t, result)
			var argErr *ArgumentError
			require.True(t, errors.As(err, &argErr))
			assert.Equal(t, tt.tool, argErr.Tool)
		})
	}
}

func TestSchemaRequiredFields(t *testing.T) {
	required := func(input interface{}) []interface{} {
		r, _ := SchemaFor(input)["required"].([]interface{})
		return r
	}

	assert.Equal(t, []interface{}{"information"}, required(&core.StoreInput{}))
	assert.Equal(t, []interface{}{"query"}, required(&core.FindInput{}))
	assert.Equal(t, []interface{}{"metadata"}, required(&core.MatchInput{}))
	assert.Empty(t, required(&core.CollectionInfoInput{}))

	schema := SchemaFor(&core.StoreInput{})
	_, hasSchemaKey := schema["$schema"]
	assert.False(t, hasSchemaKey)
	props := schema["properties"].(map[string]interface{})
	info := props["information"].(map[string]interface{})
	assert.Equal(t, "string", info["type"])
	assert.Equal(t, "The text to remember", info["description"])

	empty := SchemaFor(&core.ListCollectionsInput{})
	assert.Equal(t, map[string]interface{}{}, empty["properties"])
}
