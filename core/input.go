package core

// Tool inputs. Field descriptions are published in each tool's input
// schema; fields without omitempty are required.

// StoreInput is the input of the store tool.
type StoreInput struct {
	Information string                 `json:"information" jsonschema:"description=The text to remember"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" jsonschema:"description=Optional structured data stored alongside the text"`
}

// FindInput is the input of the find tool.
type FindInput struct {
	Query string `json:"query" jsonschema:"description=What to search for"`
}

// MatchInput is the input of the metadata match tool.
type MatchInput struct {
	Metadata map[string]interface{} `json:"metadata" jsonschema:"description=Key/value pairs every returned entry's metadata must contain"`
	Limit    int                    `json:"limit,omitempty" jsonschema:"description=Maximum number of entries to return"`
}

// ListCollectionsInput is the (empty) input of the list collections tool.
type ListCollectionsInput struct{}

// CollectionInfoInput is the input of the collection info tool.
type CollectionInfoInput struct {
	CollectionName string `json:"collection_name,omitempty" jsonschema:"description=Collection to describe. Defaults to the configured collection"`
}
