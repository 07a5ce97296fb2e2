package memory

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Metadata is an open mapping of string keys to JSON-compatible values.
// It is opaque to the connector and round-trips verbatim, with numbers
// returned as float64.
type Metadata map[string]interface{}

// Normalize returns the canonical JSON form of m: nested maps become
// map[string]interface{}, slices []interface{} and numbers float64.
// A nil or empty map normalizes to nil.
func (m Metadata) Normalize() (Metadata, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	var out Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

// Matches reports whether every key in filter is present in m with an
// equal value. Both sides are compared in normalized form.
func (m Metadata) Matches(filter Metadata) bool {
	have, err := m.Normalize()
	if err != nil {
		return false
	}
	want, err := filter.Normalize()
	if err != nil {
		return false
	}
	for k, v := range want {
		got, ok := have[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}

// Entry is a stored unit of memory as seen by callers.
type Entry struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Payload is the stored form of an Entry: the content under
// PayloadDocument and the metadata, when present, under PayloadMetadata.
type Payload map[string]interface{}

// Payload converts e to its stored form.
func (e Entry) Payload() Payload {
	p := Payload{PayloadDocument: e.Content}
	if len(e.Metadata) > 0 {
		p[PayloadMetadata] = map[string]interface{}(e.Metadata)
	}
	return p
}

// Entry reconstructs an Entry from a stored payload.
func (p Payload) Entry() (Entry, error) {
	content, ok := p[PayloadDocument].(string)
	if !ok {
		return Entry{}, fmt.Errorf("payload has no %q string", PayloadDocument)
	}
	entry := Entry{Content: content}

	switch raw := p[PayloadMetadata].(type) {
	case nil:
	case map[string]interface{}:
		md, err := Metadata(raw).Normalize()
		if err != nil {
			return Entry{}, err
		}
		entry.Metadata = md
	case Metadata:
		md, err := raw.Normalize()
		if err != nil {
			return Entry{}, err
		}
		entry.Metadata = md
	default:
		return Entry{}, fmt.Errorf("payload %q has unexpected type %T", PayloadMetadata, raw)
	}
	return entry, nil
}

// Format renders the entry for a tool response. When maxLen > 0 the
// content is truncated to maxLen runes.
func (e Entry) Format(maxLen int) string {
	content := e.Content
	if maxLen > 0 {
		content = truncate(content, maxLen)
	}
	metadata := ""
	if len(e.Metadata) > 0 {
		if data, err := json.Marshal(e.Metadata); err == nil {
			metadata = string(data)
		}
	}
	return fmt.Sprintf("<entry><content>%s</content><metadata>%s</metadata></entry>", content, metadata)
}

// newPointID returns a random UUIDv4.
func newPointID() string {
	return uuid.New().String()
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
