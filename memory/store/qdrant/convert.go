package qdrant

import (
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/becomeliminal/mcp-memory/memory"
)

func toDistance(d memory.Distance) (qdrant.Distance, error) {
	switch d {
	case memory.Cosine:
		return qdrant.Distance_Cosine, nil
	case memory.Euclidean:
		return qdrant.Distance_Euclid, nil
	case memory.Dot:
		return qdrant.Distance_Dot, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("unsupported distance %s", d)
	}
}

func fromDistance(d qdrant.Distance) (memory.Distance, error) {
	switch d {
	case qdrant.Distance_Cosine:
		return memory.Cosine, nil
	case qdrant.Distance_Euclid:
		return memory.Euclidean, nil
	case qdrant.Distance_Dot:
		return memory.Dot, nil
	default:
		return 0, fmt.Errorf("unsupported qdrant distance %s", d)
	}
}

// fromValueMap converts a point payload to plain Go values. Integers are
// returned as float64 so payloads read back like decoded JSON.
func fromValueMap(values map[string]*qdrant.Value) memory.Payload {
	out := make(memory.Payload, len(values))
	for k, v := range values {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		m := make(map[string]interface{}, len(fields))
		for k, f := range fields {
			m[k] = fromValue(f)
		}
		return m
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]interface{}, 0, len(items))
		for _, item := range items {
			list = append(list, fromValue(item))
		}
		return list
	default:
		return nil
	}
}

// filterConditions builds one must-condition per metadata leaf. Nested
// objects are addressed with dotted keys under the metadata payload field.
// Numbers match through a closed range on their value. Lists cannot be
// matched exactly and are rejected.
func filterConditions(filter memory.Metadata) ([]*qdrant.Condition, error) {
	normalized, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	var conditions []*qdrant.Condition
	if err := appendConditions(&conditions, memory.PayloadMetadata, normalized); err != nil {
		return nil, err
	}
	return conditions, nil
}

func appendConditions(out *[]*qdrant.Condition, prefix string, values map[string]interface{}) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		field := prefix + "." + k
		switch v := values[k].(type) {
		case nil:
			*out = append(*out, qdrant.NewIsNull(field))
		case string:
			*out = append(*out, qdrant.NewMatch(field, v))
		case bool:
			*out = append(*out, qdrant.NewMatchBool(field, v))
		case float64:
			// Payload numbers are stored as doubles, which integer match
			// conditions never select.
			*out = append(*out, qdrant.NewRange(field, &qdrant.Range{
				Gte: qdrant.PtrOf(v),
				Lte: qdrant.PtrOf(v),
			}))
		case map[string]interface{}:
			if err := appendConditions(out, field, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("metadata filter %q: unsupported value type %T", k, v)
		}
	}
	return nil
}
