package fastembed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/becomeliminal/mcp-memory/memory"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// bgeQueryPrefix is the retrieval instruction BGE-style models expect on queries.
const bgeQueryPrefix = "Represent this sentence for searching relevant passages: "

// Pooling selects how token embeddings collapse into one vector.
type Pooling int

const (
	// PoolingMean averages attended token embeddings.
	PoolingMean Pooling = iota
	// PoolingCLS takes the first ([CLS]) token embedding.
	PoolingCLS
)

// ModelInfo describes a supported model and where it lives in the cache.
type ModelInfo struct {
	Name       string
	Dimensions int
	Distance   memory.Distance
	Pooling    Pooling

	// QueryPrefix and DocumentPrefix are prepended before tokenization.
	// Models trained with asymmetric retrieval need them.
	QueryPrefix    string
	DocumentPrefix string

	// MaxLength is the maximum sequence length including special tokens.
	MaxLength int

	// Dir is the model directory under the cache root, ModelFile the ONNX
	// file inside it.
	Dir       string
	ModelFile string
}

var models = map[string]ModelInfo{
	"sentence-transformers/all-minilm-l6-v2": {
		Name:       "sentence-transformers/all-MiniLM-L6-v2",
		Dimensions: 384,
		Distance:   memory.Cosine,
		Pooling:    PoolingMean,
		MaxLength:  256,
		Dir:        "fast-all-MiniLM-L6-v2",
		ModelFile:  "model.onnx",
	},
	"baai/bge-small-en-v1.5": {
		Name:        "BAAI/bge-small-en-v1.5",
		Dimensions:  384,
		Distance:    memory.Cosine,
		Pooling:     PoolingCLS,
		QueryPrefix: bgeQueryPrefix,
		MaxLength:   512,
		Dir:         "fast-bge-small-en-v1.5",
		ModelFile:   "model_optimized.onnx",
	},
	"baai/bge-base-en-v1.5": {
		Name:        "BAAI/bge-base-en-v1.5",
		Dimensions:  768,
		Distance:    memory.Cosine,
		Pooling:     PoolingCLS,
		QueryPrefix: bgeQueryPrefix,
		MaxLength:   512,
		Dir:         "fast-bge-base-en-v1.5",
		ModelFile:   "model_optimized.onnx",
	},
	"snowflake/snowflake-arctic-embed-xs": {
		Name:        "snowflake/snowflake-arctic-embed-xs",
		Dimensions:  384,
		Distance:    memory.Cosine,
		Pooling:     PoolingCLS,
		QueryPrefix: bgeQueryPrefix,
		MaxLength:   512,
		Dir:         "fast-snowflake-arctic-embed-xs",
		ModelFile:   "model.onnx",
	},
}

// LookupModel returns the registry entry for name (case-insensitive).
func LookupModel(name string) (ModelInfo, error) {
	if name == "" {
		name = DefaultModel
	}
	info, ok := models[strings.ToLower(name)]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unsupported model %q (supported: %s)",
			name, strings.Join(SupportedModels(), ", "))
	}
	return info, nil
}

// SupportedModels returns the registered model names, sorted.
func SupportedModels() []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}
