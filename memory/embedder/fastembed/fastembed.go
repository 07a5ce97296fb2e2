package fastembed

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/mcp-memory/memory"
)

// Options configures the FastEmbed provider.
type Options struct {
	// Model is the model identifier. Default: DefaultModel.
	Model string

	// CacheDir is the root holding model directories
	// (default: ~/.cache/fastembed).
	CacheDir string

	// ModelPath and TokenizerPath override the cache layout.
	ModelPath     string
	TokenizerPath string

	// SharedLibraryPath points at libonnxruntime. Empty uses the
	// runtime's default lookup.
	SharedLibraryPath string

	// BatchSize is the number of texts per inference call. Default: 16.
	BatchSize int

	// Parallelism bounds concurrent inference calls. Default: 2.
	Parallelism int
}

// runner executes the model on a padded batch and returns the raw output
// tensor data and shape.
type runner interface {
	run(inputIDs, attentionMask, tokenTypeIDs []int64, batch, seqLen int) ([]float32, []int64, error)
	close() error
}

// Provider generates embeddings with a local ONNX model.
type Provider struct {
	model       ModelInfo
	tokenizer   *Tokenizer
	runner      runner
	batchSize   int
	parallelism int
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

// New loads the model and tokenizer and starts an ONNX Runtime session.
func New(opts Options) (*Provider, error) {
	model, err := LookupModel(opts.Model)
	if err != nil {
		return nil, memory.NewEmbeddingError(opts.Model, err)
	}

	modelPath, tokenizerPath, err := resolvePaths(model, opts)
	if err != nil {
		return nil, memory.NewEmbeddingError(model.Name, err)
	}

	tokenizer, err := LoadTokenizer(tokenizerPath)
	if err != nil {
		return nil, memory.NewEmbeddingError(model.Name, fmt.Errorf("load tokenizer: %w", err))
	}

	ortOnce.Do(func() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, memory.NewEmbeddingError(model.Name, fmt.Errorf("initialize ONNX runtime: %w", ortInitErr))
	}

	r, err := newONNXRunner(modelPath)
	if err != nil {
		return nil, memory.NewEmbeddingError(model.Name, err)
	}

	log.WithFields(log.Fields{
		"model":      model.Name,
		"dimensions": model.Dimensions,
		"path":       modelPath,
	}).Info("loaded embedding model")

	return newProvider(model, tokenizer, r, opts), nil
}

func newProvider(model ModelInfo, tokenizer *Tokenizer, r runner, opts Options) *Provider {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 2
	}
	return &Provider{
		model:       model,
		tokenizer:   tokenizer,
		runner:      r,
		batchSize:   opts.BatchSize,
		parallelism: opts.Parallelism,
	}
}

// EmbedDocuments embeds texts with the model's document prefix.
// Batches run concurrently; output order matches input order.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vectors, err := p.embedBatch(texts[start:end], p.model.DocumentPrefix)
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, memory.NewEmbeddingError(p.model.Name, err)
	}
	return out, nil
}

// EmbedQuery embeds a search query with the model's query prefix.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, memory.NewEmbeddingError(p.model.Name, err)
	}
	vectors, err := p.embedBatch([]string{text}, p.model.QueryPrefix)
	if err != nil {
		return nil, memory.NewEmbeddingError(p.model.Name, err)
	}
	return vectors[0], nil
}

// VectorSize returns the model's embedding size.
func (p *Provider) VectorSize() int {
	return p.model.Dimensions
}

// Distance returns the model's distance metric.
func (p *Provider) Distance() memory.Distance {
	return p.model.Distance
}

// Model returns the loaded model's registry entry.
func (p *Provider) Model() ModelInfo {
	return p.model
}

// Close releases ONNX resources.
func (p *Provider) Close() error {
	if p.runner == nil {
		return nil
	}
	return p.runner.close()
}

// embedBatch tokenizes texts, pads them to the longest sequence, runs the
// model once and pools each row.
func (p *Provider) embedBatch(texts []string, prefix string) ([][]float32, error) {
	batch := len(texts)
	encoded := make([][]int64, batch)
	seqLen := 0
	for i, text := range texts {
		encoded[i] = p.tokenizer.Encode(prefix+text, p.model.MaxLength)
		if len(encoded[i]) > seqLen {
			seqLen = len(encoded[i])
		}
	}

	inputIDs := make([]int64, batch*seqLen)
	attentionMask := make([]int64, batch*seqLen)
	tokenTypeIDs := make([]int64, batch*seqLen)
	for i, ids := range encoded {
		row := inputIDs[i*seqLen : (i+1)*seqLen]
		for j := range row {
			row[j] = int64(p.tokenizer.padToken)
		}
		copy(row, ids)
		for j := range ids {
			attentionMask[i*seqLen+j] = 1
		}
	}

	data, shape, err := p.runner.run(inputIDs, attentionMask, tokenTypeIDs, batch, seqLen)
	if err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	return p.pool(data, shape, attentionMask, batch, seqLen)
}

// pool reduces model output to one normalized vector per row. Output is
// either already pooled ([batch, hidden]) or per token ([batch, seq, hidden]).
func (p *Provider) pool(data []float32, shape []int64, mask []int64, batch, seqLen int) ([][]float32, error) {
	dims := p.model.Dimensions
	out := make([][]float32, batch)

	switch len(shape) {
	case 2:
		if shape[0] != int64(batch) || shape[1] != int64(dims) {
			return nil, fmt.Errorf("unexpected output shape %v, want [%d %d]", shape, batch, dims)
		}
		for b := 0; b < batch; b++ {
			vec := make([]float32, dims)
			copy(vec, data[b*dims:(b+1)*dims])
			out[b] = normalize(vec)
		}
	case 3:
		if shape[0] != int64(batch) || shape[1] != int64(seqLen) || shape[2] != int64(dims) {
			return nil, fmt.Errorf("unexpected output shape %v, want [%d %d %d]", shape, batch, seqLen, dims)
		}
		for b := 0; b < batch; b++ {
			vec := make([]float32, dims)
			rowOffset := b * seqLen * dims
			if p.model.Pooling == PoolingCLS {
				copy(vec, data[rowOffset:rowOffset+dims])
				out[b] = normalize(vec)
				continue
			}
			// Mean pooling over attended tokens
			attended := float32(0)
			for s := 0; s < seqLen; s++ {
				if mask[b*seqLen+s] == 0 {
					continue
				}
				attended++
				offset := rowOffset + s*dims
				for j := 0; j < dims; j++ {
					vec[j] += data[offset+j]
				}
			}
			if attended > 0 {
				for j := range vec {
					vec[j] /= attended
				}
			}
			out[b] = normalize(vec)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
	return out, nil
}

// resolvePaths locates the model and tokenizer files.
func resolvePaths(model ModelInfo, opts Options) (string, string, error) {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache", "fastembed")
	}
	dir := filepath.Join(cacheDir, model.Dir)

	modelPath := opts.ModelPath
	if modelPath == "" {
		modelPath = filepath.Join(dir, model.ModelFile)
	}
	tokenizerPath := opts.TokenizerPath
	if tokenizerPath == "" {
		tokenizerPath = filepath.Join(dir, "tokenizer.json")
	}

	for _, path := range []string{modelPath, tokenizerPath} {
		if _, err := os.Stat(path); err != nil {
			return "", "", fmt.Errorf("model file %s: %w", path, err)
		}
	}
	return modelPath, tokenizerPath, nil
}

// onnxRunner runs inference through an ONNX Runtime session.
type onnxRunner struct {
	session *ort.DynamicAdvancedSession
}

func newONNXRunner(modelPath string) (*onnxRunner, error) {
	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &onnxRunner{session: session}, nil
}

func (r *onnxRunner) run(inputIDs, attentionMask, tokenTypeIDs []int64, batch, seqLen int) ([]float32, []int64, error) {
	shape := ort.NewShape(int64(batch), int64(seqLen))

	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDsTensor.Destroy()

	// Outputs are allocated by Run.
	inputs := []ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}
	outputs := []ort.Value{nil}
	if err := r.session.Run(inputs, outputs); err != nil {
		return nil, nil, err
	}
	defer func() {
		for _, output := range outputs {
			if output != nil {
				output.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	// GetData aliases tensor memory that is freed on Destroy.
	data := make([]float32, len(tensor.GetData()))
	copy(data, tensor.GetData())
	return data, []int64(tensor.GetShape()), nil
}

func (r *onnxRunner) close() error {
	return r.session.Destroy()
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
