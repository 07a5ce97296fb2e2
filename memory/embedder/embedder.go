// Package embedder selects an embedding provider by identifier.
package embedder

import (
	"fmt"
	"strings"

	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/embedder/fastembed"
)

// ProviderFastEmbed is the local ONNX model runner.
const ProviderFastEmbed = "fastembed"

// Options configures provider construction.
type Options struct {
	// Provider is the provider identifier. Default: ProviderFastEmbed.
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// CacheDir is where local providers find model files.
	CacheDir string

	// SharedLibraryPath points at the ONNX Runtime library.
	SharedLibraryPath string
}

// IsSupported reports whether provider names a known provider.
func IsSupported(provider string) bool {
	switch strings.ToLower(provider) {
	case "", ProviderFastEmbed:
		return true
	default:
		return false
	}
}

// New creates the embedder named by opts.Provider.
// Unknown providers yield a *memory.ConfigurationError.
func New(opts Options) (memory.Embedder, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderFastEmbed:
		p, err := fastembed.New(fastembed.Options{
			Model:             opts.Model,
			CacheDir:          opts.CacheDir,
			SharedLibraryPath: opts.SharedLibraryPath,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, memory.NewConfigurationError(fmt.Errorf("unsupported embedding provider %q", opts.Provider))
	}
}
