// Package config resolves server settings from the environment, an optional
// .env file and an optional YAML file into a validated Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/embedder"
)

// Environment variable names.
const (
	EnvQdrantURL          = "QDRANT_URL"
	EnvQdrantAPIKey       = "QDRANT_API_KEY"
	EnvLocalPath          = "QDRANT_LOCAL_PATH"
	EnvCollectionName     = "COLLECTION_NAME"
	EnvEmbeddingProvider  = "EMBEDDING_PROVIDER"
	EnvEmbeddingModel     = "EMBEDDING_MODEL"
	EnvFastEmbedCachePath = "FASTEMBED_CACHE_PATH"
	EnvSharedLibraryPath  = "ONNXRUNTIME_SHARED_LIBRARY_PATH"
	EnvSearchLimit        = "QDRANT_SEARCH_LIMIT"
	EnvReadOnly           = "QDRANT_READ_ONLY"
	EnvStoreDescription   = "TOOL_STORE_DESCRIPTION"
	EnvFindDescription    = "TOOL_FIND_DESCRIPTION"
	EnvLogLevel           = "MCP_LOG_LEVEL"
	EnvLogFile            = "MCP_LOG_FILE"
)

// Defaults.
const (
	DefaultEmbeddingProvider = embedder.ProviderFastEmbed
	DefaultEmbeddingModel    = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultSearchLimit       = memory.DefaultSearchLimit
	DefaultLogLevel          = "info"

	DefaultStoreDescription = "Keep the memory for later use, when you are asked to remember something."
	DefaultFindDescription  = "Look up memories in Qdrant. Use this tool when you need to: \n" +
		" - Find memories by their content \n" +
		" - Access memories for further analysis \n" +
		" - Get some personal information about the user"
)

// Mode is the vector store connection mode.
type Mode int

const (
	// ModeRemote connects to a Qdrant server.
	ModeRemote Mode = iota + 1
	// ModeLocal uses an embedded store at a filesystem path or in memory.
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeRemote:
		return "remote"
	case ModeLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Settings is the raw, unvalidated configuration as read.
type Settings struct {
	QdrantURL         string `yaml:"qdrant_url"`
	QdrantAPIKey      string `yaml:"qdrant_api_key"`
	LocalPath         string `yaml:"qdrant_local_path"`
	CollectionName    string `yaml:"collection_name"`
	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`
	CachePath         string `yaml:"fastembed_cache_path"`
	SharedLibraryPath string `yaml:"onnxruntime_shared_library_path"`
	SearchLimit       int    `yaml:"search_limit"`
	ReadOnly          bool   `yaml:"read_only"`
	StoreDescription  string `yaml:"tool_store_description"`
	FindDescription   string `yaml:"tool_find_description"`
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file"`

	// parse problems found while loading, reported by Resolve
	errs []error
}

// Config is the validated configuration. It is passed by value and never
// modified after Resolve.
type Config struct {
	QdrantURL      string
	QdrantAPIKey   string
	LocalPath      string
	CollectionName string

	Embedding embedder.Options

	SearchLimit int
	ReadOnly    bool

	StoreDescription string
	FindDescription  string

	LogLevel log.Level
	LogFile  string
}

// Mode reports which store the configuration selects.
func (c Config) Mode() Mode {
	if c.QdrantURL != "" {
		return ModeRemote
	}
	return ModeLocal
}

// LookupFunc returns the value of a variable and whether it is set.
type LookupFunc func(key string) (string, bool)

type loadOptions struct {
	file   string
	dotEnv string
	lookup LookupFunc
}

// Option configures Load.
type Option func(*loadOptions)

// WithFile reads settings from a YAML file before applying the environment.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithDotEnv reads variables from the given .env file. Empty disables it.
// Default: ".env" in the working directory, if present.
func WithDotEnv(path string) Option {
	return func(o *loadOptions) { o.dotEnv = path }
}

// WithLookup replaces the process environment lookup.
func WithLookup(fn LookupFunc) Option {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load reads settings. Later sources win: defaults, YAML file, .env file,
// process environment. Variables already in the environment are never
// overridden by the .env file.
func Load(opts ...Option) (*Settings, error) {
	o := &loadOptions{dotEnv: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}

	s := &Settings{
		EmbeddingProvider: DefaultEmbeddingProvider,
		EmbeddingModel:    DefaultEmbeddingModel,
		SearchLimit:       DefaultSearchLimit,
		StoreDescription:  DefaultStoreDescription,
		FindDescription:   DefaultFindDescription,
		LogLevel:          DefaultLogLevel,
	}

	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	lookup := o.lookup
	if o.dotEnv != "" {
		dotEnv, err := godotenv.Read(o.dotEnv)
		switch {
		case err == nil:
			lookup = layered(o.lookup, dotEnv)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", o.dotEnv, err)
		}
	}

	s.apply(lookup)
	return s, nil
}

// layered prefers the primary lookup and falls back to values.
func layered(primary LookupFunc, values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}
}

func (s *Settings) apply(lookup LookupFunc) {
	getEnvOr := func(key, fallback string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return fallback
	}

	s.QdrantURL = getEnvOr(EnvQdrantURL, s.QdrantURL)
	s.QdrantAPIKey = getEnvOr(EnvQdrantAPIKey, s.QdrantAPIKey)
	s.LocalPath = getEnvOr(EnvLocalPath, s.LocalPath)
	s.CollectionName = getEnvOr(EnvCollectionName, s.CollectionName)
	s.EmbeddingProvider = getEnvOr(EnvEmbeddingProvider, s.EmbeddingProvider)
	s.EmbeddingModel = getEnvOr(EnvEmbeddingModel, s.EmbeddingModel)
	s.CachePath = getEnvOr(EnvFastEmbedCachePath, s.CachePath)
	s.SharedLibraryPath = getEnvOr(EnvSharedLibraryPath, s.SharedLibraryPath)
	s.StoreDescription = getEnvOr(EnvStoreDescription, s.StoreDescription)
	s.FindDescription = getEnvOr(EnvFindDescription, s.FindDescription)
	s.LogLevel = getEnvOr(EnvLogLevel, s.LogLevel)
	s.LogFile = getEnvOr(EnvLogFile, s.LogFile)

	if v, ok := lookup(EnvSearchLimit); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("%s: %q is not an integer", EnvSearchLimit, v))
		} else {
			s.SearchLimit = n
		}
	}
	if v, ok := lookup(EnvReadOnly); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("%s: %q is not a boolean", EnvReadOnly, v))
		} else {
			s.ReadOnly = b
		}
	}
}

// Resolve validates the settings. Every problem is reported at once,
// wrapped in a *memory.ConfigurationError.
func (s *Settings) Resolve() (*Config, error) {
	var result *multierror.Error
	for _, err := range s.errs {
		result = multierror.Append(result, err)
	}

	switch {
	case s.QdrantURL != "" && s.LocalPath != "":
		result = multierror.Append(result,
			fmt.Errorf("%s and %s are mutually exclusive", EnvQdrantURL, EnvLocalPath))
	case s.QdrantURL == "" && s.LocalPath == "":
		result = multierror.Append(result,
			fmt.Errorf("one of %s or %s is required", EnvQdrantURL, EnvLocalPath))
	}
	if s.QdrantURL != "" {
		if err := validateURL(s.QdrantURL); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if strings.TrimSpace(s.CollectionName) == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", EnvCollectionName))
	}
	if !embedder.IsSupported(s.EmbeddingProvider) {
		result = multierror.Append(result,
			fmt.Errorf("%s: unsupported provider %q", EnvEmbeddingProvider, s.EmbeddingProvider))
	}
	if s.SearchLimit < 1 {
		result = multierror.Append(result,
			fmt.Errorf("%s must be at least 1, got %d", EnvSearchLimit, s.SearchLimit))
	}
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", EnvLogLevel, err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, memory.NewConfigurationError(err)
	}

	return &Config{
		QdrantURL:      s.QdrantURL,
		QdrantAPIKey:   s.QdrantAPIKey,
		LocalPath:      s.LocalPath,
		CollectionName: s.CollectionName,
		Embedding: embedder.Options{
			Provider:          strings.ToLower(s.EmbeddingProvider),
			Model:             s.EmbeddingModel,
			CacheDir:          s.CachePath,
			SharedLibraryPath: s.SharedLibraryPath,
		},
		SearchLimit:      s.SearchLimit,
		ReadOnly:         s.ReadOnly,
		StoreDescription: s.StoreDescription,
		FindDescription:  s.FindDescription,
		LogLevel:         level,
		LogFile:          s.LogFile,
	}, nil
}

func validateURL(raw string) error {
	withScheme := raw
	if !strings.Contains(raw, "://") {
		withScheme = "http://" + raw
	}
	u, err := url.Parse(withScheme)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvQdrantURL, err)
	}
	switch u.Scheme {
	case "http", "https", "grpc":
	default:
		return fmt.Errorf("%s: unsupported scheme %q", EnvQdrantURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%s: missing host in %q", EnvQdrantURL, raw)
	}
	return nil
}
