// Package store opens the vector store selected by the configuration.
package store

import (
	"github.com/becomeliminal/mcp-memory/config"
	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/store/chromem"
	"github.com/becomeliminal/mcp-memory/memory/store/qdrant"
)

// Open returns a Qdrant client in remote mode, or an embedded chromem
// store in local mode. The local path ":memory:" keeps data in memory.
func Open(cfg config.Config) (memory.Store, error) {
	if cfg.Mode() == config.ModeRemote {
		s, err := qdrant.New(qdrant.Config{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := chromem.Open(cfg.LocalPath)
	if err != nil {
		return nil, err
	}
	return s, nil
}
