package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/mcp-memory/config"
	"github.com/becomeliminal/mcp-memory/memory"
	"github.com/becomeliminal/mcp-memory/memory/embedder"
	"github.com/becomeliminal/mcp-memory/memory/embedder/fastembed"
	"github.com/becomeliminal/mcp-memory/memory/store"
	"github.com/becomeliminal/mcp-memory/server"
	"github.com/becomeliminal/mcp-memory/tools"
)

const (
	serverName = "mcp-server-memory"

	transportStdio     = "stdio"
	transportWebSocket = "ws"

	// queryCacheSize is the number of query embeddings kept in memory.
	queryCacheSize = 1000
)

var (
	// version is set at build time
	version = "dev"

	// CLI flags
	transport  string
	addr       string
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           serverName,
		Short:         "Semantic memory MCP server backed by a vector database",
		Long:          "mcp-server-memory stores and retrieves text memories by meaning, for MCP clients.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.Flags().StringVarP(&transport, "transport", "t", transportStdio, "Transport: stdio or ws")
	rootCmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address for the ws transport")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML settings file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment (empty to disable)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List supported embedding models",
		RunE:  runModels,
	}
	rootCmd.AddCommand(modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if transport != transportStdio && transport != transportWebSocket {
		return fmt.Errorf("unknown transport %q", transport)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	log.WithFields(log.Fields{
		"mode":       cfg.Mode().String(),
		"collection": cfg.CollectionName,
		"model":      cfg.Embedding.Model,
		"read_only":  cfg.ReadOnly,
	}).Info("starting")

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return err
	}
	if c, ok := emb.(io.Closer); ok {
		defer c.Close()
	}
	cached, err := memory.NewCachedEmbedder(emb, queryCacheSize)
	if err != nil {
		return err
	}
	defer cached.Close()

	st, err := store.Open(*cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := memory.NewConnector(memory.ConnectorConfig{
		CollectionName: cfg.CollectionName,
		SearchLimit:    cfg.SearchLimit,
	}, cached, st)
	if err != nil {
		return err
	}

	dispatcher := tools.NewMemoryDispatcher(conn, tools.Options{
		StoreDescription: cfg.StoreDescription,
		FindDescription:  cfg.FindDescription,
		SearchLimit:      cfg.SearchLimit,
		ReadOnly:         cfg.ReadOnly,
	})
	srv := server.New(server.NewHandler(dispatcher, server.Info{Name: serverName, Version: version}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if transport == transportWebSocket {
		return srv.Run(ctx, addr)
	}
	if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range fastembed.SupportedModels() {
		m, err := fastembed.LookupModel(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-45s %4d  %s\n", m.Name, m.Dimensions, m.Distance)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	opts := []config.Option{config.WithDotEnv(envFile)}
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	settings, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	return settings.Resolve()
}

// setupLogging sends logs to stderr (stdout carries the stdio transport)
// and, when configured, to a log file as well.
func setupLogging(cfg *config.Config) (func(), error) {
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if cfg.LogFile == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() { f.Close() }, nil
}
