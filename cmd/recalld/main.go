// Package main implements the recalld daemon: an MCP memory server on
// stdio with an HTTP ops endpoint on the side.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/extract"
	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/mcp"
	"github.com/fyrsmithlabs/recalld/internal/remote"
	"github.com/fyrsmithlabs/recalld/internal/scrub"
	"github.com/fyrsmithlabs/recalld/pkg/server"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// stopTimeout bounds engine drain after the run context ends.
const stopTimeout = 10 * time.Second

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Memory daemon for AI agents",
	Long: `recalld keeps a warm, searchable working set of agent memories in front
of an authoritative store. It speaks MCP on stdio, so stdout belongs to
the protocol; logs go to stderr and operational state is served over a
localhost HTTP endpoint.

Register it with an MCP client as a stdio server:

  {"command": "recalld"}`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			cancel()
		}()

		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recalld %s\n", version)
		fmt.Printf("  commit: %s\n", gitCommit)
		fmt.Printf("  built:  %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/recalld/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	mode := cfg.EffectiveMode()
	logger.Info("starting recalld",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.String("mode", mode))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	eng, err := engine.New(engineConfig(cfg), deps.store, deps.backend, deps.embedder, deps.extractor, deps.scrubber, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if err := eng.Stop(stopCtx); err != nil {
			logger.Warn("engine stop incomplete", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		ops := server.NewServer(server.Config{
			Port:            cfg.Server.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Version:         version,
			Mode:            mode,
		}, eng)
		go func() {
			if err := ops.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	mcpSrv, err := mcp.NewServer(&mcp.Config{
		Name:    "recalld",
		Version: version,
		Logger:  logger.Named("mcp"),
	}, eng)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	err = mcpSrv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("recalld stopped")
	return nil
}

// dependencies holds everything the engine is built from.
type dependencies struct {
	store     *kv.Redis
	backend   remote.Store
	embedder  embed.Embedder
	extractor extract.Extractor
	scrubber  scrub.Scrubber
	logger    *zap.Logger
}

// Close releases held resources. Backend clients hold no connections
// of their own; the KV store is the only thing to tear down.
func (d *dependencies) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close KV store", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV store: %w", err)
	}

	backend, err := initBackend(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	embedder, err := initEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	scrubber, err := initScrubber(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &dependencies{
		store:     store,
		backend:   backend,
		embedder:  embedder,
		extractor: extract.NewHeuristic(extract.DefaultConfig()),
		scrubber:  scrubber,
		logger:    logger,
	}, nil
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*kv.Redis, error) {
	if cfg.KV.URL != "" {
		return kv.New(ctx, kv.Config{URL: cfg.KV.URL, OpTimeout: cfg.Timeouts.KV}, logger.Named("kv"))
	}
	return kv.NewEmbedded(ctx, logger.Named("kv"))
}

func initBackend(ctx context.Context, cfg *config.Config, store kv.KV, logger *zap.Logger) (remote.Store, error) {
	switch cfg.EffectiveMode() {
	case config.ModeHybrid:
		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.Remote.BaseURL,
			APIKey:  cfg.Remote.APIKey,
			Timeout: cfg.Timeouts.Remote,
		}, logger.Named("remote"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backend client: %w", err)
		}
		return client, nil

	case config.ModeDemo:
		local := remote.NewLocal(store, logger.Named("remote"))
		if err := local.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load local store: %w", err)
		}
		if err := local.Seed(ctx, remote.DemoSeeds()); err != nil {
			return nil, fmt.Errorf("failed to seed demo memories: %w", err)
		}
		return local, nil

	default:
		local := remote.NewLocal(store, logger.Named("remote"))
		if err := local.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load local store: %w", err)
		}
		return local, nil
	}
}

func initEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var base embed.Embedder
	if cfg.Embed.BaseURL != "" {
		tei, err := embed.NewTEI(embed.TEIConfig{
			BaseURL:   cfg.Embed.BaseURL,
			Model:     cfg.Embed.Model,
			APIKey:    cfg.Embed.APIKey,
			Dimension: cfg.Embed.Dimension,
			Timeout:   cfg.Timeouts.Embed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		base = tei
	} else {
		base = embed.NewLocal(cfg.Embed.Dimension)
	}
	cached, err := embed.NewCached(base, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	return cached, nil
}

func initScrubber(cfg *config.Config) (scrub.Scrubber, error) {
	if !cfg.Scrub.Enabled {
		return scrub.Noop{}, nil
	}
	sc := scrub.DefaultConfig()
	if cfg.Scrub.AllowlistFile != "" {
		allow, err := scrub.LoadAllowlist(cfg.Scrub.AllowlistFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scrub allowlist: %w", err)
		}
		sc.AllowList = append(sc.AllowList, allow...)
	}
	s, err := scrub.New(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scrubber: %w", err)
	}
	return s, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		DefaultUserID:     cfg.Memory.DefaultUserID,
		MaxContentBytes:   cfg.Memory.MaxContentBytes,
		DedupThreshold:    cfg.Dedup.Threshold,
		SearchTTL:         cfg.Cache.SearchTTL,
		EmbedTimeout:      cfg.Timeouts.Embed,
		ExtractTimeout:    cfg.Timeouts.Extract,
		JobTimeout:        cfg.Timeouts.JobWait,
		EnrichConcurrency: cfg.Enrich.Concurrency,
		EnrichQueueSize:   cfg.Enrich.QueueSize,
		SyncInterval:      cfg.Sync.Interval,
		SyncBatchSize:     cfg.Sync.BatchSize,
		Cache: cache.Config{
			L1TTL:                   cfg.Cache.L1TTL,
			L2TTL:                   cfg.Cache.L2TTL,
			FrequentAccessThreshold: cfg.Cache.FrequentAccessThreshold,
			MaxSize:                 cfg.Cache.MaxSize,
		},
	}
}
