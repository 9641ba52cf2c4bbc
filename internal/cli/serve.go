package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okonma/reverie/internal/config"
	"github.com/okonma/reverie/internal/dreamer"
	"github.com/okonma/reverie/internal/oracle"
	"github.com/okonma/reverie/internal/priority"
	"github.com/okonma/reverie/internal/query"
	"github.com/okonma/reverie/internal/server"
	"github.com/okonma/reverie/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the background dreamer",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	prio := priorityParams(cfg)
	queries := queryEngine(db, cfg, prio)

	relate, summarize, err := buildOracles(cfg)
	if err != nil {
		return fmt.Errorf("configure oracle: %w", err)
	}

	var d *dreamer.Dreamer
	if cfg.Dreamer.Enabled {
		d = dreamer.New(db, relate, summarize, prio, dreamerConfig(cfg), log.Named("dreamer"))
		d.Start()
		defer d.Stop()
	} else {
		log.Info("dreamer disabled by config")
	}

	srv := server.New(db, queries, d, log.Named("server"), VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("reverie serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.String("oracle", cfg.Oracle.Provider))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// openDB opens the configured database, falling back to the default
// path, and applies the edge combine policy.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if policy := store.CombinePolicy(cfg.Database.CombinePolicy); store.ValidCombinePolicy(policy) {
		db.Combine = policy
	}
	return db, nil
}

func priorityParams(cfg config.Config) priority.Params {
	params := priority.DefaultParams()
	if cfg.Priority.HalfLifeHours > 0 {
		params.HalfLife = time.Duration(cfg.Priority.HalfLifeHours) * time.Hour
	}
	if cfg.Priority.FrequencySaturation > 0 {
		params.FrequencySaturation = cfg.Priority.FrequencySaturation
	}
	if cfg.Priority.Floor > 0 {
		params.Floor = cfg.Priority.Floor
	}
	return params
}

func queryEngine(db *store.DB, cfg config.Config, prio priority.Params) *query.Engine {
	engine := query.New(db, prio)
	if cfg.Query.MatchThreshold > 0 {
		engine.Opts.MatchThreshold = cfg.Query.MatchThreshold
	}
	if cfg.Query.ExhaustiveThreshold > 0 {
		engine.Opts.ExhaustiveThreshold = cfg.Query.ExhaustiveThreshold
	}
	if cfg.Query.PriorityFloor > 0 {
		engine.Opts.PriorityFloor = cfg.Query.PriorityFloor
	}
	if cfg.Query.Limit > 0 {
		engine.Opts.Limit = cfg.Query.Limit
	}
	return engine
}

func dreamerConfig(cfg config.Config) dreamer.Config {
	dc := dreamer.DefaultConfig()
	if cfg.Dreamer.IntervalSeconds > 0 {
		dc.Interval = time.Duration(cfg.Dreamer.IntervalSeconds) * time.Second
	}
	if cfg.Dreamer.SampleSize > 0 {
		dc.SampleSize = cfg.Dreamer.SampleSize
	}
	if cfg.Dreamer.DiscoveryThreshold > 0 {
		dc.DiscoveryThreshold = cfg.Dreamer.DiscoveryThreshold
	}
	if cfg.Dreamer.ClusterThreshold > 0 {
		dc.ClusterThreshold = cfg.Dreamer.ClusterThreshold
	}
	if cfg.Dreamer.MinClusterSize > 0 {
		dc.MinClusterSize = cfg.Dreamer.MinClusterSize
	}
	if cfg.Dreamer.RedundancyOverlap > 0 {
		dc.RedundancyOverlap = cfg.Dreamer.RedundancyOverlap
	}
	if cfg.Dreamer.MergeSimilarity > 0 {
		dc.MergeSimilarity = cfg.Dreamer.MergeSimilarity
	}
	if cfg.Dreamer.OracleTimeoutSecs > 0 {
		dc.OracleTimeout = time.Duration(cfg.Dreamer.OracleTimeoutSecs) * time.Second
	}
	return dc
}

// buildOracles selects the oracle implementation from config. The
// heuristic oracle is the default and needs no credentials.
func buildOracles(cfg config.Config) (oracle.Relatedness, oracle.Summarizer, error) {
	switch cfg.Oracle.Provider {
	case "", "heuristic":
		h := oracle.Heuristic{}
		return h, h, nil
	case "openai":
		o, err := oracle.NewOpenAI(cfg.Oracle.APIKey, cfg.Oracle.Model)
		if err != nil {
			return nil, nil, err
		}
		return o, o, nil
	default:
		return nil, nil, fmt.Errorf("unknown oracle provider: %q", cfg.Oracle.Provider)
	}
}
