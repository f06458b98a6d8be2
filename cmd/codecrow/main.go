package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rostilos/codecrow/internal/ai"
	"github.com/rostilos/codecrow/internal/analysis"
	"github.com/rostilos/codecrow/internal/cache"
	"github.com/rostilos/codecrow/internal/config"
	"github.com/rostilos/codecrow/internal/jobs"
	"github.com/rostilos/codecrow/internal/lock"
	"github.com/rostilos/codecrow/internal/logging"
	"github.com/rostilos/codecrow/internal/rag"
	"github.com/rostilos/codecrow/internal/server"
	"github.com/rostilos/codecrow/internal/store"
	"github.com/rostilos/codecrow/internal/vcs"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "codecrow",
		Short: "Analysis orchestration core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (yaml)")
	root.AddCommand(serveCmd(), sweepLocksCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP adapter and lock sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Initialize(logging.DefaultConfig(cfg.Debug)); err != nil {
				return err
			}
			defer logging.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, locker, err := buildStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.Storage.SeedFile != "" {
				n, err := store.SeedProjects(ctx, st, cfg.Storage.SeedFile)
				if err != nil {
					return fmt.Errorf("seed projects: %w", err)
				}
				logging.Component("store").Info("projects seeded", "count", n, "file", cfg.Storage.SeedFile)
			}

			plog := newPipelineLogger(cfg.Debug)

			recorder := jobs.Recorder(jobs.Discard)
			if cfg.Storage.AuditDSN != "" {
				dbRec, err := jobs.NewDBRecorder(cfg.Storage.AuditDSN, plog)
				if err != nil {
					return fmt.Errorf("audit recorder: %w", err)
				}
				defer dbRec.Close()
				recorder = dbRec
			}

			diffs, err := cache.New(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.TTL, logging.Component("cache"))
			if err != nil {
				return fmt.Errorf("diff cache: %w", err)
			}
			defer diffs.Close()

			deps := analysis.Deps{
				Store:  st,
				Locker: locker,
				AI:     ai.NewClient(cfg.AI.BaseURL, cfg.AI.ServiceSecret, cfg.AI.Timeout, logging.Component("ai")),
				VCS:    vcs.DefaultFactory(logging.Component("vcs")),
				Rag:    rag.NewBridge(cfg.Rag.BaseURL, cfg.Rag.ServiceSecret, cfg.Rag.Timeout, logging.Component("rag")),
				Diffs:  diffs,
				Jobs:   recorder,
				Config: cfg,
				Logger: plog,
			}

			srv := server.New(cfg.Server.ListenAddr, cfg.Server.ServiceSecret,
				analysis.NewPrProcessor(deps), analysis.NewBranchProcessor(deps),
				logging.Component("server"))

			go runSweeper(ctx, locker, cfg.Locks.TTL)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func sweepLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-locks",
		Short: "Delete expired analysis locks once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Initialize(logging.DefaultConfig(cfg.Debug)); err != nil {
				return err
			}
			defer logging.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			st, locker, err := buildStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := locker.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("swept %d expired locks\n", n)
			return nil
		},
	}
}

func buildStorage(ctx context.Context, cfg *config.Config) (store.Store, lock.Locker, error) {
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, logging.Component("store"))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return pg, lock.NewPostgresLocker(pg.Pool(), logging.Component("lock")), nil
	case "memory":
		return store.NewMemoryStore(), lock.NewMemoryLocker(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// runSweeper reclaims expired locks on a half-TTL cadence so a crashed run
// never blocks a branch for longer than one TTL.
func runSweeper(ctx context.Context, locker lock.Locker, ttl time.Duration) {
	log := logging.Component("sweeper")
	interval := ttl / 2
	if interval <= 0 {
		interval = lock.DefaultTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := locker.SweepExpired(ctx)
			if err != nil {
				log.Warn("lock sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired locks reclaimed", "count", n)
			}
		}
	}
}

func newPipelineLogger(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
