// Companion daemon: the chat pipeline, proactive scheduler and HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/quantumlife/companion/internal/api"
	"github.com/quantumlife/companion/internal/config"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/tracing"
)

var (
	configPath string
	dataDir    string
	port       int
	fakeTime   bool

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Companion - a personal assistant that keeps track of what you say",
		Long: `Companion listens to what you tell it, turns promises and habits
into tracked commitments, and checks in with you when they come due.`,
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	rootCmd.Flags().BoolVar(&fakeTime, "fake-time", false, "run the scheduler on accelerated time")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" && dataDir != "" {
		path = config.DefaultPath(dataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if fakeTime {
		cfg.Scheduler.Mode = "fake"
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	log.WithField("data_dir", cfg.DataDir).Info("starting companion")

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if cfg.Scheduler.DefaultPrompts {
		n, err := c.proactive.EnsureDefaultPrompts(ctx, core.DefaultUserID)
		if err != nil {
			return fmt.Errorf("default prompts: %w", err)
		}
		if n > 0 {
			log.WithField("created", n).Info("default prompts created")
		}
	}

	server, err := api.New(api.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Agent:     c.agent,
		DB:        c.db,
		Clock:     c.clock,
		FakeClock: c.fakeClock,
		Scheduler: c.scheduler,
		Proactive: c.proactive,
		Hub:       c.hub,
		Memory:    c.memory,
	})
	if err != nil {
		return err
	}

	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}
	defer c.scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Info("api listening")
		return server.Start()
	})
	if c.relay != nil {
		g.Go(func() error {
			err := c.relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(sctx); err != nil {
			log.WithField("error", err).Warn("api shutdown failed")
		}
		if err := shutdownTracing(sctx); err != nil {
			log.WithField("error", err).Warn("tracing shutdown failed")
		}
		return nil
	})

	return g.Wait()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			status, err := db.Migrations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Database: %s\n", cfg.DatabasePath())
			for _, m := range status {
				at := "pending"
				if m.AppliedAt != nil {
					at = m.AppliedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("   %-28s %s\n", m.Name, at)
			}
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	var (
		userID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the semantic index from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.close()

			if !c.memory.Enabled() {
				return fmt.Errorf("semantic memory is not available")
			}
			n, err := c.memory.Reindex(ctx, c.db, core.UserID(userID), limit)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d records for user %d\n", n, userID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", int64(core.DefaultUserID), "user to reindex")
	cmd.Flags().IntVar(&limit, "conversations", 500, "most recent conversations to index")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := *cfg
			out.Claude.APIKey = ""
			out.Gemini.APIKey = ""
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			path := configPath
			if path == "" {
				path = config.DefaultPath(cfg.DataDir)
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(show, initCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("companion %s\n", version)
		},
	}
}
