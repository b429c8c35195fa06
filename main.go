package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "github.com/elie222/inbox-zero-sub019/cmd/api"
	"github.com/elie222/inbox-zero-sub019/internal/migration"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/config"
	"github.com/elie222/inbox-zero-sub019/pkg/database"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	configFile string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "inbox",
		Short:         "Inbound email automation: rules, actions, digests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitLogger(verbose)
		},
		RunE: runServe,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API and background workers", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create or update the database schema", RunE: runMigrate},
		&cobra.Command{Use: "digest-tick", Short: "Queue every digest that is due now", RunE: runDigestTick},
		&cobra.Command{Use: "cleanup-drafts", Short: "Delete stale AI drafts nobody edited", RunE: runCleanupDrafts},
		bootstrapCommand(),
	)

	if err := root.Execute(); err != nil {
		logger.Logger.Error().Err(err).Msg("[Main] Command failed")
		os.Exit(1)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewConnection(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migration.Run(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return cfg, db, nil
}

func newApp(ctx context.Context) (*api.App, error) {
	cfg, db, err := setup()
	if err != nil {
		return nil, err
	}
	return api.NewApp(ctx, cfg, db)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.Queue.Start(ctx)
	app.Scheduler.Start(ctx)
	app.DraftCleaner.Start(ctx)
	app.IMAPPoller.Start(ctx)
	if app.WatchRenewer != nil {
		app.WatchRenewer.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Logger.Info().Str("addr", srv.Addr).Msg("[Main] Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if app.PubSub != nil {
		g.Go(func() error {
			defer app.PubSub.Close()
			return app.PubSub.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info().Msg("[Main] Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		if app.WatchRenewer != nil {
			app.WatchRenewer.Stop()
		}
		app.IMAPPoller.Stop()
		app.DraftCleaner.Stop()
		app.Scheduler.Stop()
		app.Queue.Stop()
		return err
	})

	return g.Wait()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if _, _, err := setup(); err != nil {
		return err
	}
	logger.Logger.Info().Msg("[Main] Schema is up to date")
	return nil
}

// runDigestTick queues due digests and drains the queue so the compile
// tasks run before the process exits.
func runDigestTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	n, err := app.Scheduler.Tick(ctx)
	if err != nil {
		return err
	}
	ran, err := app.Queue.Drain(ctx)
	logger.Logger.Info().Int("queued", n).Int("ran", ran).Msg("[Main] Digest tick finished")
	return err
}

func runCleanupDrafts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	res, err := app.DraftCleaner.Run(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Logger.Info().Int("deleted", res.Deleted).Int("kept", res.Kept).Int("missing", res.Missing).Msg("[Main] Draft cleanup finished")
	return nil
}

func bootstrapCommand() *cobra.Command {
	var (
		accountID  string
		categories []string
	)
	cmd := &cobra.Command{
		Use:   "bootstrap-rules",
		Short: "Create the preset rules for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			var types []ruledomain.SystemType
			for _, c := range categories {
				types = append(types, ruledomain.SystemType(strings.ToLower(strings.TrimSpace(c))))
			}
			created, err := app.Rules.Bootstrap(ctx, accountID, types)
			if err != nil {
				return err
			}
			for _, r := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ID, r.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "preset categories to create (default: all)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
