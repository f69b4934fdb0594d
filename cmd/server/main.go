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

	"expense-api/internal/auth"
	"expense-api/internal/config"
	"expense-api/internal/expenses"
	"expense-api/internal/handlers"
	"expense-api/internal/log"
	"expense-api/internal/storage"
	"expense-api/internal/summary"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	load := func() (*config.Config, *log.Logger, error) {
		cfg, err := config.Load(config.New(), cfgFile)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		logger := log.New(cfg.LoggerConfig())
		log.SetDefault(logger)
		return cfg, logger, nil
	}

	root := &cobra.Command{
		Use:           "expense-api",
		Short:         "Personal expense tracking API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.StorageOptions())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			logger.WithComponent(log.ComponentStorage).Info("migrations applied",
				log.FieldOperation, log.OpMigrate, "driver", cfg.DBDriver)
			return nil
		},
	})

	return root
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	identity := auth.NewService(store, cfg.TokenTTL)
	if cfg.HasAdmin() {
		if err := bootstrapAdmin(ctx, identity, cfg, logger); err != nil {
			return err
		}
	}

	h := handlers.NewHandlers(identity, expenses.NewService(store), summary.NewService(store), store)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           log.Middleware(logger)(setupRouter(h)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", log.FieldOperation, log.OpStartup, "addr", srv.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// setupRouter builds the API route table.
func setupRouter(h *handlers.Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	h.Mount(mux)
	return mux
}

// bootstrapAdmin makes sure the configured staff account exists.
func bootstrapAdmin(ctx context.Context, identity *auth.Service, cfg *config.Config, logger *log.Logger) error {
	created, err := identity.EnsureUser(ctx, cfg.AdminUser, cfg.AdminPassword, true)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	if created {
		logger.WithComponent(log.ComponentAuth).Info("admin user created", log.FieldUsername, cfg.AdminUser)
	}
	return nil
}
