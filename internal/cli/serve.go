package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stockledger/internal/handlers"
	"stockledger/internal/jobs/background"
	"stockledger/internal/middleware"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type ServeOptions struct {
	*RootOptions
	NoJobs bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run background jobs and the ops HTTP endpoints",
		Long: `Start the reservation sweep, low-stock scan and reorder scan on their
configured intervals, and serve /health, /health/ready, /health/live and /jobs.

Example:
  stockledger serve --config ./stockledger.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.withApp(ctx, opts.serve)
		},
	}

	cmd.Flags().BoolVar(&opts.NoJobs, "no-jobs", false, "serve endpoints without running background jobs")

	return cmd
}

func (o *ServeOptions) serve(ctx context.Context, app *App) error {
	log := app.Logger
	lowStock := app.LowStockScanner()

	var scheduler *background.JobScheduler
	if !o.NoJobs {
		var err error
		scheduler, err = background.NewJobScheduler(app.Cache, 0, log, app.JobSpecs(lowStock)...)
		if err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer func() {
			if err := scheduler.Stop(); err != nil {
				log.Warn("scheduler shutdown failed", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMiddleware.Recover())
	e.Use(middleware.RequestContext())
	e.Use(middleware.RequestLogger(log))

	var runner handlers.JobRunner
	if scheduler != nil {
		runner = scheduler
	}
	health := handlers.NewHealthHandlers(app.StorePinger(), app.Cache, app.Clock, Version, log)
	handlers.RegisterRoutes(e, health, handlers.NewJobHandlers(runner, lowStock))

	errCh := make(chan error, 1)
	go func() {
		log.Info("ops server listening", zap.String("addr", app.Config.Server.HTTPPort))
		if err := e.Start(app.Config.Server.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
