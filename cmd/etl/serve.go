package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/hydromet-etl/internal/adapter/http"
	"github.com/couchcryptid/hydromet-etl/internal/pipeline"
	"github.com/couchcryptid/hydromet-etl/internal/scheduler"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and run scheduled pulls",
		RunE:  runServe,
	}
	cmd.Flags().Bool("pull-on-start", false, "Run a pull immediately instead of waiting for the schedule")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	api := httpadapter.NewAPI(httpadapter.APIOptions{
		Runner:     a.pipeline,
		Reports:    a.reports,
		Exporter:   a.exporter,
		Stations:   a.catalog.Stations(),
		Geocoder:   a.geocoder,
		RunContext: ctx,
		Logger:     logger,
	})
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, a.ready, api, logger)

	sched := scheduler.New(a.cfg.PullSchedule, a.pipeline, pipeline.RunOptions{}, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if pullNow, _ := cmd.Flags().GetBool("pull-on-start"); pullNow {
		sched.RunNow()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		stop()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
