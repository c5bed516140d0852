package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"churnrisk/config"
	"churnrisk/db"
	qhttp "churnrisk/http"
	"churnrisk/monitoring"
	"churnrisk/pipeline"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP scoring API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			if cmd.Flags().Changed("port") {
				a.cfg.Http.Port = port
			}
			return runServe(a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override http.port")
	return cmd
}

func runServe(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observers := []pipeline.Observer{}
	deps := qhttp.Deps{Model: a.model.Info(), Logger: a.logger}

	if a.cfg.Database.Path != "" {
		if err := db.InitDB(a.cfg.Database.Path); err != nil {
			return err
		}
		defer db.Close()
		a.logger.Info("run log opened", zap.String("path", a.cfg.Database.Path))
		observers = append(observers, db.NewRunRecorder(a.logger))
		deps.Runs = db.RecentRuns
	}
	if a.cfg.Monitoring.Metrics {
		deps.Metrics = monitoring.NewMetrics()
		observers = append(observers, deps.Metrics)
	}
	if a.cfg.Monitoring.WebSocket {
		deps.Hub = monitoring.NewHub(a.logger)
		go deps.Hub.Run(ctx)
		observers = append(observers, deps.Hub)
	}
	if a.cfg.Artifacts.Watch {
		if err := config.WatchArtifacts(ctx, a.logger, nil, a.cfg.Artifacts.SchemaPath, a.cfg.Artifacts.ModelPath); err != nil {
			a.logger.Warn("artifact watch disabled", zap.Error(err))
		}
	}

	deps.Predictor = pipeline.NewPredictor(a.registry, a.model,
		pipeline.WithMaxRows(a.cfg.Batch.MaxRows),
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithObserver(pipeline.Observers(observers...)))

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           a.cfg.Http.Port,
		Timeout:        a.cfg.Http.Timeout,
		AllowedOrigins: a.cfg.Http.AllowedOrigins,
		MaxUploadBytes: a.cfg.Http.MaxUploadBytes,
		PreviewRows:    a.cfg.Http.PreviewRows,
		RateLimit: qhttp.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimit.RequestsPerSecond,
			Burst:             a.cfg.RateLimit.Burst,
			MaxClients:        a.cfg.RateLimit.MaxClients,
		},
	}, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
