package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-sod/posture/internal/action"
	"github.com/go-sod/posture/internal/analyze"
	"github.com/go-sod/posture/internal/buildinfo"
	"github.com/go-sod/posture/internal/config"
	"github.com/go-sod/posture/internal/logging"
	"github.com/go-sod/posture/internal/metrics"
	"github.com/go-sod/posture/internal/server"
	"github.com/go-sod/posture/internal/setup"
	"github.com/go-sod/posture/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprintln(os.Stdout, buildinfo.Info.String())

	ctx, done := shutdown.New()
	logger := logging.FromContext(ctx)
	if err := run(ctx, done); err != nil {
		logger.Fatal(err)
	}

	defer done()
}

func run(ctx context.Context, cancel func()) error {
	logger := logging.FromContext(ctx)
	var (
		shutdownCh chan error
		// notifier, sessions and the HTTP server
		shutdownCount = 3
	)
	cfg := config.Config{}
	env, err := setup.Setup(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer func() {
		if err := env.Close(context.Background()); err != nil {
			logger.Errorf("env.Close: %v", err)
		}
	}()

	if cfg.GRPCAddr != "" {
		shutdownCount++
	}
	shutdownCh = make(chan error, shutdownCount)
	notifier, err := env.ProvideNotifier()(shutdownCh)
	if err != nil {
		return fmt.Errorf("notifier provider function error: %w", err)
	}
	if err := notifier.Run(ctx); err != nil {
		return fmt.Errorf("notifier.Run: %w", err)
	}

	sessions, err := env.ProvideSessions()(notifier.Notify, shutdownCh)
	if err != nil {
		return fmt.Errorf("session provider function error: %w", err)
	}
	if err := sessions.Run(ctx); err != nil {
		return fmt.Errorf("sessions.Run: %w", err)
	}

	srv, err := server.New(cfg.SrvAddr)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	mux := http.NewServeMux()

	analyzeHandler, err := analyze.NewHandler(&cfg.Analyze, sessions)
	if err != nil {
		return fmt.Errorf("analyze.NewHandler: %w", err)
	}
	streamHandler, err := analyze.NewStreamHandler(&cfg.Analyze, sessions)
	if err != nil {
		return fmt.Errorf("analyze.NewStreamHandler: %w", err)
	}
	actionHandler, err := action.NewHandler(&cfg.Action, sessions, env.Profile())
	if err != nil {
		return fmt.Errorf("action.NewHandler: %w", err)
	}

	mux.Handle("/analyze", analyzeHandler)
	mux.Handle("/stream", streamHandler)
	for _, path := range []string{"/session", "/label", "/train", "/accuracy", "/export", "/sensitivity", "/source-config"} {
		mux.Handle(path, actionHandler)
	}
	mux.Handle("/health", server.HandleHealth(ctx))

	if cfg.MetricsEnabled {
		metricsHandler, err := metrics.NewHandler(ctx)
		if err != nil {
			return fmt.Errorf("metrics.NewHandler: %w", err)
		}
		mux.Handle("/metrics", metricsHandler)
	}

	var grpcSrv *server.Server
	if cfg.GRPCAddr != "" {
		if grpcSrv, err = server.New(cfg.GRPCAddr); err != nil {
			cancel()
			return fmt.Errorf("server.New grpc: %w", err)
		}
	}

	go func() {
		err := srv.ServeHTTPHandler(ctx, mux)
		if err != nil {
			logger.Errorf("srv.ServeHTTPHandler: %v", err)
			cancel()
		}
		shutdownCh <- err
	}()
	logger.Infof("listening on %s", srv.Addr())

	if grpcSrv != nil {
		go func() {
			err := grpcSrv.ServeGRPC(ctx, server.NewHealthServer(ctx))
			if err != nil {
				logger.Errorf("grpcSrv.ServeGRPC: %v", err)
				cancel()
			}
			shutdownCh <- err
		}()
		logger.Infof("grpc health on %s", grpcSrv.Addr())
	}

	// env.Close runs only after every component reported, so no request
	// reaches a closed database.
	var firstErr error
	for i := 0; i < shutdownCount; i++ {
		if err := <-shutdownCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
