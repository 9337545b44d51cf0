package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lenylvt/aurora-sub000/internal/adapter/host"
	"github.com/lenylvt/aurora-sub000/internal/adapter/piston"
	"github.com/lenylvt/aurora-sub000/internal/config"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/hub"
	"github.com/lenylvt/aurora-sub000/internal/policy"
	"github.com/lenylvt/aurora-sub000/internal/repository"
	"github.com/lenylvt/aurora-sub000/internal/service"
	"github.com/lenylvt/aurora-sub000/internal/session"
	internalhttp "github.com/lenylvt/aurora-sub000/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay WebSocket server and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Printf("INFO: starting aurora")
	log.Printf("INFO: relay port %d, HTTP port %d", cfg.WSPort, cfg.HTTPPort)
	log.Printf("INFO: piston %s (interactive %s)", cfg.PistonURL, cfg.PistonWSURL)

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	languages := domain.NewLanguages(cfg.Languages)
	batch := piston.NewBatchAdapter(piston.NewRESTClient(cfg.PistonURL, cfg.BatchTimeout), languages)
	dialer := piston.NewDialer(cfg.WriteTimeout, cfg.WriteTimeout, cfg.MaxMessageSize)

	connectionHub := hub.NewHub()
	go connectionHub.Run(ctx)

	svc := service.New(store, policyEngine, batch, service.PistonDial(dialer), connectionHub, cfg)
	defer svc.Close()
	if err := svc.RecoverInterruptedRuns(ctx); err != nil {
		return err
	}
	if cfg.SessionIdleTTL > 0 {
		go svc.RunIdleManagerSweep(ctx, time.Minute, cfg.SessionIdleTTL)
	}

	var prober session.Prober = session.StaticProber{URL: cfg.PistonWSURL}
	if cfg.ProbeURL != "" {
		prober = host.NewClient(cfg.ProbeURL, 5*time.Second)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	svc.SelectMode(probeCtx, prober)
	cancel()

	relay := internalhttp.NewRelayServer(cfg, connectionHub, svc)
	api := internalhttp.NewAPIServer(svc)

	errc := make(chan error, 2)
	go func() {
		if err := relay.Start(fmt.Sprintf(":%d", cfg.WSPort)); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("relay server: %w", err)
		}
	}()
	go func() {
		if err := api.Start(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Println("INFO: shutting down aurora...")
	case serveErr = <-errc:
		log.Printf("ERROR: %v", serveErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := relay.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: failed to shutdown relay server gracefully: %v", err)
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: failed to shutdown HTTP server gracefully: %v", err)
	}

	log.Println("INFO: aurora stopped")
	return serveErr
}
