package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluidmcp/gateway/internal/config"
	"github.com/fluidmcp/gateway/internal/dispatcher"
	"github.com/fluidmcp/gateway/internal/httpapi"
	"github.com/fluidmcp/gateway/internal/metrics"
	"github.com/fluidmcp/gateway/internal/restart"
	"github.com/fluidmcp/gateway/internal/servermgr"
	"github.com/fluidmcp/gateway/internal/store"
	"github.com/fluidmcp/gateway/internal/store/memory"
	"github.com/fluidmcp/gateway/internal/store/mongostore"
	"github.com/fluidmcp/gateway/internal/telemetry"
	"github.com/fluidmcp/gateway/internal/toolregistry"
)

func main() {
	config.LoadEnv()
	settings := config.LoadSettings()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║         FluidMCP Gateway              ║")
	fmt.Println("╚══════════════════════════════════════╝")

	repo, storeKind := openRepository(settings)
	fmt.Printf("🗄️  Store: %s\n", storeKind)

	registry := toolregistry.NewRegistry()
	restarts := restart.NewEngine()

	reg := prometheus.NewRegistry()
	metricsShim := metrics.New(reg)

	mgrCfg := servermgr.Config{
		AllowedCommands: settings.AllowedCommands,
		MaxMemoryLogs:   settings.MaxMemoryLogs,
		ShutdownGrace:   time.Duration(settings.ShutdownTimeout) * time.Second,
		Metrics:         metricsShim,
	}
	manager := servermgr.New(repo, restarts, registry, mgrCfg)

	dispatch := dispatcher.New(repo, registry)

	tracer := buildTracer(settings.OTELEndpoint)

	if err := resumeEnabledServers(manager, repo); err != nil {
		log.Printf("[Gateway] resume enabled servers: %v", err)
	}

	srv := httpapi.NewServer(httpapi.Options{
		Manager:     manager,
		Repo:        repo,
		Dispatcher:  dispatch,
		Registry:    registry,
		Metrics:     metricsShim,
		Tracer:      tracer,
		BearerToken: settings.BearerToken,
		SecureMode:  settings.SecureMode,
	})

	fmt.Printf("🔒 Secure mode: %v\n", settings.SecureMode)
	fmt.Printf("🚀 Listening on %s\n", settings.ListenAddr)

	shutdownGrace := time.Duration(settings.ShutdownTimeout) * time.Second
	if err := srv.Run(settings.ListenAddr, shutdownGrace); err != nil {
		log.Fatalf("[Gateway] server exited with error: %v", err)
	}
}

// openRepository selects the mongostore backend when FMCP_MONGO_URI is set,
// falling back to the in-memory store otherwise -- matching the documented
// "memory is the zero-config default, Mongo opts in" behavior.
func openRepository(settings config.Settings) (store.Repository, string) {
	if settings.MongoURI == "" {
		return memory.New(settings.MaxMemoryLogs), "memory"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo, err := mongostore.Connect(ctx, settings.MongoURI, settings.MongoDatabase, settings.MaxMemoryLogs)
	if err != nil {
		log.Printf("[Gateway] mongostore connect failed (%v), falling back to in-memory store", err)
		return memory.New(settings.MaxMemoryLogs), "memory (mongo unavailable)"
	}
	return repo, "mongostore"
}

// buildTracer wires a real OTEL tracer when FMCP_OTEL_ENDPOINT is set, or a
// NoopTracer otherwise -- the gateway never pays for span collection it
// hasn't been configured to export.
func buildTracer(endpoint string) telemetry.Tracer {
	provider := telemetry.NewSDKTracerProvider(endpoint)
	if provider == nil {
		return telemetry.NoopTracer{}
	}
	return telemetry.NewOTELTracer(provider)
}

// resumeEnabledServers starts every persisted config with Enabled=true, so
// a gateway restart brings its managed servers back up without an operator
// having to call /start on each one by hand.
func resumeEnabledServers(manager *servermgr.Manager, repo store.Repository) error {
	cfgs, err := manager.List(context.Background())
	if err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := manager.Start(startCtx, cfg)
		cancel()
		if err != nil {
			log.Printf("[Gateway] resume %q failed: %v", cfg.ID, err)
		} else {
			fmt.Printf("▶️  Resumed %s\n", cfg.ID)
		}
	}
	return nil
}
