// Command tradewarden runs the trading engine and its operator tooling.
//
// Subcommands:
//
//	run                         start the scheduler (default)
//	status                      one-shot registry and safety summary
//	helios deploy               register a deployment
//	helios stable               register a known-good stable version
//	helios complete-postmortem  close a postmortem and unblock deploys
//
// Exit codes: 0 normal, 1 configuration error, 2 unrecoverable runtime
// fault.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/alerts"
	"tradewarden/internal/api"
	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/exchange"
	"tradewarden/internal/helios"
	"tradewarden/internal/intel"
	"tradewarden/internal/metrics"
	"tradewarden/internal/orchestrator"
	"tradewarden/internal/positions"
	"tradewarden/internal/safety"
	"tradewarden/internal/scheduler"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	configPath := flag.String("config", "configs/tradewarden.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfig)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("main")

	cmd := "run"
	args := flag.Args()
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		os.Exit(runEngine(cfg, logger))
	case "status":
		os.Exit(runStatus(cfg))
	case "helios":
		os.Exit(runHelios(cfg, args, logger))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run, status, or helios)\n", cmd)
		os.Exit(exitConfig)
	}
}

// engineControl adapts the scheduler to the control API contract.
type engineControl struct {
	s *scheduler.Scheduler
}

func (e engineControl) Pause(reason string) { e.s.Pause(reason) }
func (e engineControl) Resume()             { e.s.Resume() }

func (e engineControl) State() api.EngineState {
	st := e.s.State()
	return api.EngineState{
		Running:     st.Running,
		Paused:      st.Paused,
		PauseReason: st.PauseReason,
		Cycle:       st.Cycle,
	}
}

// runEngine is the composition root: every initialization error here is
// fatal by policy.
func runEngine(cfg *config.Config, logger zerolog.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Bool("live", cfg.Trading.Enabled).
		Msg("Starting tradewarden")

	if err := config.LoadExchangeCredentials(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("Failed to load exchange credentials")
		return exitConfig
	}

	publisher, err := events.New(cfg.NATS)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect event stream")
		return exitRuntime
	}
	defer publisher.Close()

	client, err := exchange.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build exchange client")
		return exitConfig
	}
	envelope := safety.NewEnvelope(client, cfg, publisher)

	store, err := positions.NewStore(ctx, cfg.Database, cfg.Database.GetDSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect position ledger")
		return exitRuntime
	}
	defer store.Shutdown()
	if err := store.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to migrate position ledger")
		return exitRuntime
	}
	ledger := positions.NewManager(store, publisher)

	heliosStore, err := helios.NewStore(ctx, cfg.Database, cfg.Database.GetDSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect deployment store")
		return exitRuntime
	}
	if err := heliosStore.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to migrate deployment store")
		return exitRuntime
	}
	protocol := helios.NewProtocol(cfg.Helios, heliosStore, publisher)
	protocol.Start(ctx)
	defer protocol.Stop()

	registry := bots.NewRegistry()
	discovery, err := registry.Discover(cfg.Bots.ManifestPath)
	if err != nil {
		logger.Error().Err(err).Msg("Bot discovery failed")
		return exitConfig
	}
	for _, msg := range discovery.Errors {
		logger.Warn().Str("error", msg).Msg("Bot manifest entry rejected")
	}
	if discovery.Discovered == 0 {
		logger.Error().Msg("No bots discovered, refusing to start")
		return exitConfig
	}

	hub := intel.NewHub(registry, cfg.Orchestrator.BotTimeout(), 2*cfg.Orchestrator.BotTimeout())
	orch := orchestrator.New(cfg.Orchestrator, registry, publisher)

	notifier, err := alerts.FromConfig(cfg.Alerts)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build alert channels")
		return exitConfig
	}

	sched, err := scheduler.New(cfg.Trading, scheduler.Deps{
		Envelope:     envelope,
		Registry:     registry,
		Hub:          hub,
		Orchestrator: orch,
		Ledger:       ledger,
		Publisher:    publisher,
		Notifier:     notifier,
		Notices:      protocol.Notices(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Scheduler wiring failed")
		return exitRuntime
	}

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring)
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
			return exitRuntime
		}
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()

		sampler := metrics.NewSampler(ledger, registry, 15*time.Second)
		go sampler.Start(ctx)
		defer sampler.Stop()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, api.Deps{
			Controller:  engineControl{sched},
			Fleet:       registry,
			Positions:   ledger,
			Deployments: heliosStore,
			Safety:      envelope,
		})
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Control API failed")
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = apiServer.Stop(shutdownCtx)
		}()
	}

	if err := sched.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Scheduler exited with error")
		return exitRuntime
	}
	logger.Info().Msg("tradewarden stopped")
	return exitOK
}

// runStatus prints a one-shot summary. It prefers the running engine's
// control API and falls back to a local registry build when the engine
// is down.
func runStatus(cfg *config.Config) int {
	if cfg.API.Enabled {
		url := fmt.Sprintf("http://%s/api/v1/status", cfg.API.GetAPIAddr())
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err == nil {
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err == nil && resp.StatusCode == http.StatusOK {
				fmt.Println(string(body))
				return exitOK
			}
		}
	}

	// Engine not reachable: summarize the configured fleet directly.
	registry := bots.NewRegistry()
	discovery, err := registry.Discover(cfg.Bots.ManifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: engine unreachable and manifest unreadable: %v\n", err)
		return exitConfig
	}

	out, err := json.MarshalIndent(map[string]any{
		"engine":     "not running",
		"discovered": discovery.Discovered,
		"bots":       registry.StatusSummary(),
	}, "", "  ")
	if err != nil {
		return exitRuntime
	}
	fmt.Println(string(out))
	return exitOK
}

func runHelios(cfg *config.Config, args []string, logger zerolog.Logger) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "helios: want deploy, stable, or complete-postmortem")
		return exitConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := helios.NewStore(ctx, cfg.Database, cfg.Database.GetDSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect deployment store")
		return exitRuntime
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to migrate deployment store")
		return exitRuntime
	}
	protocol := helios.NewProtocol(cfg.Helios, store, events.NoopPublisher{})

	switch args[0] {
	case "deploy":
		fs := flag.NewFlagSet("helios deploy", flag.ContinueOnError)
		version := fs.String("version", "", "version being deployed")
		stable := fs.String("stable", "", "known-good version to roll back to")
		if err := fs.Parse(args[1:]); err != nil || *version == "" || *stable == "" {
			fmt.Fprintln(os.Stderr, "usage: tradewarden helios deploy -version X -stable Y")
			return exitConfig
		}
		d, err := protocol.RegisterDeployment(ctx, *version, *stable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deploy registration failed: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("deployment %s registered: %s (stable %s)\n", d.ID, d.Version, d.StableVersion)
		return exitOK

	case "stable":
		fs := flag.NewFlagSet("helios stable", flag.ContinueOnError)
		version := fs.String("version", "", "stable version identifier (semver)")
		artifact := fs.String("artifact", "", "artifact path relative to the artifact root")
		if err := fs.Parse(args[1:]); err != nil || *version == "" || *artifact == "" {
			fmt.Fprintln(os.Stderr, "usage: tradewarden helios stable -version X -artifact PATH")
			return exitConfig
		}
		sv, err := protocol.RegisterStableVersion(ctx, *version, *artifact)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stable version registration failed: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("stable version %s registered (%s)\n", sv.Version, sv.ArtifactPath)
		return exitOK

	case "complete-postmortem":
		fs := flag.NewFlagSet("helios complete-postmortem", flag.ContinueOnError)
		id := fs.String("id", "", "postmortem ID")
		rootCause := fs.String("root-cause", "", "root cause summary")
		actions := fs.String("actions", "", "comma-separated corrective actions")
		if err := fs.Parse(args[1:]); err != nil || *id == "" {
			fmt.Fprintln(os.Stderr, "usage: tradewarden helios complete-postmortem -id ID -root-cause TEXT -actions a,b")
			return exitConfig
		}
		pmID, err := uuid.Parse(*id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid postmortem ID: %v\n", err)
			return exitConfig
		}
		var corrective []string
		for _, a := range strings.Split(*actions, ",") {
			if a = strings.TrimSpace(a); a != "" {
				corrective = append(corrective, a)
			}
		}
		if err := protocol.ClosePostmortem(ctx, pmID, *rootCause, corrective); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close postmortem: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("postmortem %s closed\n", pmID)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "unknown helios subcommand %q\n", args[0])
		return exitConfig
	}
}
