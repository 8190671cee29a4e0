// dnsfailover keeps a single public hostname pointed at either a primary
// CDN tunnel or a standby VPS, flipping between them based on observed
// health, DNS drift, and a stabilization/circuit-breaker policy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"gitlab.bluewillows.net/root/dnsfailover/internal/config"
	"gitlab.bluewillows.net/root/dnsfailover/internal/dnsobserver"
	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
	"gitlab.bluewillows.net/root/dnsfailover/internal/healthprobe"
	"gitlab.bluewillows.net/root/dnsfailover/internal/httpapi"
	"gitlab.bluewillows.net/root/dnsfailover/internal/metrics"
	"gitlab.bluewillows.net/root/dnsfailover/internal/providerclient"
	"gitlab.bluewillows.net/root/dnsfailover/internal/statestore"
	"gitlab.bluewillows.net/root/dnsfailover/internal/triggermux"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dnsfailover %s (built %s)\n", Version, BuildDate)
		os.Exit(0)
	}

	if *configPath != "" && os.Getenv("DNSFAILOVER_CONFIG") == "" {
		if err := os.Setenv("DNSFAILOVER_CONFIG", *configPath); err != nil {
			slog.Error("failed to set DNSFAILOVER_CONFIG", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("dnsfailover starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("hostname", cfg.Hostname),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientset, err := newKubernetesClientset(cfg.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("creating kubernetes clientset: %w", err)
	}

	probe := healthprobe.New(clientset, cfg.Namespace, cfg.PodLabelSelector, cfg.MinReplicas, cfg.TunnelHealthURL,
		healthprobe.WithLogger(logger),
	)

	observer := dnsobserver.New(cfg.Hostname, cfg.FailoverAddress, cfg.CDNPrefixes,
		dnsobserver.WithLogger(logger),
	)

	provider := providerclient.New(cfg.APIToken, cfg.ZoneID, cfg.Hostname, cfg.TunnelID, cfg.FailoverAddress,
		providerclient.WithLogger(logger),
		providerclient.WithAPIEndpoint(cfg.APIBaseURL),
		providerclient.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)

	store := statestore.New(clientset, cfg.Namespace, cfg.StateConfigMapName,
		statestore.WithLogger(logger),
	)

	eng, err := engine.New(ctx, engine.Config{
		StabilizationFailover: cfg.StabilizationFailover,
		StabilizationFailback: cfg.StabilizationFailback,
		MaxFailovers24h:       cfg.MaxFailovers24h,
		DryRun:                cfg.DryRun,
	}, probe, observer, provider, store,
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	mux := triggermux.New(cfg.ReconcileInterval, eng.Reconcile,
		triggermux.WithLogger(logger),
	)

	apiServer := httpapi.New(cfg.HealthPort, eng, mux.Trigger,
		httpapi.WithLogger(logger),
	)
	apiServer.RegisterChecker("provider", func(ctx context.Context) error {
		return provider.Ping(ctx)
	})
	apiServer.RegisterDegradedChecker("dual_failure", func(ctx context.Context) (bool, string) {
		if eng.Snapshot().Phase == engine.PhaseDualFailure {
			return true, "operating in DUAL_FAILURE, both paths reported unhealthy"
		}
		return false, ""
	})
	apiServer.RegisterDegradedChecker("tunnel", func(ctx context.Context) (bool, string) {
		if !probe.TunnelReachable(ctx) {
			return true, "tunnel endpoint unreachable"
		}
		return false, ""
	})

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("starting http api: %w", err)
	}

	mux.Start(ctx)

	logger.Info("dnsfailover initialized, watching",
		slog.String("namespace", cfg.Namespace),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Int("health_port", cfg.HealthPort),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("shutting down...")
	cancel()
	mux.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http api shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("dnsfailover shutdown complete")
	return nil
}

// newKubernetesClientset uses an explicit kubeconfig path when one is given
// (out-of-cluster runs: local development, the occasional break-glass
// operator laptop) and an in-cluster config otherwise.
func newKubernetesClientset(kubeconfigPath string) (*kubernetes.Clientset, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfigPath != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
