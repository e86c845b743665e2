// Package main is the entry point for the Vitalis collector. It polls the
// registered endpoints on a fixed interval, evaluates thresholds, stores
// every sample and serves the admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitalis-app/collector/internal/adminapi"
	"github.com/vitalis-app/collector/internal/autostart"
	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/httpserver"
	"github.com/vitalis-app/collector/internal/logging"
	"github.com/vitalis-app/collector/internal/models"
	"github.com/vitalis-app/collector/internal/notify"
	"github.com/vitalis-app/collector/internal/poller"
	"github.com/vitalis-app/collector/internal/registry"
	"github.com/vitalis-app/collector/internal/scheduler"
	"github.com/vitalis-app/collector/internal/service"
	"github.com/vitalis-app/collector/internal/storage"
	"github.com/vitalis-app/collector/internal/telemetry"
	"github.com/vitalis-app/collector/internal/threshold"
	"github.com/vitalis-app/collector/internal/transport"
	"github.com/vitalis-app/collector/internal/transport/httpjson"
	"github.com/vitalis-app/collector/internal/transport/xmlrpc"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	once        = flag.Bool("once", false, "Run a single collection cycle and exit")
	writeConfig = flag.String("write-config", "", "Write the effective configuration to this path and exit")
	install     = flag.Bool("install", false, "Register to start at boot and exit")
	uninstall   = flag.Bool("uninstall", false, "Remove the boot registration and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("vitalis-collector %s\n", version)
		os.Exit(0)
	}

	if *install || *uninstall {
		if err := manageAutostart(*install); err != nil {
			fmt.Fprintf(os.Stderr, "Autostart: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := config.WriteConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		return
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting Vitalis Collector",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.Backend),
		zap.Duration("interval", cfg.Collection.Interval.Duration))

	svc := service.New(serviceName(), logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	if err := svc.Run(); err != nil {
		if storage.IsConfigError(err) {
			logger.Error("Invalid configuration", zap.Error(err))
		} else {
			logger.Error("Collector stopped with error", zap.Error(err))
		}
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Collector stopped")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rules, err := threshold.NewRuleSet(cfg.Thresholds)
	if err != nil {
		return err
	}

	var store registry.Store = &registry.MemoryStore{}
	if cfg.Registry.Path != "" {
		store = registry.NewFileStore(cfg.Registry.Path)
	}
	reg, err := registry.Open(store, logger.Named("registry"))
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	if err := reg.Seed(cfg.Endpoints); err != nil {
		return fmt.Errorf("seeding registry: %w", err)
	}

	backend, err := storage.New(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer backend.Close()

	notifier, err := notify.New(cfg.Notify, logger.Named("notify"))
	if err != nil {
		return fmt.Errorf("connecting notifier: %w", err)
	}
	defer notifier.Close()

	metrics := telemetry.New()

	dialer := transport.Mux{
		models.ProtocolHTTP:   httpjson.NewDialer(),
		models.ProtocolXMLRPC: xmlrpc.NewDialer(),
	}
	p := poller.New(reg, dialer, poller.Options{
		Timeout:        cfg.Collection.Timeout.Duration,
		Grace:          cfg.Collection.Grace.Duration,
		MaxConcurrency: cfg.Collection.MaxConcurrency,
	}, logger.Named("poller"))
	defer p.Close()

	loop := scheduler.New(p, rules, backend, scheduler.Options{
		Interval:   cfg.Collection.Interval.Duration,
		ErrorPause: cfg.Collection.ErrorPause.Duration,
		Notifier:   notifier,
		Metrics:    metrics,
	}, logger.Named("loop"))

	if *once {
		cycle, err := loop.RunOnce(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		logger.Info("Single cycle complete",
			zap.String("cycle", cycle.ID),
			zap.Int("ok", cycle.Count(models.PollOK)),
			zap.Int("alerts", len(cycle.Alerts)))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	if cfg.Admin.Listen != "" {
		api := adminapi.New(adminapi.Deps{
			Registry: reg,
			States:   p,
			Cache:    loop.Cache(),
			History:  backend,
			Metrics:  metrics.Handler(),
			Logger:   logger.Named("admin"),
		})
		g.Go(func() error {
			return httpserver.Serve(gctx, cfg.Admin.Listen, api.Handler(), logger.Named("admin"))
		})
	}
	return g.Wait()
}

// manageAutostart installs or removes the boot registration. The installed
// service runs with the same -config flag this process was given.
func manageAutostart(add bool) error {
	m := autostart.New()
	name := serviceName()
	if !add {
		return m.Uninstall(name)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	var args []string
	if *configPath != "" {
		abs, err := filepath.Abs(*configPath)
		if err != nil {
			return err
		}
		args = append(args, "-config", abs)
	}
	return m.Install(autostart.Unit{
		Name:        name,
		DisplayName: "Vitalis Collector",
		Description: "Vitalis metrics collector",
		ExecPath:    exe,
		Args:        args,
		DataDir:     dataDir(),
	})
}

func dataDir() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "/var/lib/vitalis"
}

func serviceName() string {
	if runtime.GOOS == "windows" {
		return "VitalisCollector"
	}
	return "vitalis-collector"
}
