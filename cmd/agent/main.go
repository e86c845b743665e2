// Package main is the entry point for the Vitalis agent. It serves this
// host's metrics to the collector over the JSON agent protocol and runs as
// either a Windows service or a foreground process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/collector/internal/agentserver"
	"github.com/vitalis-app/collector/internal/autostart"
	"github.com/vitalis-app/collector/internal/config"
	"github.com/vitalis-app/collector/internal/httpserver"
	"github.com/vitalis-app/collector/internal/logging"
	"github.com/vitalis-app/collector/internal/probe"
	"github.com/vitalis-app/collector/internal/service"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	listen      = flag.String("listen", "", "Listen address, overrides agent.listen")
	install     = flag.Bool("install", false, "Register to start at boot and exit")
	uninstall   = flag.Bool("uninstall", false, "Remove the boot registration and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

// collectTimeout bounds one metrics request.
const collectTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("vitalis-agent %s\n", version)
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
	if *listen != "" {
		cfg.Agent.Listen = *listen
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	hostname, err := os.Hostname()
	if err != nil {
		logger.Warn("Hostname unavailable", zap.Error(err))
	}

	probes := probe.Default(cfg.Agent.DiskPath, cfg.Agent.SuspiciousProcesses, logger.Named("probe"))
	srv := agentserver.New(probes, hostname, collectTimeout, logger.Named("http"))

	logger.Info("Starting Vitalis Agent",
		zap.String("version", version),
		zap.String("listen", cfg.Agent.Listen),
		zap.Strings("probes", probes.Names()))

	svc := service.New(serviceName(), logger, func(ctx context.Context) error {
		return httpserver.Serve(ctx, cfg.Agent.Listen, srv.Handler(), logger.Named("http"))
	})
	if err := svc.Run(); err != nil {
		logger.Fatal("Agent failed", zap.Error(err))
	}
	logger.Info("Agent stopped")
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
		DisplayName: "Vitalis Agent",
		Description: "Vitalis host metrics agent",
		ExecPath:    exe,
		Args:        args,
	})
}

func serviceName() string {
	if runtime.GOOS == "windows" {
		return "VitalisAgent"
	}
	return "vitalis-agent"
}
