package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/unionfs-cleaner/internal/app"
	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/gftdcojp/unionfs-cleaner/internal/supervisor"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	env, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment: %v\n", err)
		return 1
	}

	configPath := flag.String("config", env.ConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("unionfs-cleaner %s\n", version)
		return 0
	}

	command := flag.Arg(0)
	switch command {
	case "", "test", "rmdirs", "rmhidden":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		return 2
	}

	if _, err := os.Stat(*configPath); errors.Is(err, fs.ErrNotExist) {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "wrote default config to %s, edit it and start again\n", *configPath)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	env.Apply(cfg)

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if len(cfg.Upgraded) > 0 {
		logger.Info("config upgraded with new defaults",
			zap.String("path", *configPath),
			zap.Strings("added", cfg.Upgraded),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{
		ConfigPath:     *configPath,
		Version:        version,
		ForceDryRun:    command == "test",
		SkipLedger:     command == "rmdirs",
		OptionalLedger: command == "rmhidden",
		Logger:         logger,
	})
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.Close()

	switch command {
	case "test":
		if err := a.RunTest(ctx, os.Stdout); err != nil {
			logger.Error("test walkthrough failed", zap.Error(err))
		}
		return 0
	case "rmdirs":
		if err := a.RunPrune(ctx); err != nil {
			logger.Error("prune failed", zap.Error(err))
			return 1
		}
		return 0
	case "rmhidden":
		res, err := a.RunScan(ctx)
		if err != nil {
			logger.Error("scan failed", zap.Error(err))
			return 1
		}
		if res.Failed > 0 {
			return 1
		}
		return 0
	}

	err = a.RunDaemon(ctx)
	if errors.Is(err, supervisor.ErrRestart) {
		logger.Info("exiting for restart", zap.Int("status", supervisor.ExitRestart))
	} else {
		logger.Info("shutting down")
	}
	return supervisor.ExitCode(err)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `unionfs-cleaner - reconcile overlay tombstones and write the local tier back to the cloud

Usage:
  unionfs-cleaner [flags] [command]

Commands:
  (none)     Run the daemon
  test       Dry-run walkthrough of one cycle, changes nothing
  rmdirs     Prune empty directories once
  rmhidden   Reconcile every tombstone once

Flags:
  -config string   path to configuration file (default "config.yaml", env UFC_CONFIG)
  -version         show version

Environment:
  UFC_CONFIG, UFC_LOG_LEVEL, UFC_LOG_FORMAT, UFC_DRY_RUN

Exit status 3 asks the service manager to restart the daemon.`)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
