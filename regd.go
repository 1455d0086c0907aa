package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/subnetops/regd/config"
	"github.com/subnetops/regd/logging"
	"github.com/subnetops/regd/server"
)

// Regd binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// regdMain is the true entry point for regd. This function is required
// since defers created in the top-level scope of a main method aren't
// executed if os.Exit() is called.
func regdMain() error {
	// Start with sane defaults, pre-parse the command line for an
	// alternative config file, load it, then parse the command line again
	// so explicit options take precedence.
	cfg := config.DefaultConfig()
	cfg, err := config.ParseFlags(cfg)
	if err != nil {
		return err
	}
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return err
	}
	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return err
	}
	cfg, err = config.ParseFlags(cfg)
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, cfg.LogFile(), cfg.JSONLog)
	ctx := logging.NewContext(context.Background(), logger)

	defer func() {
		logger.Info("shutdown complete")
	}()

	logger.Sugar().Infof("version: %s, endpoint: %s, netuid: %d, mode: %s",
		version, cfg.Endpoint, cfg.Netuid, cfg.Registration.Mode)

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof", http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			fmt.Println(http.ListenAndServe(listenAddr, nil))
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failure in server: %w", err)
	}

	return nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := regdMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
