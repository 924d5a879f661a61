package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/kubelens/kubelens/pkg/api"
	"github.com/kubelens/kubelens/pkg/logging"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg := api.LoadConfigFromEnv()

	port := flag.Int("port", cfg.Port, "Port to listen on")
	kubeconfig := flag.String("kubeconfig", cfg.Kubeconfig, "Path to kubeconfig file")
	dev := flag.Bool("dev", cfg.DevMode, "Enable dev login without GitHub OAuth")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("kubelens version %s\n", Version)
		os.Exit(0)
	}
	cfg.Port = *port
	cfg.Kubeconfig = *kubeconfig
	cfg.DevMode = *dev

	_, accessLog := logging.Init(logging.Config{
		Level:    logging.ParseLevel(cfg.LogLevel),
		Format:   logging.ParseFormat(cfg.LogFormat),
		FilePath: cfg.LogFile,
	})
	defer logging.Shutdown()
	cfg.LogOutput = accessLog

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	stopped := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer close(stopped)
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("kubelens starting", "version", Version, "port", cfg.Port, "dev", cfg.DevMode)
	if err := server.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("kubelens stopped")
}
