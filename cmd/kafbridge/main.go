package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kafbridge/kafbridge/internal/bridge"
	"github.com/kafbridge/kafbridge/internal/config"
	"github.com/kafbridge/kafbridge/internal/kafka"
	"github.com/kafbridge/kafbridge/internal/server"
)

var (
	version = "0.1.0"
	commit  = "none"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Printf("kafbridge %s (%s)\n", version, commit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kafbridge - HTTP to Kafka protocol bridge

Usage:
  kafbridge <command> [options]

Commands:
  serve     Start the bridge
  version   Print version information
  help      Print this help message

Run 'kafbridge serve --help' for serve options.`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	configFile := fs.String("config", "", "Path to config file (YAML)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (host:port)")
	brokers := fs.String("brokers", "", "Kafka bootstrap servers (comma separated)")
	bridgeID := fs.String("bridge-id", "", "Prefix of generated consumer instance names")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	fs.Parse(args)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		host, port, ok := splitHostPort(*httpAddr)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid http-addr: %s\n", *httpAddr)
			os.Exit(1)
		}
		cfg.HTTP.Host = host
		cfg.HTTP.Port = port
	}
	if *brokers != "" {
		cfg.Kafka.BootstrapServers = strings.Split(*brokers, ",")
	}
	if *bridgeID != "" {
		cfg.Bridge.ID = *bridgeID
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	initLogger(cfg.Logging.Level)
	defer zap.S().Sync()

	registry := bridge.NewRegistry(cfg.Consumer.IdleTimeout, cfg.Consumer.SweepInterval)
	srv := server.NewServer(cfg, registry, kafka.NewConsumer, kafka.NewProducer)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	zap.S().Infof("Kafka bootstrap servers %s", strings.Join(cfg.Kafka.BootstrapServers, ","))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		zap.S().Infof("Signal received %v, shutting down", sig)
	case err := <-errCh:
		zap.S().Errorf("HTTP server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Warnf("Error during shutdown: %v", err)
	}
	zap.S().Info("HTTP-Kafka bridge has been shut down")
}

func initLogger(level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
}

func splitHostPort(addr string) (string, int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, false
	}
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, false
	}
	return addr[:idx], port, true
}
