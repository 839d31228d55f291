// Command streamhostd runs one streaming host process: discovery,
// pairing, and session handling for every client that launches a
// stream against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/pixelstream/streamhost/host"
)

const shutdownTimeout = 10 * time.Second

func main() {
	bindAddr := flag.String("bind", "0.0.0.0", "address to bind control/media/admin listeners to")
	controlPort := flag.Int("control-port", 0, "control port override (0 = default)")
	adminAddr := flag.String("admin-addr", "", "admin HTTP listen address override")
	keystorePath := flag.String("keystore", "", "pairing keystore path override")
	maxClients := flag.Int("max-clients", 0, "concurrent session cap override (0 = default)")
	hostname := flag.String("hostname", "", "advertised host name override")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = parseLogLevel(*logLevel)
	logger := factory.NewLogger("streamhostd")

	cfg := host.DefaultConfig()
	cfg.HostID = uuid.New()
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *controlPort != 0 {
		cfg.ControlPort = *controlPort
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *keystorePath != "" {
		cfg.KeystorePath = *keystorePath
	}
	if *maxClients != 0 {
		cfg.MaxClients = *maxClients
	}
	if *hostname != "" {
		cfg.Hostname = *hostname
	}

	h, err := host.New(cfg, logger)
	if err != nil {
		logger.Errorf("streamhostd: failed to assemble host: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Start(ctx); err != nil {
		logger.Errorf("streamhostd: failed to start: %v", err)
		os.Exit(1)
	}
	logger.Infof("streamhostd: pairing PIN is %s", h.CurrentPIN())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("streamhostd: received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("streamhostd: shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Infof("streamhostd: stopped")
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	case "disabled":
		return logging.LogLevelDisabled
	case "info":
		return logging.LogLevelInfo
	default:
		fmt.Fprintf(os.Stderr, "streamhostd: unrecognized log level %q, defaulting to info\n", s)
		return logging.LogLevelInfo
	}
}
