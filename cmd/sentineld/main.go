// Command sentineld is the sentinel IDS process. It loads a YAML
// configuration file, wires the four statistical detectors to a packet
// capture dispatcher and the event store, exposes the REST and WebSocket
// surfaces over HTTP, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/netsentinel/ids/internal/alert"
	"github.com/netsentinel/ids/internal/alertlog"
	"github.com/netsentinel/ids/internal/capture"
	"github.com/netsentinel/ids/internal/clock"
	"github.com/netsentinel/ids/internal/config"
	"github.com/netsentinel/ids/internal/detect"
	"github.com/netsentinel/ids/internal/email"
	"github.com/netsentinel/ids/internal/server/rest"
	"github.com/netsentinel/ids/internal/server/websocket"
)

func main() {
	var (
		configPath string
		httpAddr   string
		jwtPubKey  string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "/etc/sentinel/config.yaml", "path to the YAML configuration file")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listener address for the REST and WebSocket surfaces")
	flag.StringVar(&jwtPubKey, "jwt-pubkey", "", "path to PEM RSA public key for JWT validation (optional)")
	flag.StringVar(&logLevel, "log-level", "", "log level override: debug | info | warn | error (defaults to the config file's logging.level)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	logger.Info("sentinel IDS starting",
		slog.String("interface", cfg.Interface),
		slog.String("http_addr", httpAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tamper-evident alert log ────────────────────────────────────────
	var alertLog *alertlog.Logger
	if cfg.Logging.AlertsLog != "" {
		alertLog, err = alertlog.Open(cfg.Logging.AlertsLog)
		if err != nil {
			logger.Error("failed to open alert log", slog.Any("error", err))
			os.Exit(1)
		}
		defer alertLog.Close()
		logger.Info("alert log opened", slog.String("path", cfg.Logging.AlertsLog))
	} else {
		logger.Warn("no alerts_log configured; tamper-evident logging disabled")
	}

	// ── Runtime-mutable thresholds and email recipient ──────────────────
	thresholds := config.NewThresholdStore(cfg.InitialThresholds())
	emailSlot := &config.EmailSlot{}

	notifier := email.FromEnv(emailSlot.Get)

	var al alert.AlertLogger
	if alertLog != nil {
		al = alertLog
	}

	store := alert.New(clock.Real{}, logger, al, notifier, emailSlot.Get)

	// ── Detectors ─────────────────────────────────────────────────────────
	icmpDetector := detect.NewICMP(store, clock.Real{}, thresholds, cfg.WindowSeconds)
	sshDetector := detect.NewSSH(store, clock.Real{}, thresholds, cfg.SSHWhitelistIPs)
	arpDetector := detect.NewARP(store, clock.Real{}, thresholds, cfg.WindowSeconds)
	portScanDetector := detect.NewPortScan(store, clock.Real{}, thresholds, detect.PortScanConfig{
		FastWindowSeconds:  cfg.PortscanFastWindowSeconds,
		SlowWindowSeconds:  cfg.PortscanSlowWindowSeconds,
		SlowDecay:          cfg.PortscanSlowDecay,
		MinUniquePortsFast: cfg.PortscanMinUniquePortsFast,
		MinUniquePortsSlow: cfg.PortscanMinUniquePortsSlow,
		MinUniqueHostsFast: cfg.PortscanMinUniqueHostsFast,
		MinSynsFast:        cfg.PortscanMinSynsFast,
		MaxSynToSynAck:     cfg.PortscanMaxSynToSynAck,
		EnableUDP:          cfg.PortscanEnableUDPDetection,
		MinUDPProbesFast:   cfg.PortscanMinUDPProbesFast,
		MinICMPRatio:       cfg.PortscanMinICMPRatio,
		WhitelistCIDRs:     cfg.PortscanWhitelistCIDRs,
	})

	// ── Capture dispatcher ────────────────────────────────────────────────
	// No concrete NIC/pcap PacketSource ships in this repository (see
	// internal/capture.PacketSource); nilSource below satisfies the
	// interface with a channel that is immediately closed, so the
	// dispatcher loop runs and exits cleanly without a real packet feed
	// wired in. A production deployment supplies its own PacketSource.
	dispatcher := capture.New(nilSource{}, logger)
	dispatcher.Register("icmp", icmpDetector)
	dispatcher.Register("ssh", sshDetector)
	dispatcher.Register("arp", arpDetector)
	dispatcher.Register("portscan", portScanDetector)

	// ── Per-source state sweeper ──────────────────────────────────────────
	// spec §5 Resource policy requires periodically pruning empty
	// per-source detector state so a long-running deployment's memory does
	// not grow unbounded.
	go runSweeper(ctx, sweepInterval, logger, icmpDetector, sshDetector, arpDetector, portScanDetector)

	captureErrCh := make(chan error, 1)
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			captureErrCh <- fmt.Errorf("capture dispatcher: %w", err)
		}
		close(captureErrCh)
	}()

	// ── REST + WebSocket HTTP server ─────────────────────────────────────
	var pubKey *rsa.PublicKey
	if jwtPubKey != "" {
		pem, err := os.ReadFile(jwtPubKey)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("no JWT public key configured; REST API authentication disabled (dev mode)")
	}

	restSrv := rest.NewServer(store, thresholds, emailSlot)
	mux := http.NewServeMux()
	mux.Handle("/", rest.NewRouter(restSrv, pubKey))
	mux.Handle("/websocket/alerts", websocket.NewHandler(store, logger, 10*time.Second, 64))

	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // disabled: WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ──────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-captureErrCh:
		if err != nil {
			logger.Error("capture dispatcher error", slog.Any("error", err))
		}
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down")
	cancel()
	dispatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	logger.Info("sentinel IDS exited cleanly")
}

// sweepInterval is how often runSweeper invokes each detector's Sweep.
const sweepInterval = 30 * time.Second

// sweeper is implemented by every detector; Sweep discards per-source
// state for sources with no recent activity and no outstanding cooldown,
// bounding memory growth for long-running deployments.
type sweeper interface {
	Sweep()
}

// runSweeper periodically calls Sweep on every detector until ctx is
// cancelled.
func runSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger, sweepers ...sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range sweepers {
				s.Sweep()
			}
			logger.Debug("swept detector per-source state", slog.Int("detectors", len(sweepers)))
		}
	}
}

// nilSource is the no-op PacketSource used when no NIC/pcap driver is
// wired in: it hands back a closed channel immediately.
type nilSource struct{}

func (nilSource) Packets(ctx context.Context) (<-chan capture.Packet, error) {
	ch := make(chan capture.Packet)
	close(ch)
	return ch, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
