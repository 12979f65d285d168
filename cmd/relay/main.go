package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dvote-labs/dvote-stream/internal/auth"
	"github.com/dvote-labs/dvote-stream/internal/bridge"
	"github.com/dvote-labs/dvote-stream/internal/config"
	"github.com/dvote-labs/dvote-stream/internal/database"
	"github.com/dvote-labs/dvote-stream/internal/journal"
	"github.com/dvote-labs/dvote-stream/internal/metrics"
	"github.com/dvote-labs/dvote-stream/internal/realtime"
	"github.com/dvote-labs/dvote-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"gateway_url", cfg.Gateway.URL,
		"channels", cfg.Channels,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load the member identity when one is configured
	var tokenSource func() (string, error)
	if cfg.Identity.PrivateKeyPath != "" {
		identity, err := auth.LoadIdentity(cfg.Identity.MemberAddress, cfg.Identity.PrivateKeyPath, cfg.Identity.TokenTTL)
		if err != nil {
			logger.Error("failed to load identity", "error", err)
			os.Exit(1)
		}
		tokenSource = identity.MintToken
		logger.Info("identity loaded", "member_address", identity.MemberAddress)
	}

	// Event journal (optional)
	var jrn *journal.Journal
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		jrn = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
	}

	// Redis bridge (optional)
	var brg *bridge.Bridge
	if cfg.Bridge.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Bridge.Addr,
			Password: cfg.Bridge.Password,
			DB:       cfg.Bridge.DB,
		})
		defer client.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error("failed to connect to redis", "error", err, "addr", cfg.Bridge.Addr)
			os.Exit(1)
		}

		logger.Info("redis connected", "addr", cfg.Bridge.Addr)

		brg = bridge.New(bridge.Config{
			ChannelPrefix: cfg.Bridge.ChannelPrefix,
			BufferSize:    cfg.Bridge.BufferSize,
		}, client, logger)
	}

	// Gateway session
	sess := realtime.NewSession(sessionConfig(cfg, tokenSource), logger)

	metrics.Register(prometheus.DefaultRegisterer, sess, jrn, brg)

	// Route every configured channel into the running sinks
	for _, ch := range cfg.Channels {
		if jrn != nil {
			sess.Subscribe(ch, "journal", jrn.Ingest)
		}
		if brg != nil {
			sess.Subscribe(ch, "bridge", brg.Ingest)
		}
	}

	if jrn != nil {
		if err := jrn.Start(ctx); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
	}
	if brg != nil {
		if err := brg.Start(ctx); err != nil {
			logger.Error("failed to start bridge", "error", err)
			os.Exit(1)
		}
	}

	if err := sess.Connect(ctx); err != nil {
		if errors.Is(err, realtime.ErrDisabled) {
			logger.Info("gateway disabled, session inert")
		} else {
			logger.Error("failed to start session", "error", err)
			os.Exit(1)
		}
	}

	// Health and metrics servers, supervised together
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg, sess, jrn, brg),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down...")

	// Stop producing before draining the sinks
	sess.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if jrn != nil {
		jrn.Stop(shutdownCtx)
	}
	if brg != nil {
		brg.Stop(shutdownCtx)
	}

	logger.Info("relay stopped")
}

// sessionConfig maps the gateway section onto the session tuning.
func sessionConfig(cfg *config.RelayConfig, tokenSource func() (string, error)) realtime.Config {
	return realtime.Config{
		URL:                    cfg.Gateway.URL,
		Disabled:               cfg.Gateway.Disabled,
		TokenSource:            tokenSource,
		DialTimeout:            cfg.Gateway.DialTimeout,
		WriteTimeout:           cfg.Gateway.WriteTimeout,
		HeartbeatInterval:      cfg.Gateway.HeartbeatInterval,
		HeartbeatCheckInterval: cfg.Gateway.HeartbeatCheckInterval,
		HeartbeatTimeout:       cfg.Gateway.HeartbeatTimeout,
		ReconnectMaxAttempts:   cfg.Gateway.ReconnectMaxAttempts,
		ReconnectBaseDelay:     cfg.Gateway.ReconnectBaseDelay,
		ReconnectDecayFactor:   cfg.Gateway.ReconnectDecayFactor,
		ReconnectMaxDelay:      cfg.Gateway.ReconnectMaxDelay,
		QueueMaxSize:           cfg.Gateway.QueueMaxSize,
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(cfg *config.RelayConfig, sess *realtime.Session, jrn *journal.Journal, brg *bridge.Bridge) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := sess.Stats()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		if cfg.Gateway.Disabled {
			health.Components["session"] = "disabled"
		} else {
			health.Components["session"] = map[string]interface{}{
				"state":       stats.State.String(),
				"connects":    stats.Connects,
				"queue_depth": stats.QueueDepth,
			}
			switch stats.State {
			case realtime.StateConnected:
				// healthy
			case realtime.StateFailed:
				health.Status = "unhealthy"
			default:
				health.Status = "degraded"
			}
		}

		if jrn != nil {
			js := jrn.Stats()
			health.Components["journal"] = map[string]interface{}{
				"inserts": js.Inserts,
				"errors":  js.Errors,
				"drops":   js.Drops,
			}
		}
		if brg != nil {
			bs := brg.Stats()
			health.Components["bridge"] = map[string]interface{}{
				"published": bs.Published,
				"errors":    bs.Errors,
				"drops":     bs.Drops,
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := sess.Stats()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":              stats.State.String(),
			"connects":           stats.Connects,
			"frames_received":    stats.FramesReceived,
			"frames_sent":        stats.FramesSent,
			"events_dispatched":  stats.EventsDispatched,
			"parse_errors":       stats.ParseErrors,
			"heartbeat_timeouts": stats.HeartbeatTimeouts,
			"handler_panics":     stats.HandlerPanics,
			"queue_depth":        stats.QueueDepth,
			"queue_evictions":    stats.QueueEvictions,
			"channels":           stats.Channels,
			"subscribers":        stats.Subscribers,
		})
	})

	return mux
}
