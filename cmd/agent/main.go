// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/absmach/mqterm/agent"
	"github.com/absmach/mqterm/config"
	"github.com/absmach/mqterm/connection"
	"github.com/absmach/mqterm/executor"
	"github.com/absmach/mqterm/history"
	"github.com/absmach/mqterm/history/badger"
	"github.com/absmach/mqterm/history/memory"
	mqtls "github.com/absmach/mqterm/pkg/tls"
	"github.com/absmach/mqterm/publisher"
	"github.com/absmach/mqterm/ratelimit"
	"github.com/absmach/mqterm/server/health"
	mqotel "github.com/absmach/mqterm/server/otel"
)

const version = "0.1.0"

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string {
	return strconv.Itoa(int(*v))
}

func (v *verbosity) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

func (v *verbosity) IsBoolFlag() bool {
	return true
}

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	var (
		configFile  string
		brokerURL   string
		clientName  string
		topic       string
		verbose     verbosity
		veryVerbose bool
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.StringVar(&brokerURL, "broker_url", "", "MQTT broker URL (default "+config.DefaultBrokerURL+")")
	flag.StringVar(&brokerURL, "b", "", "Shorthand for -broker_url")
	flag.StringVar(&clientName, "client_name", "", "MQTT client ID (default a random UUID)")
	flag.StringVar(&clientName, "n", "", "Shorthand for -client_name")
	flag.StringVar(&topic, "topic", "", "Topic to listen on for commands (required)")
	flag.StringVar(&topic, "t", "", "Shorthand for -topic")
	flag.Var(&verbose, "v", "Increase verbosity, may be repeated")
	flag.BoolVar(&veryVerbose, "vv", false, "Same as -v -v")
	flag.Parse()

	if veryVerbose {
		verbose += 2
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return agent.ExitFatal
	}
	if brokerURL != "" {
		cfg.Broker.URL = brokerURL
	}
	if clientName != "" {
		cfg.Broker.ClientID = clientName
	}
	if topic != "" {
		cfg.Agent.Topic = topic
	}
	if verbose > 0 {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return agent.ExitFatal
	}

	logger := newLogger(cfg.Log, verbose > 1)
	slog.SetDefault(logger)

	// Build session parameters
	session, err := connection.NewSession(cfg.Broker.URL, cfg.Broker.ClientID, cfg.Agent.Topic)
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		return agent.ExitFatal
	}
	session.QoS = config.QoS
	session.WillPayload = []byte(cfg.Agent.WillPayload)
	session.KeepAlive = cfg.Broker.KeepAlive
	session.ConnectTimeout = cfg.Broker.ConnectTimeout
	session.AckTimeout = cfg.Broker.AckTimeout
	session.TLS, err = mqtls.LoadClientConfig(cfg.Broker.TLS)
	if err != nil {
		logger.Error("Failed to load TLS configuration", "error", err)
		return agent.ExitFatal
	}

	logger.Info("Starting mqterm agent", "version", version)
	logger.Info("Configuration loaded",
		"broker", session.BrokerURL,
		"client_id", session.ClientID,
		"topic", session.Topic,
		"qos", session.QoS,
		"security", mqtls.SecurityStatus(session.TLS),
		"reject_malformed", cfg.Agent.RejectMalformed,
		"strict_output", cfg.Exec.StrictOutput,
		"log_level", cfg.Log.Level)
	logger.Warn("Anyone who can publish to this topic can run commands on this host; do not use a public broker for anything but testing",
		"broker", session.BrokerURL)

	// Initialize telemetry
	if cfg.Telemetry.Enabled {
		provider, err := mqotel.Setup(context.Background(), cfg.Telemetry, session.ClientID)
		if err != nil {
			logger.Error("Failed to initialize OpenTelemetry", "error", err)
			return agent.ExitFatal
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Health.ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err)
			}
		}()
		logger.Info("OpenTelemetry enabled",
			"endpoint", cfg.Telemetry.Endpoint,
			"insecure", cfg.Telemetry.Insecure,
			"traces", cfg.Telemetry.TracesEnabled,
			"metrics", cfg.Telemetry.MetricsEnabled)
	}
	metrics, err := mqotel.NewMetrics(nil)
	if err != nil {
		logger.Error("Failed to create metrics", "error", err)
		return agent.ExitFatal
	}

	// Initialize history backend
	store, err := openHistory(cfg.History, logger)
	if err != nil {
		logger.Error("Failed to initialize command history", "error", err)
		return agent.ExitFatal
	}
	defer closeHistory(store, logger)

	// Connect to the broker
	policy := connection.RetryPolicy{
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Delay:       cfg.Reconnect.Delay,
		Multiplier:  cfg.Reconnect.Multiplier,
		MaxDelay:    cfg.Reconnect.MaxDelay,
	}
	client := connection.NewPahoClient(session)
	mgr, err := connection.NewManager(session, client, policy, cfg.Agent.QueueSize, logger)
	if err != nil {
		logger.Error("Failed to create connection manager", "error", err)
		return agent.ExitFatal
	}
	mgr.SetOnReconnecting(metrics.RecordReconnectAttempt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		logger.Error("Failed to start session", "error", err)
		return agent.ExitFatal
	}
	logger.Info("Listening for commands", "topic", session.Topic)

	exec := executor.New(nil, executor.Config{
		Timeout: cfg.Exec.Timeout,
		Strict:  cfg.Exec.StrictOutput,
	}, logger)
	pub := publisher.New(publisher.Config{
		Topic:            session.Topic,
		QoS:              session.QoS,
		FailureThreshold: cfg.Publish.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.Publish.CircuitBreaker.ResetTimeout,
	}, mgr, logger)

	// Start health check server if enabled
	var wg sync.WaitGroup
	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()
	if cfg.Health.Enabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
		}, mgr, pub, store, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(serverCtx); err != nil {
				logger.Error("Health check server error", "error", err)
			}
		}()
	}

	opts := []agent.Option{agent.WithMetrics(metrics)}
	if store != nil {
		opts = append(opts, agent.WithHistory(store))
	}
	if cfg.Exec.RateLimit > 0 {
		opts = append(opts, agent.WithLimiter(ratelimit.NewCommandLimiter(cfg.Exec.RateLimit, cfg.Exec.Burst)))
	}
	a := agent.New(agent.Config{RejectMalformed: cfg.Agent.RejectMalformed}, mgr, exec, pub, logger, opts...)

	runErr := a.Run(ctx)
	if runErr != nil && agent.ExitCode(runErr) != agent.ExitOK {
		logger.Error("Session loop stopped", "error", runErr)
	}

	// Teardown
	code := agent.ExitCode(runErr)
	if err := mgr.Close(context.Background()); err != nil {
		logger.Error("Failed to tear down session", "error", err)
		code = agent.ExitFatal
	}

	cancelServer()
	wg.Wait()

	logger.Info("mqterm agent stopped", "exit_code", code)
	return code
}

// openHistory creates the configured history backend. It returns a nil
// store when history is disabled.
func openHistory(cfg config.HistoryConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("Using in-memory command history", "capacity", cfg.Capacity)
		return memory.New(cfg.Capacity), nil
	case "badger":
		store, err := badger.New(badger.Config{
			Dir:       cfg.Dir,
			Retention: cfg.Retention,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Using BadgerDB command history", "dir", cfg.Dir)
		return store, nil
	default:
		logger.Info("Command history disabled")
		return nil, nil
	}
}

func closeHistory(store history.Store, logger *slog.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("Failed to close command history", "error", err)
	}
}

func newLogger(cfg config.LogConfig, addSource bool) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: logLevel, AddSource: addSource}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
