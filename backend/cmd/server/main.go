// Package main is the entry point for the Sherwood order execution
// platform. It wires the broker connector, risk engine, execution
// engine, persistence layer, shared bus, and fan-out layer together and
// serves the operator HTTP API and WebSocket endpoint.
package main

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexherrero/sherwood/backend/api"
	"github.com/alexherrero/sherwood/backend/auth"
	"github.com/alexherrero/sherwood/backend/broker/simulated"
	"github.com/alexherrero/sherwood/backend/bus"
	"github.com/alexherrero/sherwood/backend/config"
	"github.com/alexherrero/sherwood/backend/data"
	"github.com/alexherrero/sherwood/backend/execution"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/alexherrero/sherwood/backend/notifications"
	"github.com/alexherrero/sherwood/backend/observability"
	"github.com/alexherrero/sherwood/backend/realtime"
	"github.com/alexherrero/sherwood/backend/risk"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// platformAccountID is the single paper-trading account the simulated
// broker tracks until a real multi-account connector lands.
const platformAccountID = "default"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("starting sherwood execution platform")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsLive() {
		log.Warn().Msg("LIVE TRADING MODE - real money at risk")
	} else {
		log.Info().Msg("dry-run mode: orders route to the simulated broker")
	}

	db, err := data.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	repo := data.NewRepository(db, log.Logger)
	notifStore := data.NewNotificationStore(db)

	busClient, err := bus.NewClient(cfg.BusURL, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("bus unreachable: presence, revocation, and cross-instance fan-out are degraded")
	}
	if busClient != nil {
		defer busClient.Close()
	}

	brk := simulated.New(platformAccountID, decimal.NewFromInt(100000))
	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := brk.Connect(startCtx); err != nil {
		cancelStart()
		log.Fatal().Err(err).Msg("failed to connect broker")
	}
	cancelStart()

	rules, err := loadRiskRules(cfg.RiskRulesPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.RiskRulesPath).Msg("failed to load risk rules, running with none configured")
	}

	events := execution.NewEventBus(256, log.Logger)

	// execution.Engine and risk.Engine depend on each other (the engine
	// needs a risk checker, the risk engine needs an order canceler), so
	// construction happens in two phases: build the execution engine
	// with no risk checker, build the risk engine against it, then wire
	// the risk checker back in.
	engine := execution.NewEngine(brk, nil, repo, events, log.Logger)
	var replica risk.KillSwitchReplicator
	if busClient != nil {
		replica = busClient
	}
	riskEngine := risk.NewEngine(rules, repo, engine, brk, notifStore, replica, log.Logger)
	engine.SetRiskChecker(riskEngine)

	verifier, issuer := loadAuthKeys(cfg, busClient)

	var limiter *bus.SlidingWindowLimiter
	var rt *realtime.Manager
	if busClient != nil {
		limiter = bus.NewSlidingWindowLimiter(busClient, bus.DefaultRateLimits())
		rt = realtime.NewManager(verifier, busClient, limiter, log.Logger)
	} else {
		log.Warn().Msg("realtime fan-out disabled: no bus connection")
	}

	var notifier *notifications.Manager
	if rt != nil {
		notifier = notifications.NewManager(notifStore, rt)
	} else {
		notifier = notifications.NewManager(notifStore, nil)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt != nil {
		// One persistent cross-instance relay listener per process: it
		// subscribes to every broadcast channel once and hands each message
		// to the manager's local delivery (broadcastLocal), including the
		// messages this same instance publishes through Broadcast.
		go rt.RelayRemote(runCtx)
	}

	metrics := observability.NewRecorder()

	// Forward execution-engine lifecycle events to the fan-out layer so
	// WebSocket subscribers see order updates as they happen.
	events.On(execution.EventOrderUpdated, func(ctx context.Context, event string, payload json.RawMessage) {
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return
		}
		metrics.RecordOrder(order.Symbol, string(order.Side), string(order.Status))
		if rt != nil {
			rt.Broadcast(ctx, realtime.TopicOrderUpdates+":"+order.AccountID, order)
		}
	})
	events.On(execution.EventOrderRejected, func(ctx context.Context, event string, payload json.RawMessage) {
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return
		}
		metrics.RecordRejection(order.RejectionReason)
	})
	events.On(execution.EventOrderFilled, func(ctx context.Context, event string, payload json.RawMessage) {
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return
		}
		metrics.RecordTrade(order.Symbol, string(order.Side))
	})

	go events.Run(runCtx)

	reconciler := execution.NewReconciler(engine, 30*time.Second)
	go reconciler.Run(runCtx, platformAccountID)

	handler := api.NewHandler(engine, repo, riskEngine, issuer, verifier, busClient, rt, notifier, metrics, cfg)
	router := api.NewRouter(cfg, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := observability.NewServer(observability.ServerConfig{
		Port:        cfg.MetricsPort,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}, log.Logger)
	metricsServer.RegisterCheck("broker", func(ctx context.Context) observability.Check {
		if brk.IsConnected() {
			return observability.Check{Status: "healthy"}
		}
		return observability.Check{Status: "unhealthy", Message: "broker disconnected"}
	})
	metricsServer.RegisterCheck("bus", func(ctx context.Context) observability.Check {
		if busClient == nil {
			return observability.Check{Status: "unhealthy", Message: "no bus connection"}
		}
		if err := busClient.Ping(ctx); err != nil {
			return observability.Check{Status: "unhealthy", Message: err.Error()}
		}
		return observability.Check{Status: "healthy"}
	})
	metricsServer.Start()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	<-runCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server forced to shutdown")
	}
	if err := brk.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("broker disconnect failed")
	}

	log.Info().Msg("shutdown complete")
}

// loadRiskRules reads the risk rule set from a JSON file. A missing file
// is not an error: it yields no rules and a nil error, so the platform
// runs with no rules configured and nothing is logged about it.
func loadRiskRules(path string) ([]models.RiskRule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rules []models.RiskRule
	if err := json.Unmarshal(content, &rules); err != nil {
		return nil, fmt.Errorf("parse risk rules: %w", err)
	}
	return rules, nil
}

// loadAuthKeys reads the RS256 key pair backing the WebSocket fan-out
// layer's token issuance and verification. Missing or unreadable keys
// degrade to a nil verifier/issuer: the REST API (protected by the
// admin API key) keeps working, but /ws refuses connections.
func loadAuthKeys(cfg *config.Config, busClient *bus.Client) (*auth.Verifier, *auth.Issuer) {
	pubPEM, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.JWTPublicKeyPath).Msg("failed to read JWT public key, realtime auth disabled")
		return nil, nil
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse JWT public key, realtime auth disabled")
		return nil, nil
	}

	var privKey *rsa.PrivateKey
	privPEM, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.JWTPrivateKeyPath).Msg("failed to read JWT private key, token issuance disabled")
	} else if privKey, err = jwt.ParseRSAPrivateKeyFromPEM(privPEM); err != nil {
		log.Warn().Err(err).Msg("failed to parse JWT private key, token issuance disabled")
		privKey = nil
	}

	// Without a bus connection there is nowhere to check revocations;
	// tokens are accepted on signature and expiry alone until the bus
	// comes back.
	var revocation auth.RevocationStore
	if busClient != nil {
		revocation = busClient
	}
	verifier := auth.NewVerifier(pubKey, "sherwood", "sherwood-clients", revocation)

	var issuer *auth.Issuer
	if privKey != nil {
		issuer = auth.NewIssuer(privKey, "sherwood", "sherwood-clients", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}

	return verifier, issuer
}
