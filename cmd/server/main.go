// Command server is the process entrypoint: it wires every subsystem
// spec §9 calls the "application container" into one process and serves
// the WebSocket/SSE transport endpoints, health/monitoring endpoints,
// and the Prometheus metrics endpoint. Grounded on the teacher's
// cmd/v1/session/main.go: godotenv for local development, gin-contrib/cors,
// a graceful-shutdown goroutine on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/auth"
	"github.com/arkanwolfshade/mythosmud/internal/broker"
	"github.com/arkanwolfshade/mythosmud/internal/config"
	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/eventbus"
	"github.com/arkanwolfshade/mythosmud/internal/health"
	"github.com/arkanwolfshade/mythosmud/internal/logging"
	"github.com/arkanwolfshade/mythosmud/internal/metrics"
	"github.com/arkanwolfshade/mythosmud/internal/middleware"
	"github.com/arkanwolfshade/mythosmud/internal/movement"
	"github.com/arkanwolfshade/mythosmud/internal/ratelimit"
	"github.com/arkanwolfshade/mythosmud/internal/realtime"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/arkanwolfshade/mythosmud/internal/session"
	"github.com/arkanwolfshade/mythosmud/internal/tracing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()
	ctx := context.Background()

	// --- Tracing (observational only; failure here is not fatal) ---
	var tracerProvider interface {
		Shutdown(context.Context) error
	}
	if collector := os.Getenv("OTEL_COLLECTOR_ADDR"); collector != "" {
		tp, err := tracing.InitTracer(ctx, "mythosmud-realtime", collector)
		if err != nil {
			logging.Warn(ctx, "tracer initialization failed, continuing without tracing", zap.Error(err))
		} else {
			tracerProvider = tp
		}
	}

	// --- Core subsystems, in dependency order ---
	bus := eventbus.New(cfg.EventBusQueueSize, logger)
	publisher := newBusPublisher(bus)

	busDepthStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.EventBusQueueDepth.Set(float64(bus.QueueDepth()))
			case <-busDepthStop:
				return
			}
		}
	}()

	rooms, err := room.LoadCatalog(cfg.RoomCatalogPath, publisher)
	if err != nil {
		logging.Fatal(ctx, "failed to load room catalog", zap.Error(err), zap.String("path", cfg.RoomCatalogPath))
	}

	conns := connmgr.New(rooms, connmgr.Config{
		MaxConnectionsPerPlayer: cfg.MaxConnectionsPerPlayer,
		OutboundQueueSize:       cfg.OutboundQueueSize,
		StaleIdleThreshold:      cfg.ConnectionTimeout,
		MaxConnectionAge:        cfg.MaxConnectionAge,
		CleanupInterval:         cfg.CleanupInterval,
	}, logger)

	sessions := session.New(session.Config{
		LoginGracePeriod:      cfg.LoginGracePeriod,
		DisconnectGracePeriod: cfg.DisconnectGracePeriod,
	}, bus, rooms, logger)
	conns.SetNotifier(sessions)

	movementSvc := movement.New(rooms, sessions, logger)

	var brokerClient *broker.Client
	brokerClient, err = broker.Connect(broker.Config{
		URLs:                    cfg.BrokerURLs,
		PoolSize:                cfg.BrokerPoolSize,
		MaxBatchRetries:         cfg.MaxBatchRetries,
		BatchFlushInterval:      cfg.BatchFlushInterval,
		BatchFlushSize:          cfg.BatchFlushSize,
		EnableBatching:          cfg.EnableBatching,
		HealthCheckInterval:     cfg.HealthCheckInterval,
		ManualAck:               cfg.ManualAck,
		EnableSubjectValidation: cfg.EnableSubjectValidation,
		StrictSubjectValidation: cfg.StrictSubjectValidation,
	}, logger)
	if err != nil {
		logging.Warn(ctx, "broker connect failed, continuing without broker mirroring", zap.Error(err))
		brokerClient = nil
	}

	handlers := realtime.New(conns, rooms, brokerClientOrNil(brokerClient), logger)
	handlers.Register(bus)
	if brokerClient != nil {
		if err := handlers.RegisterBroker(brokerSubscriber{client: brokerClient}); err != nil {
			logging.Warn(ctx, "broker subscriptions failed, cross-process fan-out disabled", zap.Error(err))
		}
	}

	// --- Auth ---
	var validator auth.Validator
	switch {
	case cfg.SkipAuth:
		logging.Warn(ctx, "authentication disabled (SKIP_AUTH=true); do not use in production")
		validator = auth.NewSharedSecretValidator(cfg.JWTSecret)
	case cfg.Auth0Domain != "" && cfg.Auth0Audience != "":
		v, err := auth.NewJWKSValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize JWKS validator", zap.Error(err))
		}
		validator = v
	default:
		validator = auth.NewSharedSecretValidator(cfg.JWTSecret)
	}

	// --- Rate limiting ---
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		ConnectPerIP:   cfg.RateLimitWsIP,
		ConnectPerUser: cfg.RateLimitWsUser,
	}, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	// --- Health ---
	healthHandler := health.NewHandler(conns,
		redisChecker(redisClient),
		connmgrChecker(conns),
		brokerChecker(brokerClient),
		logger)

	app := &application{
		cfg:       &appConfig{allowedOrigins: parseAllowedOrigins(cfg.AllowedOrigins)},
		validator: validator,
		limiter:   limiter,
		conns:     conns,
		rooms:     rooms,
		sessions:  sessions,
		movement:  movementSvc,
		bus:       bus,
		logger:    logger,
	}
	app.upgrader = websocket.Upgrader{
		CheckOrigin:     app.checkOrigin,
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
	}

	// --- HTTP server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = app.cfg.allowedOrigins
	router.Use(cors.New(corsCfg))

	router.GET("/ws/:player_id", app.HandleWS)
	router.GET("/sse/:player_id", app.HandleSSE)
	router.POST("/sse/:player_id/send", app.HandleSSESend)

	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/detailed", healthHandler.Detailed)
	router.GET("/monitoring/connection-health", healthHandler.ConnectionHealth)
	router.GET("/monitoring/performance", healthHandler.Performance)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	// Reverse-dependency-order shutdown (spec §5): stop accepting new
	// connections, close every attached connection, stop the broker
	// client, drain the event bus, then flush tracing.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(ctx, "http server shutdown error", zap.Error(err))
	}

	conns.Shutdown()

	if brokerClient != nil {
		brokerClient.Close()
	}

	close(busDepthStop)
	bus.Drain(5 * time.Second)

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "tracer shutdown error", zap.Error(err))
		}
	}

	logging.Info(ctx, "shutdown complete")
}

// brokerClientOrNil adapts a possibly-nil *broker.Client into the
// realtime.BrokerPublisher interface without realtime ever importing the
// concrete broker package, preserving a nil interface rather than a
// non-nil interface wrapping a nil pointer.
func brokerClientOrNil(c *broker.Client) realtime.BrokerPublisher {
	if c == nil {
		return nil
	}
	return c
}
