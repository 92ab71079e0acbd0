package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/api"
	"github.com/meshcompute/signaling/internal/v1/auth"
	"github.com/meshcompute/signaling/internal/v1/config"
	"github.com/meshcompute/signaling/internal/v1/health"
	"github.com/meshcompute/signaling/internal/v1/invite"
	"github.com/meshcompute/signaling/internal/v1/janitor"
	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/middleware"
	"github.com/meshcompute/signaling/internal/v1/ratelimit"
	"github.com/meshcompute/signaling/internal/v1/registry"
	"github.com/meshcompute/signaling/internal/v1/session"
	"github.com/meshcompute/signaling/internal/v1/store"
	"github.com/meshcompute/signaling/internal/v1/tracing"
)

func main() {
	// Load .env for local development; in deployment everything comes from
	// the environment.
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		os.Stderr.WriteString("environment validation failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("logger initialization failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx := context.Background()

	// --- Tracing (optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, auth.ServiceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled, collector unreachable", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Persistent store ---
	st, err := store.New(cfg.RedisAddr, cfg.RedisPassword, cfg.TablePrefix)
	if err != nil {
		logging.Fatal(ctx, "could not connect to redis", zap.Error(err))
	}
	defer st.Close()
	logging.Info(ctx, "connected to redis", zap.String("addr", cfg.RedisAddr))

	// --- Credential engine ---
	sessions, err := auth.NewSessionService(config.DecodePEM(cfg.SessionPrivKey), config.DecodePEM(cfg.SessionPubKey))
	if err != nil {
		logging.Fatal(ctx, "could not load session signing keys", zap.Error(err))
	}
	oauthService := auth.NewOAuthService(cfg.GithubClientID, cfg.GithubClientSecret, cfg.GithubRedirectURI)
	workerKeys := auth.NewWorkerKeyValidator(st.WorkerTokens(), st.Rooms())

	var legacy session.LegacyVerifier
	if cfg.HasLegacyAuth() {
		v, err := auth.NewLegacyValidator(ctx, cfg.CognitoRegion, cfg.CognitoUserPoolID, cfg.CognitoAppClientID)
		if err != nil {
			logging.Fatal(ctx, "could not initialize legacy validator", zap.Error(err))
		}
		legacy = v
		logging.Info(ctx, "legacy token validation enabled", zap.String("region", cfg.CognitoRegion))
	}

	// --- Live state ---
	reg := registry.New()
	invites := invite.NewRegistry()
	defer invites.Close()

	allowedOrigins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})

	hub := session.NewHub(session.HubOptions{
		Registry:       reg,
		Store:          st,
		Sessions:       sessions,
		WorkerKeys:     workerKeys,
		Legacy:         legacy,
		ICEServers:     cfg.ICEServers,
		MeshICEServers: cfg.MeshICEServers,
		AllowedOrigins: allowedOrigins,
	})

	// --- Janitor ---
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go janitor.New(st, 0).Run(janitorCtx)

	// --- Router ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware(auth.ServiceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	limiter, err := ratelimit.NewRateLimiter(cfg, st.Client())
	if err != nil {
		logging.Fatal(ctx, "could not build rate limiter", zap.Error(err))
	}
	router.Use(limiter.GlobalMiddleware())

	controlPlane := api.NewServer(st, sessions, oauthService, invites, reg)
	controlPlane.RegisterRoutes(router, limiter.RoomsMiddleware())

	healthHandler := health.NewHandler(st)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", func(c *gin.Context) {
		if !limiter.CheckWebSocket(c) {
			return
		}
		hub.ServeWs(c)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "signaling server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shut down", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
