package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"facerecog/internal/auth"
	"facerecog/internal/config"
	"facerecog/internal/handlers"
	"facerecog/internal/httpmiddleware"
	"facerecog/internal/logging"
	"facerecog/internal/matcher"
	"facerecog/internal/queue"
	"facerecog/internal/roster"
	"facerecog/internal/store"
	"facerecog/internal/upload"
	"facerecog/internal/verification"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx := context.Background()

	subjects, closeStore, err := roster.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck
	if err := subjects.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close() //nolint:errcheck
	}

	var events queue.Queue
	if cfg.QueueBackend == "redis" {
		events = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	m, err := newMatcher(cfg, logger)
	if err != nil {
		return err
	}

	uploads, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	svc := verification.NewService(uploads, m, subjects, events, logger)
	logins := auth.NewService(subjects, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	h := handlers.New(svc, logins, subjects, logger, cfg.MaxUploadBytes)
	h.AddHealthCheck("db", subjects.Ping)
	if redisClient != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error {
			if !redisClient.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		})
	}
	if hm, ok := m.(*matcher.HTTPMatcher); ok {
		h.AddHealthCheck("matcher", hm.Health)
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	r := buildRouter(cfg, h, limiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.MatcherTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MatcherTimeout == 0 {
		srv.WriteTimeout = 0
	}

	logger.Info("starting server",
		zap.String("addr", srv.Addr),
		zap.String("store", cfg.StoreDriver),
		zap.String("matcher", cfg.MatcherMode),
		zap.String("queue", cfg.QueueBackend))
	return serveHTTPServer(srv, 10*time.Second, logger)
}

func newMatcher(cfg config.App, logger *zap.Logger) (matcher.Matcher, error) {
	switch cfg.MatcherMode {
	case "http":
		return matcher.NewHTTPMatcher(cfg.FaceServiceURL, cfg.MatcherTimeout), nil
	default:
		pm, err := matcher.NewProcessMatcher(cfg.MatcherCommand, cfg.MatcherTimeout)
		if err != nil {
			return nil, err
		}
		if err := pm.Check(); err != nil {
			logger.Warn("matcher not runnable yet", zap.Error(err))
		}
		return pm, nil
	}
}

func buildRouter(cfg config.App, h *handlers.Handler, limiter httpmiddleware.Limiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:   []string{httpmiddleware.RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var protect []gin.HandlerFunc
	if cfg.AuthRequired {
		protect = append(protect, auth.BearerAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	}
	h.RegisterRoutes(r, protect...)
	return r
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
