package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notedock/notedock/internal/config"
	"github.com/notedock/notedock/internal/db"
	"github.com/notedock/notedock/internal/googleauth"
	"github.com/notedock/notedock/internal/http/api"
	"github.com/notedock/notedock/internal/mailer"
	"github.com/notedock/notedock/internal/ratelimit"

	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, cfg config.AppConfig) error {
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the API server with database-backed components and
// blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	mail := mailer.New(cfg.SMTP)

	var google *googleauth.Verifier
	if cfg.GoogleClientID != "" {
		google = googleauth.NewVerifier(cfg.GoogleClientID)
	} else {
		log.Warn("google client id not configured, google sign-in disabled")
	}

	limiterCfg := cfg.OTPRateLimit
	limiter := ratelimit.NewManager(func() ratelimit.Config {
		return ratelimit.Config{
			Limit:         limiterCfg.Limit,
			Window:        limiterCfg.Window,
			RedisEnabled:  limiterCfg.RedisEnabled,
			RedisAddr:     limiterCfg.RedisAddr,
			RedisPassword: limiterCfg.RedisPassword,
			RedisDB:       limiterCfg.RedisDB,
			RedisPrefix:   limiterCfg.RedisPrefix,
		}
	}, nil, nil)
	limiter.StartSweeper(ctx, ratelimit.DefaultSweepInterval)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	api.RegisterRoutes(engine, conn, cfg.JWT, mail, google, limiter)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
	}()

	log.Infof("starting notedock api on port %d", cfg.Port)
	if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	return nil
}

// requestLogger logs each request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request handled")
	}
}
