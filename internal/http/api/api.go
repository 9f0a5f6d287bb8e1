package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notedock/notedock/internal/config"
	"github.com/notedock/notedock/internal/googleauth"
	handlers "github.com/notedock/notedock/internal/http/api/handlers"
	"github.com/notedock/notedock/internal/mailer"
	"github.com/notedock/notedock/internal/models"
	"github.com/notedock/notedock/internal/ratelimit"
	"github.com/notedock/notedock/internal/security"
	"gorm.io/gorm"
)

// RegisterRoutes registers all API routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, mail mailer.Sender, google *googleauth.Verifier, limiter *ratelimit.Manager) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	authHandler := handlers.NewAuthHandler(db, jwtCfg, mail, google)
	authGroup := r.Group("/v0/auth")
	otpLimited := otpRateLimitMiddleware(limiter)

	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/send-otp", otpLimited, authHandler.SendOTP)
	authGroup.POST("/send-login-otp", otpLimited, authHandler.SendLoginOTP)
	authGroup.POST("/verify-otp", authHandler.VerifyOTP)
	authGroup.POST("/login", otpLimited, authHandler.Login)
	authGroup.POST("/google", authHandler.GoogleSignIn)
	authGroup.POST("/refresh", authHandler.Refresh)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", AuthMiddleware(db, jwtCfg), authHandler.Me)

	noteHandler := handlers.NewNoteHandler(db)
	noteGroup := r.Group("/v0/notes")
	noteGroup.Use(AuthMiddleware(db, jwtCfg))
	noteGroup.GET("", noteHandler.List)
	noteGroup.POST("", noteHandler.Create)
	noteGroup.PUT("/:id", noteHandler.Update)
	noteGroup.DELETE("/:id", noteHandler.Delete)
}

// AuthMiddleware validates access tokens and loads the user context.
func AuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAccessToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, errID := claims.UserID()
		if errID != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, userID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("userEmail", user.Email)
		c.Set("userRole", user.Role)
		c.Next()
	}
}

// otpRateLimitMiddleware bounds OTP issuance per email address. The
// key is the normalized email from the request body, not the caller's
// network address.
func otpRateLimitMiddleware(limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		body, errRead := io.ReadAll(c.Request.Body)
		if errRead != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var payload struct {
			Email string `json:"email"`
		}
		// Malformed JSON falls through to the handler's own binding error.
		_ = json.Unmarshal(body, &payload)
		key := handlers.NormalizeEmail(payload.Email)
		if key == "" {
			c.Next()
			return
		}

		result, errAllow := limiter.Allow(c.Request.Context(), key)
		if errAllow != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
		if !result.Allowed {
			retryAfter := result.RetryAfter(time.Now())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "too many otp requests, please try again later",
				"retryAfterSeconds": retryAfter,
			})
			return
		}
		c.Next()
	}
}
