package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clockin/internal/audit"
	"clockin/internal/auth"
	"clockin/internal/checkin"
	"clockin/internal/config"
	"clockin/internal/httpmiddleware"
	"clockin/internal/portal"
	"clockin/internal/queue"
	"clockin/internal/session"
	"clockin/internal/store"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	// The audit trail is optional; the engine itself keeps no durable state.
	var repo *audit.Repository
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Warn("db not reachable, audit trail disabled", zap.Error(err))
	} else {
		repo = audit.NewRepository(db.Client)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clockin:batches")
	}

	portalClient := portal.New(portal.Config{
		BaseURL:     cfg.PortalBaseURL,
		LoginPath:   cfg.PortalLoginPath,
		RecordPath:  cfg.PortalRecordPath,
		Timeout:     cfg.PortalTimeout,
		InsecureTLS: cfg.PortalInsecure,
	}, logger)
	registry := session.NewRegistry(cfg.SessionTTL)
	engine := checkin.NewEngine(portalClient, registry, checkin.Options{
		PoolSize:    cfg.WorkerPoolSize,
		Tolerance:   cfg.VerifyTolerance,
		ProbeDelays: cfg.ProbeDelays,
	}, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "audit": repo != nil, "sessions": registry.Len()})
	})

	r.POST("/api/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.DeviceID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = repo.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	api := r.Group("/api", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	api.POST("/login_batch", func(c *gin.Context) {
		users, ok := bindUsers(c)
		if !ok {
			return
		}
		outcomes := engine.LoginBatch(c.Request.Context(), users)
		if _, err := repo.RecordBatch(c.Request.Context(), "login", false, outcomes); err != nil {
			logger.Warn("audit write failed", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "results": outcomes})
	})

	api.POST("/checkin_batch", func(c *gin.Context) {
		users, token, ok := bindCheckin(c)
		if !ok {
			return
		}
		outcomes := engine.RunBatch(c.Request.Context(), users, token)
		if _, err := repo.RecordBatch(c.Request.Context(), "checkin", token != "", outcomes); err != nil {
			logger.Warn("audit write failed", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "results": outcomes})
	})

	api.POST("/checkin_batch_async", func(c *gin.Context) {
		users, token, ok := bindCheckin(c)
		if !ok {
			return
		}
		job := queue.Job{ID: uuid.NewString(), Token: token, Users: users}
		if err := q.Publish(c.Request.Context(), job); err != nil {
			logger.Error("queue publish failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
	})

	api.GET("/batch_result/:id", func(c *gin.Context) {
		var outcomes []checkin.Outcome
		found, err := redisClient.GetResult(c.Request.Context(), c.Param("id"), &outcomes)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusOK, gin.H{"status": "pending"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "results": outcomes})
	})

	api.POST("/history", func(c *gin.Context) {
		var req struct {
			ID        string `json:"id" binding:"required"`
			Password  string `json:"password" binding:"required"`
			TargetURL string `json:"targetUrl"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.TargetURL != "" && !strings.HasPrefix(req.TargetURL, cfg.PortalBaseURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target must be a portal URL"})
			return
		}
		cred, err := checkin.NewCredential(req.ID, req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		doc, err := engine.History(c.Request.Context(), cred, req.TargetURL)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", doc)
	})

	api.GET("/audit/:user_id", func(c *gin.Context) {
		if repo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail not configured"})
			return
		}
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		rows, err := repo.ListUserOutcomes(c.Request.Context(), c.Param("user_id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcomes": rows})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // sync batches wait out the verification schedule
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

type userPayload struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func toCredentials(c *gin.Context, payload []userPayload) ([]checkin.Credential, bool) {
	users := make([]checkin.Credential, 0, len(payload))
	for _, u := range payload {
		cred, err := checkin.NewCredential(u.ID, u.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
		users = append(users, cred)
	}
	return users, true
}

func bindUsers(c *gin.Context) ([]checkin.Credential, bool) {
	var req struct {
		Users []userPayload `json:"users" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return toCredentials(c, req.Users)
}

func bindCheckin(c *gin.Context) ([]checkin.Credential, string, bool) {
	var req struct {
		Users  []userPayload `json:"users" binding:"required,min=1,dive"`
		QRData string        `json:"qr_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, "", false
	}
	users, ok := toCredentials(c, req.Users)
	return users, req.QRData, ok
}

// CORS middleware for the mobile front end.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
