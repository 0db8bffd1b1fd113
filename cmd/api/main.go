package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/geo"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/qr"
	"qrattend/internal/queue"
	"qrattend/internal/record"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/store"
	"qrattend/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.OpenPostgres(cfg)
	if err != nil {
		log.Printf("warning: db not reachable, using in-memory state: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.OpenRedis(cfg)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:finalize")
	}

	var sessions session.Store
	var records record.Sink
	if db != nil {
		sessions = session.NewPostgresStore(db.DB)
		records = record.NewPostgresSink(db.DB)
	} else {
		sessions = session.NewMemoryStore()
		records = record.NewMemorySink()
	}

	rosterClient := roster.NewClient(cfg.RosterServiceURL, cfg.RosterStub)
	eval := session.NewEvaluator(cfg.FingerprintWindow, cfg.FingerprintMaxStudents)
	stats := session.NewAggregator(rosterClient, redisClient.Client, cfg.StatsCacheTTL, cfg.RecentScanLimit)
	mgr := session.NewManager(sessions, eval, stats, rosterClient, records, session.Limits{
		MinDuration:    cfg.MinSessionDuration,
		MaxDuration:    cfg.MaxSessionDuration,
		DefaultRadiusM: cfg.DefaultRadiusM,
	})

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
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/tokens", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	repGroup := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleRepresentative))

	repGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			SectionID            string     `json:"section_id" binding:"required"`
			CourseID             string     `json:"course_id" binding:"required"`
			DurationMinutes      int        `json:"duration_minutes" binding:"required"`
			LocationVerification bool       `json:"location_verification"`
			Location             *geo.Point `json:"location"`
			AllowedRadiusM       float64    `json:"allowed_radius_m"`
			AntiCheatEnabled     bool       `json:"anti_cheat_enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, qrToken, err := mgr.GenerateSession(c.Request.Context(), session.GenerateParams{
			SectionID:            req.SectionID,
			CourseID:             req.CourseID,
			Duration:             time.Duration(req.DurationMinutes) * time.Minute,
			LocationVerification: req.LocationVerification,
			Location:             req.Location,
			AllowedRadiusM:       req.AllowedRadiusM,
			AntiCheatEnabled:     req.AntiCheatEnabled,
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": s, "qr_token": qrToken})
	})

	repGroup.GET("/sessions/active", func(c *gin.Context) {
		sectionID := c.Query("section_id")
		courseID := c.Query("course_id")
		if sectionID == "" || courseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "section_id and course_id required"})
			return
		}
		s, err := mgr.GetActiveSession(c.Request.Context(), sectionID, courseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": s})
	})

	repGroup.GET("/sessions/:id/qr", func(c *gin.Context) {
		s, err := mgr.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		qrToken, err := token.Issue(s.ID, s.TokenSecret, s.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		png, err := qr.RenderPNG(qrToken, 512)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	repGroup.POST("/sessions/:id/close", func(c *gin.Context) {
		var req struct {
			GenerateRecord bool `json:"generate_record"`
		}
		// An empty body closes without generating a record.
		_ = c.ShouldBindJSON(&req)

		s, rec, err := mgr.CloseSession(c.Request.Context(), c.Param("id"), req.GenerateRecord)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		if !req.GenerateRecord && cfg.AutoFinalize {
			// Deferred finalization: the record still lands via the worker.
			if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeFinalize, Body: []byte(s.ID)}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
		resp := gin.H{"session": s}
		if rec != nil {
			resp["record"] = rec
		}
		c.JSON(http.StatusOK, resp)
	})

	repGroup.GET("/sessions/:id/stats", func(c *gin.Context) {
		stats, err := mgr.GetStats(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	studentGroup := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	studentGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			Token             string     `json:"token" binding:"required"`
			StudentID         string     `json:"student_id" binding:"required"`
			Location          *geo.Point `json:"location"`
			DeviceFingerprint string     `json:"device_fingerprint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)
		if claims.Subject != "" && claims.Subject != req.StudentID {
			c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
			return
		}

		result, err := mgr.SubmitScan(c.Request.Context(), req.Token, req.StudentID, req.Location, req.DeviceFingerprint)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionConflict), errors.Is(err, session.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidDuration), errors.Is(err, session.ErrLocationRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
