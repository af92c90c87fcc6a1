package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"schoolgate/internal/attendance"
	"schoolgate/internal/config"
	"schoolgate/internal/journal"
	"schoolgate/internal/presence"
	"schoolgate/internal/queue"
	"schoolgate/internal/refresh"
	"schoolgate/internal/schoolapi"
	"schoolgate/internal/store"
	"schoolgate/internal/workflow"
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
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, commit journal disabled: %v", err)
		db = nil
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
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	now := attendance.Clock(time.Now)
	api := schoolapi.New(cfg.SchoolAPIBaseURL, cfg.SchoolAPITimeout)

	screens := map[string]*screen{}
	for audience, role := range map[string]string{"students": "student", "staff": "staff"} {
		ref := refresh.New(api, role, now)
		screens[audience] = &screen{
			refresher: ref,
			wf:        workflow.NewManager(api, ref, now, q),
		}
	}

	var journalRepo *journal.Repository
	if db != nil {
		journalRepo = journal.NewRepository(db.Client)
	}

	d := deps{
		api:     api,
		screens: screens,
		tracker: presence.NewTracker(redisClient.Client, now),
		journal: journalRepo,
		db:      db,
		redis:   redisClient,
		now:     now,
	}

	// Background poll so the snapshot is warm between screen queries. Each
	// HTTP view request still refreshes synchronously; this only reconciles
	// optimistic projections against server truth while screens idle.
	pollCtx, pollCancel := context.WithCancel(context.Background())
	defer pollCancel()
	for _, scr := range screens {
		go func(ref *refresh.Refresher) {
			ticker := time.NewTicker(cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(pollCtx, cfg.SchoolAPITimeout)
					ref.Refresh(ctx, 0, attendance.DateOf(now()))
					cancel()
				case <-pollCtx.Done():
					return
				}
			}
		}(scr.refresher)
	}

	r := newRouter(cfg, d)

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

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests.
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

// Security headers middleware.
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
