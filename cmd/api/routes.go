package main

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolgate/internal/attendance"
	"schoolgate/internal/auth"
	"schoolgate/internal/config"
	"schoolgate/internal/httpmiddleware"
	"schoolgate/internal/journal"
	"schoolgate/internal/presence"
	"schoolgate/internal/refresh"
	"schoolgate/internal/roster"
	"schoolgate/internal/scan"
	"schoolgate/internal/schoolapi"
	"schoolgate/internal/store"
	"schoolgate/internal/workflow"
)

// screen bundles the refresher and workflow manager for one audience
// (students or staff). Each mirrors one attendance screen of the mobile app.
type screen struct {
	refresher *refresh.Refresher
	wf        *workflow.Manager
}

type deps struct {
	api     *schoolapi.Client
	screens map[string]*screen
	tracker *presence.Tracker
	journal *journal.Repository
	db      *store.DB
	redis   *store.Redis
	now     attendance.Clock
}

func newRouter(cfg config.App, d deps) *gin.Engine {
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
		redisHealthy := d.redis.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": d.db != nil})
	})

	r.POST("/v1/staff/register", func(c *gin.Context) {
		var req struct {
			DeviceID  string `json:"device_id" binding:"required"`
			StaffName string `json:"staff_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if d.journal != nil {
			if err := d.journal.RegisterDevice(c.Request.Context(), req.DeviceID, req.StaffName); err != nil {
				log.Printf("device register persist failed: %v", err)
			}
		}

		tokens, err := auth.Issue(req.DeviceID, "staff", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		if d.journal != nil {
			_ = d.journal.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/branches", func(c *gin.Context) {
		branches, err := d.api.ListBranches(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"branches": branches})
	})

	authGroup.GET("/attendance/:audience/view", func(c *gin.Context) {
		scr, ok := d.screens[c.Param("audience")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown audience"})
			return
		}
		branchID, _ := strconv.ParseInt(c.Query("branch_id"), 10, 64)
		date := c.Query("date")
		if date == "" {
			date = attendance.DateOf(d.now())
		}

		snap, _ := scr.refresher.Refresh(c.Request.Context(), branchID, date)
		if snap == nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "no data yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"branch_id":  snap.BranchID,
			"date":       snap.Date,
			"fetched_at": snap.FetchedAt,
			"views":      snap.Views,
		})
	})

	// A manual tap and a QR scan land here alike: the payload is resolved
	// against the current roster and the guardian prompt comes back.
	authGroup.POST("/attendance/:audience/select", func(c *gin.Context) {
		scr, ok := d.screens[c.Param("audience")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown audience"})
			return
		}
		var req struct {
			Payload string `json:"payload" binding:"required"`
			Method  string `json:"method"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		method := attendance.MethodManual
		if req.Method == string(attendance.MethodQR) {
			method = attendance.MethodQR
		}

		snap := scr.refresher.Snapshot()
		if snap == nil {
			snap, _ = scr.refresher.Refresh(c.Request.Context(), 0, attendance.DateOf(d.now()))
		}
		if snap == nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "roster unavailable"})
			return
		}

		people := make([]roster.Person, 0, len(snap.Views))
		for _, v := range snap.Views {
			people = append(people, v.Person)
		}
		person, err := scan.ResolvePerson(req.Payload, people)
		if err != nil {
			var nf *scan.NotFoundError
			if errors.As(err, &nf) {
				// Retryable: the scanning session stays open client-side.
				c.JSON(http.StatusNotFound, gin.H{
					"error":       "no matching person",
					"query":       nf.Query,
					"roster_size": nf.RosterSize,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		view := findView(snap, person)
		pa, err := scr.wf.Begin(view, method)
		if err != nil {
			if errors.Is(err, workflow.ErrCommitInFlight) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pa})
	})

	authGroup.POST("/attendance/:audience/commit", func(c *gin.Context) {
		scr, ok := d.screens[c.Param("audience")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown audience"})
			return
		}
		var req struct {
			PendingID string `json:"pending_id" binding:"required"`
			Candidate *int   `json:"candidate" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		markedByName, markedByRole := "", "staff"
		if claimsAny, ok := c.Get("claims"); ok {
			if claims, ok := claimsAny.(auth.Claims); ok {
				markedByName = claims.Subject
				markedByRole = claims.Role
			}
		}

		res, err := scr.wf.Commit(c.Request.Context(), req.PendingID, *req.Candidate, markedByName, markedByRole)
		if err != nil {
			var rej *schoolapi.RejectedError
			var tr *schoolapi.TransportError
			switch {
			case errors.As(err, &rej):
				msg := rej.Message
				if msg == "" {
					msg = "attendance update was not accepted"
				}
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msg})
			case errors.As(err, &tr):
				c.JSON(http.StatusBadGateway, gin.H{"error": "attendance update could not be delivered"})
			case errors.Is(err, workflow.ErrUnknownAction), errors.Is(err, workflow.ErrBadCandidate):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"time": res.Time, "by": res.By})
	})

	authGroup.POST("/attendance/:audience/cancel", func(c *gin.Context) {
		scr, ok := d.screens[c.Param("audience")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown audience"})
			return
		}
		var req struct {
			PendingID string `json:"pending_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := scr.wf.Cancel(req.PendingID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/presence/touch", func(c *gin.Context) {
		var req struct {
			PersonKey string `json:"person_key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := d.tracker.Touch(c.Request.Context(), req.PersonKey); err != nil {
			log.Printf("presence touch failed: %v", err)
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.GET("/presence/:person_key", func(c *gin.Context) {
		key := c.Param("person_key")
		last, err := d.tracker.LastSeen(c.Request.Context(), key)
		if err != nil {
			log.Printf("presence read failed: %v", err)
		}
		resp := gin.H{"online": presence.IsOnlineAt(last, d.now())}
		if last != nil {
			resp["last_seen"] = last.Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, resp)
	})

	authGroup.GET("/journal", func(c *gin.Context) {
		if d.journal == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		entries, err := d.journal.List(c.Request.Context(), c.Query("person_code"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	return r
}

// findView returns the derived row for a resolved person, falling back to an
// unmarked baseline if the snapshot moved underneath us.
func findView(snap *refresh.Snapshot, p roster.Person) attendance.DerivedView {
	for _, v := range snap.Views {
		if roster.SameIdentity(v.Person, p) {
			return v
		}
	}
	return attendance.DerivedView{
		Person: p,
		Status: attendance.StatusUnmarked,
		InBy:   attendance.Placeholder,
		OutBy:  attendance.Placeholder,
	}
}
