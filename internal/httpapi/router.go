// Package httpapi exposes the attendance service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/queue"
)

// Check is one dependency probed by /healthz.
type Check = func(ctx context.Context) error

// Deps wires the router to the rest of the process.
type Deps struct {
	Service         *attendance.Service
	Auth            *auth.Authenticator
	Queue           queue.Queue // nil disables asynchronous commits
	Log             *zap.Logger
	Checks          map[string]Check
	Gatherer        prometheus.Gatherer // nil uses the default registry
	PersistTimeout  time.Duration
	RateLimitPerMin int
	CORSOrigins     []string
	// limiters for /v1/auth and the authenticated routes; nil builds them from RateLimitPerMin
	AuthLimiter *httpmiddleware.TokenBucket
	UserLimiter *httpmiddleware.TokenBucket
}

type handler struct {
	svc     *attendance.Service
	auth    *auth.Authenticator
	queue   queue.Queue
	log     *zap.Logger
	checks  map[string]Check
	timeout time.Duration
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	registerValidators()
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handler{
		svc:     d.Service,
		auth:    d.Auth,
		queue:   d.Queue,
		log:     d.Log,
		checks:  d.Checks,
		timeout: d.PersistTimeout,
	}

	if d.AuthLimiter == nil {
		d.AuthLimiter = httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin)
	}
	if d.UserLimiter == nil {
		d.UserLimiter = httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(securityHeaders())

	metrics := promhttp.Handler()
	if d.Gatherer != nil {
		metrics = promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metrics))
	r.GET("/healthz", h.healthz)

	public := r.Group("/v1/auth", d.AuthLimiter.Middleware(httpmiddleware.ByClientIP))
	public.POST("/token", h.token)
	public.POST("/refresh", h.refresh)

	v1 := r.Group("/v1",
		auth.Bearer(d.Auth.Config()),
		d.UserLimiter.Middleware(httpmiddleware.BySubject(subject)),
	)
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleFaculty)

	v1.GET("/offerings", h.offerings)
	v1.GET("/offerings/:id/roster", h.roster)

	v1.GET("/lectures", h.lectures)
	v1.POST("/lectures/:id/lock", staff, h.lock)
	v1.POST("/lectures/:id/unlock", staff, h.unlock)
	v1.PUT("/lectures/:id/status", staff, h.lectureStatus)
	v1.POST("/lectures/:id/sessions", h.openSession)

	v1.GET("/sessions/:sid", h.session)
	v1.PUT("/sessions/:sid/marks/:student_id", staff, h.mark)
	v1.POST("/sessions/:sid/bulk", staff, h.bulkMark)
	v1.POST("/sessions/:sid/commit", staff, h.commit)
	v1.POST("/sessions/:sid/retry", staff, h.retry)
	v1.DELETE("/sessions/:sid", h.closeSession)

	v1.GET("/jobs/:id", h.job)

	v1.GET("/records", h.records)
	v1.GET("/students/:id/attendance", h.studentAttendance)
	v1.GET("/reports/overview", h.overview)
	v1.GET("/reports/trend", h.trend)
	v1.GET("/reports/attendance.xlsx", h.workbook)

	return r
}

func subject(c *gin.Context) string {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return ""
	}
	return claims.Subject
}

func (h *handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		err := check(ctx)
		body[name] = err == nil
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			h.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
	}
	c.JSON(status, body)
}

// persistCtx bounds calls that reach the ledger.
func (h *handler) persistCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
