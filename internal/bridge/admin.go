package bridge

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/exflux/trainbridge/internal/observability"
)

// Admin exposes the bridge's HTTP sidecar: health, readiness, a status
// snapshot and the Prometheus scrape endpoint.
type Admin struct {
	srv     *Server
	addr    string
	router  *gin.Engine
	started time.Time
}

// NewAdmin builds the admin router around a bound server.
func NewAdmin(addr string, srv *Server, corsOrigins []string, logger zerolog.Logger) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(srv.Endpoint()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{srv: srv, addr: addr, router: r, started: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(a.started).String(),
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(a.started).String(),
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		trains, bytes := a.srv.Stats()
		c.JSON(http.StatusOK, gin.H{
			"endpoint":      a.srv.Endpoint(),
			"version":       string(a.srv.Version()),
			"serialization": a.srv.cfg.Serialization,
			"trains_served": trains,
			"bytes_sent":    bytes,
			"uptime":        time.Since(a.started).String(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Router returns the underlying engine, mainly for tests.
func (a *Admin) Router() *gin.Engine { return a.router }

// Serve blocks on the admin listener.
func (a *Admin) Serve() error {
	return a.router.Run(a.addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
