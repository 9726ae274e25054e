// Package admin serves the bridge's local HTTP surface: health, readiness,
// prometheus metrics and session inspection.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/clawbridge/internal/auth"
	"github.com/danmuck/clawbridge/internal/bridge"
	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports channel connectivity.
type StatusSource interface {
	Status() bridge.Status
}

type Options struct {
	Addr        string
	ID          string
	Version     string
	Token       string
	CORSOrigins []string
}

type Server struct {
	opts      Options
	status    StatusSource
	control   *sessions.Controller
	validator auth.Validator
	router    *gin.Engine
	started   time.Time
}

func New(opts Options, status StatusSource, control *sessions.Controller) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:      opts,
		status:    status,
		control:   control,
		validator: auth.StaticToken{Token: opts.Token},
		router:    r,
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.opts.ID,
			"version": s.opts.Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.status.Status()
		code := http.StatusOK
		if !st.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   st.Ready(),
			"gateway": st.Gateway,
			"webhook": st.Webhook,
			"uptime":  time.Since(s.started).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		list, err := s.control.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})
	s.router.GET("/sessions/:key", s.sessionHandler(sessions.ControlGet))

	guarded := s.router.Group("/sessions", s.requireToken)
	guarded.POST("/:key/reset", s.sessionHandler(sessions.ControlReset))
	guarded.DELETE("/:key", s.sessionHandler(sessions.ControlDelete))
}

// sessionHandler runs one session-control request addressed by the :key path param.
func (s *Server) sessionHandler(kind sessions.ControlType) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.control.Handle(sessions.ControlMessage{Type: kind, Key: c.Param("key")})
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if result, ok := resp.Data.(sessions.ControlResult); ok && result.Error != "" {
			code := http.StatusInternalServerError
			if result.Error == "Session not found" {
				code = http.StatusNotFound
			}
			_ = c.Error(errors.New(result.Error))
			c.JSON(code, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) requireToken(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if err := s.validator.Validate(token); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("admin.Server.Serve stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
