// Package admin exposes a running Supervisor over HTTP: listing, starting and
// stopping peers, writing raw lines and pulling the next inbound line.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/danmuck/peerctl/internal/auth"
	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/observability"
	"github.com/danmuck/peerctl/internal/peer"
)

// Peers is the part of *peer.Supervisor the API drives.
type Peers interface {
	Start(ctx context.Context, path string, opts ...peer.StartOption) (peer.ID, error)
	Stop(ctx context.Context, id peer.ID) error
	Send(ctx context.Context, id peer.ID, raw []byte) error
	ReadLine(ctx context.Context, id peer.ID) (peer.Inbound, error)
	Info(id peer.ID) (peer.Info, error)
	Peers() []peer.Info
}

var _ Peers = (*peer.Supervisor)(nil)

var errNoToken = errors.New("admin: no token configured")

type Options struct {
	Addr        string
	CorsOrigins []string
	// Validator guards every route but /health. With no Validator those
	// routes answer 401 unless Insecure is set.
	Validator auth.Validator
	Insecure  bool
	// NextTimeout caps GET /peers/:id/next when the request sets none.
	NextTimeout time.Duration
}

type Server struct {
	peers   Peers
	opts    Options
	router  *gin.Engine
	started time.Time
	http    *http.Server
}

func New(peers Peers, opts Options) *Server {
	if opts.NextTimeout <= 0 {
		opts.NextTimeout = 30 * time.Second
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("admin")))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{peers: peers, opts: opts, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("admin.Server.ListenAndServe listening addr=%q", s.opts.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logs.Infof("admin.Server.ListenAndServe stopped addr=%q", s.opts.Addr)
		return nil
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Validator == nil {
			if s.opts.Insecure {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errNoToken.Error()})
			return
		}
		token, err := auth.ParseBearer(c.GetHeader("Authorization"))
		if err == nil {
			err = s.opts.Validator.Validate(token)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
