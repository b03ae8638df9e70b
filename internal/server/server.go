// Package server exposes a restaurant directory over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/stats"
)

// Directory is the set of directory operations the HTTP surface exposes.
// *restaurants.Coordinator implements it.
type Directory interface {
	Create(ctx context.Context, in restaurants.NewRestaurant) (*restaurants.Restaurant, error)
	Get(ctx context.Context, name string) (*restaurants.Restaurant, error)
	Delete(ctx context.Context, name string) error
	Rate(ctx context.Context, name string, rating float64) (*restaurants.Restaurant, error)
	List(ctx context.Context, q restaurants.ListQuery) ([]restaurants.Restaurant, error)
}

var _ Directory = (*restaurants.Coordinator)(nil)

// Info is the configuration summary served at the root path.
type Info struct {
	MemcachedEndpoint string `json:"MEMCACHED_CONFIGURATION_ENDPOINT"`
	TableName         string `json:"TABLE_NAME"`
	AWSRegion         string `json:"AWS_REGION"`
	UseCache          bool   `json:"USE_CACHE"`
}

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithInfo sets the configuration summary served at the root path.
func WithInfo(info Info) Option {
	return func(s *Server) { s.info = info }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithStats sets the collector receiving request metrics.
func WithStats(c stats.Collector) Option {
	return func(s *Server) { s.stats = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server serves the directory API.
type Server struct {
	dir     Directory
	addr    string
	info    Info
	metrics http.Handler
	stats   stats.Collector
	logger  *zap.Logger

	srv *http.Server
	ln  net.Listener
}

// New creates a Server for dir.
func New(dir Directory, opts ...Option) *Server {
	s := &Server{
		dir:    dir,
		addr:   DefaultAddr,
		stats:  stats.NewNoop(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	h := &handlers{dir: s.dir, info: s.info, logger: s.logger}
	return chain(newRouter(h, s.metrics),
		withRequestID,
		withLogging(s.logger),
		withMetrics(s.stats),
		withRecover(s.logger),
	)
}

// Start binds the listen address and serves in the background.
// Bind errors are returned; serve errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned, and the
// configured address before that.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("forced http shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("http server stopped gracefully")
	return nil
}
