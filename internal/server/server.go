package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/feed"
	"github.com/dmorgan81/promptmint/internal/handler"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

const shutdownTimeout = 10 * time.Second

type Generator interface {
	Handle(context.Context, handler.Input) (handler.Output, error)
}

type Lister interface {
	ListRecent(context.Context, int) ([]history.Record, error)
}

type FeedRenderer interface {
	Generate(context.Context) ([]byte, error)
}

type Options struct {
	Addr         string
	CORSOrigins  []string
	HistoryLimit int
	Generator    Generator
	History      Lister
	Feed         FeedRenderer
	Gatherer     prometheus.Gatherer
}

type Server struct {
	opts   Options
	engine *gin.Engine
	http   *http.Server
}

func NewServer(i *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return New(Options{
		Addr:         cfg.Addr,
		CORSOrigins:  cfg.CORSOrigins,
		HistoryLimit: cfg.HistoryLimit,
		Generator:    do.MustInvoke[*handler.Handler](i),
		History:      do.MustInvoke[*history.Ledger](i),
		Feed:         do.MustInvoke[*feed.Generator](i),
		Gatherer:     do.MustInvoke[prometheus.Gatherer](i),
	}), nil
}

func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger(), cors.New(corsConfig(opts.CORSOrigins)))

	s := &Server{
		opts:   opts,
		engine: engine,
		http:   &http.Server{Addr: opts.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second},
	}

	engine.POST("/generate", s.generate)
	engine.GET("/history", s.history)
	engine.GET("/history/feed", s.feed)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":     "Method not allowed",
			"code":      "METHOD_NOT_ALLOWED",
			"timestamp": handler.Timestamp(time.Now()),
		})
	})
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	return c
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. Requests inherit ctx's values, the
// logger among them, but not its cancellation: in-flight requests finish
// during a graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base := context.WithoutCancel(ctx)
	s.http.BaseContext = func(net.Listener) context.Context { return base }
	log.FromContextOrDiscard(ctx).WithGroup("server").Info("listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
