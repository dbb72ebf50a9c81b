// Package server exposes the federation endpoints and the local management
// API over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/config"
	"github.com/cvhariharan/sailboat/delivery"
	"github.com/cvhariharan/sailboat/directory"
	"github.com/cvhariharan/sailboat/follow"
	"github.com/cvhariharan/sailboat/inbox"
	"github.com/cvhariharan/sailboat/keyring"
	"github.com/cvhariharan/sailboat/metrics"
	"github.com/cvhariharan/sailboat/outbox"
	"github.com/cvhariharan/sailboat/store"
	"github.com/cvhariharan/sailboat/transport"
	"github.com/cvhariharan/sailboat/webfinger"
)

const inboxBodyLimit = "64K"

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	store  store.Store
	logger *zap.Logger

	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	keys       *keyring.Keyring
	builder    *activity.Builder
	directory  *directory.Directory
	dispatcher *delivery.Dispatcher
	notifier   *delivery.Notifier
	inbox      *inbox.Handler
	follows    *follow.Service
	outbox     *outbox.Provider
	webfinger  *webfinger.Responder

	httpClient *http.Client
	html       echo.HandlerFunc
}

type Option func(*Server)

// WithHTTPClient routes outbound federation requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.httpClient = hc }
}

// WithHTMLFallback serves h to clients that do not ask for ActivityPub JSON
// on actor, post and collection URLs. Without it they get 406.
func WithHTMLFallback(h echo.HandlerFunc) Option {
	return func(s *Server) { s.html = h }
}

func New(cfg *config.Config, st store.Store, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		html:     notAcceptable,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	clientOpts := []transport.Option{}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, transport.WithHTTPClient(s.httpClient))
	}
	clientOpts = append(clientOpts, transport.WithTimeout(cfg.RequestTimeout))
	client := transport.New(clientOpts...)

	dirOpts := []directory.Option{directory.WithMetrics(s.metrics)}
	if len(cfg.MemcacheServers) > 0 {
		dirOpts = append(dirOpts, directory.WithCache(
			directory.NewMemcacheCache(cfg.MemcacheServers, cfg.ActorCacheTTL, logger.Named("cache"))))
	}

	s.keys = keyring.New(st, cfg.Domain)
	s.builder = activity.NewBuilder(cfg.Domain)
	s.directory = directory.New(client, logger.Named("directory"), dirOpts...)
	s.dispatcher = delivery.NewDispatcher(client, logger.Named("delivery"),
		delivery.WithTimeout(cfg.DeliveryTimeout),
		delivery.WithConcurrency(cfg.DeliveryConcurrency),
		delivery.WithMetrics(s.metrics))
	s.notifier = delivery.NewNotifier(st, s.builder, s.dispatcher, s.metrics, logger.Named("notifier"))
	s.inbox = inbox.New(st, s.keys, s.directory, s.dispatcher, s.builder, logger.Named("inbox"),
		inbox.WithVerifyMode(cfg.Signatures),
		inbox.WithClockSkew(cfg.ClockSkew),
		inbox.WithMetrics(s.metrics))
	s.follows = follow.NewService(st, s.directory, s.dispatcher, s.builder, logger.Named("follow"))
	s.outbox = outbox.NewProvider(st, s.builder, cfg.OutboxPageSize)
	s.webfinger = webfinger.New(st, cfg.Domain)

	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(s.requestLogger())

	e.GET("/healthcheck", s.healthcheck)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	e.GET("/.well-known/webfinger", s.getWebFinger)

	e.GET("/profiles/:id", s.getActor, s.negotiate)
	e.GET("/profiles/:id/outbox", s.getOutbox, s.negotiate)
	e.GET("/profiles/:id/followers", s.getFollowers, s.negotiate)
	e.GET("/profiles/:id/following", s.getFollowing, s.negotiate)
	e.GET("/posts/:id", s.getNote, s.negotiate)

	limit := middleware.BodyLimit(inboxBodyLimit)
	e.POST("/profiles/:id/inbox", s.postInbox, limit)
	e.POST("/inbox", s.postSharedInbox, limit)

	if s.cfg.APIToken == "" {
		s.logger.Warn("SAILBOAT_API_TOKEN is not set, management API disabled")
		return e
	}
	api := e.Group("/api/profiles/:id", s.apiAuth(), s.loadProfile)
	api.POST("/posts", s.createPost)
	api.GET("/search", s.search)
	api.POST("/following", s.followActor)
	api.DELETE("/following", s.unfollowActor)
	return e
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.cfg.Addr), zap.String("domain", s.cfg.Domain))
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown stops accepting requests and waits for pending deliveries until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)

	drained := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown with deliveries still pending")
		return ctx.Err()
	}
	return err
}
