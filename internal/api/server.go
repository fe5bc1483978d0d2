package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/eblock12/HomeNet/internal/audit"
	"github.com/eblock12/HomeNet/internal/auth"
	"github.com/eblock12/HomeNet/internal/bridges/zwave"
	"github.com/eblock12/HomeNet/internal/device"
	"github.com/eblock12/HomeNet/internal/infrastructure/config"
	"github.com/eblock12/HomeNet/internal/infrastructure/logging"
	"github.com/eblock12/HomeNet/internal/infrastructure/metrics"
	"github.com/eblock12/HomeNet/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Driver resolves a node number to live values. *zwave.Bridge satisfies it.
type Driver interface {
	ReadValue(node device.NodeID, name string) (any, bool)
	ReadValues(node device.NodeID) (map[string]any, bool)
	WriteValue(ctx context.Context, node device.NodeID, name string, value any) error
	Nodes() []zwave.Node
	Ready() bool
}

// Deps holds the dependencies of the API server. Logger and Store are
// required; everything else is optional.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Store   *device.Store
	Driver  Driver
	MQTT    *mqtt.Client
	Auth    *auth.Authenticator // nil leaves the API open
	Audit   audit.Repository
	Metrics *metrics.Metrics
	Version string
}

// Server is the HTTP API server for HomeNet.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	store   *device.Store
	driver  Driver
	mqtt    *mqtt.Client
	auth    *auth.Authenticator
	metrics *metrics.Metrics
	version string

	hub     *Hub
	tickets *ticketStore

	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	auditWG   sync.WaitGroup

	startTime time.Time
	server    *http.Server
	addr      net.Addr
	cancel    context.CancelFunc
}

// New creates an API server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		store:     deps.Store,
		driver:    deps.Driver,
		mqtt:      deps.MQTT,
		auth:      deps.Auth,
		metrics:   deps.Metrics,
		version:   deps.Version,
		auditRepo: deps.Audit,
		tickets:   newTicketStore(),
		startTime: time.Now(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	s.hub = NewHub(deps.WS, deps.Logger)
	if s.metrics != nil {
		s.hub.SetOnClientCount(s.metrics.SetWebSocketClients)
	}
	return s, nil
}

// Start binds the listener and serves in the background. Binding errors
// (port in use) are returned.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	if s.auditCh != nil {
		s.auditWG.Add(1)
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr()
	s.logger.Info("API server listening", "address", s.addr.String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close stops accepting requests, waits up to 10 seconds for in-flight
// ones, disconnects WebSocket clients and drains pending audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	s.auditWG.Wait()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
