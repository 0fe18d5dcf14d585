package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/agent"
	"github.com/openpane/termhost/internal/api/middleware"
	"github.com/openpane/termhost/internal/config"
	"github.com/openpane/termhost/internal/coordinator"
	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/monitoring"
	"github.com/openpane/termhost/internal/persist"
	"github.com/openpane/termhost/internal/state"
	"github.com/openpane/termhost/internal/terminal"
	"github.com/openpane/termhost/internal/watchdog"
	"github.com/openpane/termhost/internal/ws"
)

// Server owns every component of the host and the HTTP listener.
type Server struct {
	cfg *config.Config
	log *logging.Logger

	terminals *terminal.Manager
	states    *state.Manager
	detector  *agent.Detector
	coord     *coordinator.Coordinator
	store     *persist.Store
	metrics   *monitoring.Metrics
	wsHandler *ws.Handler

	engine  *gin.Engine
	http    *http.Server
	limiter *middleware.RateLimiter
	sub     *terminal.Subscription
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	return NewWithSpawner(cfg, log, terminal.NewPTYSpawner())
}

// NewWithSpawner builds a server around the given process spawner.
// Tests inject a fake here.
func NewWithSpawner(cfg *config.Config, log *logging.Logger, spawner terminal.Spawner) (*Server, error) {
	if log == nil {
		log = logging.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	terminals := terminal.NewManager(terminal.Options{
		MaxSessions:  cfg.Terminal.MaxSessions,
		DestroyGrace: cfg.Terminal.DestroyGrace,
		Shell:        cfg.Terminal.Shell,
		DefaultCols:  cfg.Terminal.DefaultCols,
		DefaultRows:  cfg.Terminal.DefaultRows,
	}, spawner, log.Named("terminal"))

	states := state.NewManager(cfg.Terminal.MaxSessions, log.Named("state"))
	detector := agent.NewDetector(agent.Thresholds{
		Exact:   cfg.Detector.ExactConfidence,
		Context: cfg.Detector.ContextConfidence,
	}, cfg.Detector.MinActivityLength, log.Named("agent"))
	store := persist.NewStore(cfg.Persist.Dir, cfg.Persist.Enabled, terminals.List, log.Named("persist"))

	wsHandler := ws.NewHandler(terminals, states, detector, metrics, log.Named("ws"))
	coord := coordinator.New(coordinator.Config{
		Transport:     wsHandler,
		Persister:     store,
		Source:        terminals,
		OutputAllowed: wsHandler.OutputAllowed,
		Watchdog: watchdog.Options{
			InitialDelay:  cfg.Watchdog.InitialDelay,
			MaxAttempts:   cfg.Watchdog.MaxAttempts,
			BackoffFactor: cfg.Watchdog.BackoffFactor,
			DelayCeiling:  cfg.Watchdog.DelayCeiling,
		},
		Logger:  log.Named("coordinator"),
		Metrics: metrics,
	})
	wsHandler.AttachCoordinator(coord)
	coord.Bind()
	states.SetOnChange(coord.RelaySnapshot)

	s := &Server{
		cfg:       cfg,
		log:       log,
		terminals: terminals,
		states:    states,
		detector:  detector,
		coord:     coord,
		store:     store,
		metrics:   metrics,
		wsHandler: wsHandler,
	}
	s.sub = terminals.Subscribe(s.observeEvent)

	if snap, err := store.RestoreSessions(); err != nil {
		log.Warn("session snapshot restore failed", zap.Error(err))
	} else if len(snap.Sessions) > 0 {
		log.Info("previous session snapshot found",
			zap.Int("sessions", len(snap.Sessions)),
			zap.Time("saved_at", snap.SavedAt))
	}

	s.engine = s.buildRouter(registry)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildRouter(registry *prometheus.Registry) *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(monitoring.Middleware(s.metrics))
	if s.cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(s.cfg.RateLimit)
		r.Use(s.limiter.Middleware())
	}

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.GET("/state", s.handleState)
	r.GET("/sessions", s.handleListSessions)
	r.POST("/sessions", s.handleCreateSession)
	r.GET("/sessions/:id", s.handleGetSession)
	r.DELETE("/sessions/:id", s.handleDestroySession)
	r.POST("/sessions/:id/activate", s.handleActivateSession)
	r.POST("/sessions/:id/resize", s.handleResizeSession)
	r.GET("/sessions/:id/agent", s.handleAgentRecord)

	r.GET("/ws", s.wsHandler.HandleConnection)
	return r
}

// observeEvent keeps the state snapshot, agent records, and metrics in
// step with the session lifecycle.
func (s *Server) observeEvent(ev terminal.Event) {
	switch ev.Kind {
	case terminal.EventCreated:
		s.metrics.SessionsCreated.Inc()
		s.refreshState()
	case terminal.EventRemoved:
		s.metrics.SessionsDestroyed.Inc()
		s.wsHandler.Forget(ev.SessionID)
		s.refreshState()
	case terminal.EventExited:
		s.metrics.SessionsExited.Inc()
		s.wsHandler.Forget(ev.SessionID)
		s.refreshState()
	case terminal.EventData:
		det := s.detector.ClassifyOutput(ev.SessionID, string(ev.Data))
		if det.IsDetected {
			s.metrics.AgentDetections.WithLabelValues(string(det.Type)).Inc()
		}
	}
}

func (s *Server) refreshState() {
	sessions := s.terminals.List()
	s.metrics.SessionsActive.Set(float64(len(sessions)))
	s.states.Refresh(sessions)
}

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and tears down every component. Live
// sessions are killed through the manager's destroy pipeline.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if serr := s.store.SaveSessions(); serr != nil {
		s.log.Warn("final snapshot save failed", zap.Error(serr))
	}
	if s.sub != nil {
		s.sub.Cancel()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	s.coord.Close()
	s.terminals.Close()
	return err
}
