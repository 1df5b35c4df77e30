// Package web serves live localization results over HTTP and WebSocket.
package web

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-soundloc/pkg/hub"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/protocol"
)

// DefaultHistory is how many recent estimates the server keeps for late joiners.
const DefaultHistory = 2000

// Server streams a session's estimates to dashboards
type Server struct {
	app     *fiber.App
	addr    string
	logger  *slog.Logger
	history int

	session   protocol.SessionData
	estimates []protocol.EstimateData
	mu        sync.RWMutex

	// Hub for websocket broadcast
	estimateHub *hub.Hub
	hubOnce     sync.Once

	// onStop is called when a client asks to stop the running session
	onStop func()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory sets how many estimates are kept for replay. Zero keeps none.
func WithHistory(n int) Option {
	return func(s *Server) {
		s.history = max(n, 0)
	}
}

// NewServer creates a server that will listen on addr (for example ":8080").
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logger:  slog.Default(),
		history: DefaultHistory,
		session: protocol.SessionData{State: localize.Idle.String()},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.estimateHub = hub.New("estimates", hub.WithLogger(s.logger))

	app := fiber.New(fiber.Config{
		AppName:               "soundloc",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Post("/session/stop", s.handleStop)
	api.Get("/estimates", s.handleEstimates)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/estimates", websocket.New(s.handleEstimatesWS))

	s.app = app
	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) startHub() {
	s.hubOnce.Do(func() { go s.estimateHub.Run() })
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("live view listening", "addr", s.addr)
	s.startHub()
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener and blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("live view listening", "addr", ln.Addr().String())
	s.startHub()
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown closes websocket clients and stops the server.
func (s *Server) Shutdown() error {
	s.estimateHub.Close()
	if err := s.app.Shutdown(); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	return nil
}

// BeginSession resets the snapshot for a new session and announces it.
func (s *Server) BeginSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = protocol.SessionData{ID: id, State: localize.Streaming.String()}
	s.estimates = s.estimates[:0]
	s.broadcast(protocol.NewSessionMessage(s.session))
}

// PublishEstimate records an estimate and pushes it to connected clients.
// Updates are enqueued under mu so a joining client either sees them in its
// snapshot or receives them live.
func (s *Server) PublishEstimate(e localize.PositionEstimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := protocol.Estimate(s.session.ID, e)
	if s.history > 0 {
		s.estimates = append(s.estimates, data)
		if over := len(s.estimates) - s.history; over > 0 {
			s.estimates = append(s.estimates[:0], s.estimates[over:]...)
		}
	}
	s.broadcast(protocol.NewMessage(protocol.TypeEstimate, data))
}

// PublishFrame updates the session counts and pushes the frame outcome.
func (s *Server) PublishFrame(r localize.FrameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Count(r.Status)
	s.broadcast(protocol.NewFrameMessage(s.session.ID, r))
}

// EndSession publishes the final report.
func (s *Server) EndSession(r *localize.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = protocol.Session(r)
	s.broadcast(protocol.NewSessionMessage(s.session))
}

// SetOnStop sets the callback behind POST /api/session/stop.
func (s *Server) SetOnStop(fn func()) {
	s.mu.Lock()
	s.onStop = fn
	s.mu.Unlock()
}

// Session returns the current session snapshot.
func (s *Server) Session() protocol.SessionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// broadcast enqueues msg without blocking. Callers hold mu.
func (s *Server) broadcast(msg *protocol.Message, err error) {
	if err == nil {
		err = s.estimateHub.BroadcastJSON(msg)
	}
	if err != nil {
		s.logger.Warn("encode message", "error", err)
	}
}

// snapshot returns the messages a new websocket client receives before live
// updates. Callers hold mu.
func (s *Server) snapshot() []hub.Message {
	out := make([]hub.Message, 0, len(s.estimates)+1)
	add := func(msg *protocol.Message, err error) {
		if err != nil {
			return
		}
		if b, err := msg.Bytes(); err == nil {
			out = append(out, hub.NewJSONMessage(b))
		}
	}
	add(protocol.NewSessionMessage(s.session))
	for _, e := range s.estimates {
		add(protocol.NewMessage(protocol.TypeEstimate, e))
	}
	return out
}
