package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-soundloc/pkg/hub"
	"github.com/teslashibe/go-soundloc/pkg/protocol"
)

// handleHealth reports liveness and the connected client count
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"hub_running": s.estimateHub.IsRunning(),
		"clients":     s.estimateHub.ClientCount(),
		"dropped":     s.estimateHub.Dropped(),
	})
}

// handleSession returns the current session snapshot
func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(s.Session())
}

// handleStop asks the running session to stop
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.mu.RLock()
	stop := s.onStop
	s.mu.RUnlock()

	if stop == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "stop not configured",
		})
	}
	stop()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"stopping": true})
}

// handleEstimates returns buffered estimates, optionally only frames after ?since=
func (s *Server) handleEstimates(c *fiber.Ctx) error {
	since := c.QueryInt("since", -1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.EstimateData, 0, len(s.estimates))
	for _, e := range s.estimates {
		if e.Frame > since {
			out = append(out, e)
		}
	}
	return c.JSON(out)
}

// handleEstimatesWS streams the snapshot then live estimate, frame and session messages
func (s *Server) handleEstimatesWS(c *websocket.Conn) {
	// Holding mu until the hub has the client keeps publishes from slipping
	// between the snapshot and registration.
	s.mu.RLock()
	client := hub.NewClient(s.estimateHub, c, s.snapshot()...)
	s.mu.RUnlock()
	if client == nil {
		return
	}
	client.Run()
}
