package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/state"
	"github.com/openpane/termhost/internal/terminal"
)

type createSessionRequest struct {
	Name       string `json:"name"`
	WorkingDir string `json:"workingDirectory"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

type resizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "termhost",
		"status":  "running",
		"uptime":  s.metrics.Uptime().String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	issues := s.states.Health()
	status := http.StatusOK
	healthy := len(issues) == 0
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":  healthy,
		"issues":   issues,
		"sessions": s.terminals.Count(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.states.Snapshot())
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.terminals.List()})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	// Empty body is fine, a malformed one is not.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.states.ValidateCreate(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	info, err := s.terminals.Create(terminal.CreateOptions{
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		Cols:       req.Cols,
		Rows:       req.Rows,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, err := s.terminals.Get(id.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDestroySession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if err := s.states.ValidateDestroy(sid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := s.terminals.Destroy(c.Request.Context(), sid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": sid})
}

func (s *Server) handleActivateSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	snap, err := s.states.SetActive(sid)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.coord.RelayFocus(sid)
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleResizeSession(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sid := id.SessionID(c.Param("id"))
	if err := s.terminals.Resize(sid, req.Cols, req.Rows); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resized": sid})
}

func (s *Server) handleAgentRecord(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if _, err := s.terminals.Get(sid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.detector.Record(sid))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, terminal.ErrNotFound), errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrResourceExhausted),
		errors.Is(err, terminal.ErrNoSlotAvailable),
		errors.Is(err, state.ErrLimitReached),
		errors.Is(err, state.ErrNoSlotsAvailable):
		return http.StatusConflict
	case errors.Is(err, terminal.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, terminal.ErrUnavailable):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
