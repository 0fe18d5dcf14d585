package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/agent"
	"github.com/openpane/termhost/internal/coordinator"
	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/monitoring"
	"github.com/openpane/termhost/internal/protocol"
	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/state"
	"github.com/openpane/termhost/internal/terminal"
)

// ErrNoConsumer is returned by SendMessage when no consumer is connected.
var ErrNoConsumer = errors.New("no consumer connected")

const destroyTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local presentation layer only
	},
}

// Handler owns the single consumer connection and dispatches its
// requests against the session managers. It implements
// coordinator.Transport so lifecycle events flow back over the same
// socket.
type Handler struct {
	log       *logging.Logger
	terminals *terminal.Manager
	states    *state.Manager
	detector  *agent.Detector
	metrics   *monitoring.Metrics
	coord     *coordinator.Coordinator

	mu     sync.Mutex
	conn   *websocket.Conn
	connID id.ConsumerID
	ready  map[id.SessionID]bool
	byName map[string]id.SessionID
}

// NewHandler creates a WebSocket handler. AttachCoordinator must be
// called before serving connections.
func NewHandler(terminals *terminal.Manager, states *state.Manager, detector *agent.Detector, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		log:       log,
		terminals: terminals,
		states:    states,
		detector:  detector,
		metrics:   metrics,
		ready:     make(map[id.SessionID]bool),
		byName:    make(map[string]id.SessionID),
	}
}

// AttachCoordinator wires the event coordinator. Separate from the
// constructor because the coordinator needs this handler as its
// transport.
func (h *Handler) AttachCoordinator(c *coordinator.Coordinator) {
	h.coord = c
}

// SendMessage implements coordinator.Transport.
func (h *Handler) SendMessage(msg protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return ErrNoConsumer
	}
	h.countMessage("out", msg.Command)
	return h.conn.WriteJSON(msg)
}

// OutputAllowed reports whether the consumer has acknowledged the
// session. Wire this as the coordinator's output gate.
func (h *Handler) OutputAllowed(sid id.SessionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready[sid]
}

// Forget drops per-session consumer bookkeeping. Called when a session
// leaves the live set.
func (h *Handler) Forget(sid id.SessionID) {
	h.mu.Lock()
	delete(h.ready, sid)
	for name, mapped := range h.byName {
		if mapped == sid {
			delete(h.byName, name)
		}
	}
	h.mu.Unlock()
	if h.detector != nil {
		h.detector.Forget(sid)
	}
}

// HandleConnection upgrades the request and serves the consumer until
// it disconnects. A new connection replaces any existing one.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	connID := id.NewConsumerID()

	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.connID = connID
	h.ready = make(map[id.SessionID]bool)
	h.byName = make(map[string]id.SessionID)
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.log.Info("consumer connected", zap.String("conn_id", connID.String()))

	// New consumer, fresh id space: rebuild the pipeline and
	// re-announce state so the view can be reconstructed.
	h.coord.ClearMappings()
	h.coord.Bind()
	h.coord.RelaySnapshot(h.states.Refresh(h.terminals.List()))

	for {
		var req protocol.Request
		if err := conn.ReadJSON(&req); err != nil {
			break
		}
		h.countMessage("in", req.Command)
		h.dispatch(req)
	}

	h.mu.Lock()
	if h.connID == connID {
		h.conn = nil
		h.connID = ""
	}
	h.mu.Unlock()
	conn.Close()
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.log.Info("consumer disconnected", zap.String("conn_id", connID.String()))
}

func (h *Handler) dispatch(req protocol.Request) {
	switch req.Command {
	case protocol.CommandCreateSession:
		h.handleCreate(req)
	case protocol.CommandWrite:
		h.handleWrite(req)
	case protocol.CommandResize:
		h.handleResize(req)
	case protocol.CommandDestroySession:
		h.handleDestroy(req)
	case protocol.CommandSetActive, protocol.CommandFocus:
		h.handleSetActive(req)
	case protocol.CommandReady:
		h.handleReady(req)
	case protocol.CommandPing:
		h.reply(protocol.Message{Command: protocol.CommandPong})
	default:
		h.sendError(req.SessionID, "unknown command: "+req.Command)
	}
}

func (h *Handler) handleCreate(req protocol.Request) {
	if err := h.states.ValidateCreate(); err != nil {
		h.sendError(req.ConsumerID, err.Error())
		return
	}
	if req.ConsumerID != "" {
		h.coord.ExpectConsumerID(req.ConsumerID)
	}
	info, err := h.terminals.Create(terminal.CreateOptions{
		Name:       req.Name,
		WorkingDir: req.WorkingDir,
		Cols:       req.Cols,
		Rows:       req.Rows,
	})
	if err != nil {
		// The staged id was never claimed; drop it so an unrelated
		// later creation is not announced under this consumer's id.
		if req.ConsumerID != "" {
			h.coord.ExpectConsumerID("")
		}
		h.sendError(req.ConsumerID, err.Error())
		return
	}
	if req.ConsumerID != "" {
		h.mu.Lock()
		h.byName[req.ConsumerID] = info.ID
		h.mu.Unlock()
	}
}

func (h *Handler) handleWrite(req protocol.Request) {
	sid, ok := h.resolve(req.SessionID)
	if !ok {
		h.sendError(req.SessionID, "unknown session")
		return
	}
	if h.detector != nil {
		det := h.detector.ClassifyInput(sid, req.Data)
		if det.IsDetected && h.metrics != nil {
			h.metrics.AgentDetections.WithLabelValues(string(det.Type)).Inc()
		}
	}
	if err := h.terminals.Write(sid, []byte(req.Data)); err != nil {
		h.sendError(req.SessionID, err.Error())
	}
}

func (h *Handler) handleResize(req protocol.Request) {
	sid, ok := h.resolve(req.SessionID)
	if !ok {
		h.sendError(req.SessionID, "unknown session")
		return
	}
	if err := h.terminals.Resize(sid, req.Cols, req.Rows); err != nil {
		h.sendError(req.SessionID, err.Error())
	}
}

func (h *Handler) handleDestroy(req protocol.Request) {
	sid, ok := h.resolve(req.SessionID)
	if !ok {
		h.sendError(req.SessionID, "unknown session")
		return
	}
	if err := h.states.ValidateDestroy(sid); err != nil {
		h.sendError(req.SessionID, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := h.terminals.Destroy(ctx, sid); err != nil {
		// Duplicate destroy requests are an expected race; the first
		// one wins and the removal notice follows on its own.
		if errors.Is(err, terminal.ErrAlreadyInProgress) {
			h.log.Debug("destroy already in progress", zap.String("session_id", sid.String()))
			return
		}
		h.sendError(req.SessionID, err.Error())
	}
}

func (h *Handler) handleSetActive(req protocol.Request) {
	sid, ok := h.resolve(req.SessionID)
	if !ok {
		h.sendError(req.SessionID, "unknown session")
		return
	}
	if _, err := h.states.SetActive(sid); err != nil {
		h.sendError(req.SessionID, err.Error())
		return
	}
	h.coord.RelayFocus(sid)
}

// handleReady records the consumer-side handshake: the session's view is
// mounted, buffered output may flow. A ready carrying a consumer id also
// retargets the session, which is how a reconnected consumer re-adopts
// sessions it learns about from the state announcement.
func (h *Handler) handleReady(req protocol.Request) {
	sid, ok := h.resolve(req.SessionID)
	if !ok {
		h.sendError(req.SessionID, "unknown session")
		return
	}
	h.mu.Lock()
	h.ready[sid] = true
	if req.ConsumerID != "" {
		h.byName[req.ConsumerID] = sid
	}
	h.mu.Unlock()
	if req.ConsumerID != "" {
		h.coord.SetConsumerID(sid, req.ConsumerID)
	}
	h.coord.Acknowledge(sid)
}

// resolve maps a consumer-facing id to the native session id. Consumer
// ids registered at creation take precedence; anything else is treated
// as a native id and checked against the live set.
func (h *Handler) resolve(ref string) (id.SessionID, bool) {
	if ref == "" {
		return "", false
	}
	h.mu.Lock()
	sid, ok := h.byName[ref]
	h.mu.Unlock()
	if ok {
		return sid, true
	}
	sid = id.SessionID(ref)
	if _, err := h.terminals.Get(sid); err != nil {
		return "", false
	}
	return sid, true
}

func (h *Handler) reply(msg protocol.Message) {
	if err := h.SendMessage(msg); err != nil && !errors.Is(err, ErrNoConsumer) {
		h.log.Warn("reply failed", zap.String("command", msg.Command), zap.Error(err))
	}
}

func (h *Handler) sendError(sessionID, msg string) {
	h.reply(protocol.Message{
		Command:   protocol.CommandError,
		SessionID: sessionID,
		Error:     msg,
	})
}

func (h *Handler) countMessage(direction, command string) {
	if h.metrics != nil {
		h.metrics.WSMessages.WithLabelValues(direction, command).Inc()
	}
}
