package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

// Emitter is the outbound side of the Connection Manager.
type Emitter interface {
	Send(msg model.WireMessage) error
	IsConnected() bool
}

// Config holds Session/Room Manager configuration.
type Config struct {
	CloseGrace time.Duration // Delay between panel close and room leave
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CloseGrace: 300 * time.Millisecond,
	}
}

// ActivityPanel is the visible state of one watched trade session.
type ActivityPanel struct {
	SessionID uuid.UUID
	Role      string
	IsOpen    bool
	Closing   bool
}

// ManagerStats provides counters for the room manager.
type ManagerStats struct {
	Members  int
	Panels   int
	Joins    int64
	Leaves   int64
	Replays  int64
}

type panelState struct {
	role       string
	closing    bool
	closeTimer *time.Timer
}

// Manager tracks room membership and activity panels.
type Manager struct {
	cfg      Config
	conn     Emitter
	registry *events.Registry
	logger   *slog.Logger

	statusToken events.Token

	mu      sync.Mutex
	members map[string]struct{}
	panels  map[uuid.UUID]*panelState
	stats   ManagerStats
}

// NewManager creates a Session/Room Manager.
func NewManager(cfg Config, conn Emitter, registry *events.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CloseGrace == 0 {
		cfg.CloseGrace = DefaultConfig().CloseGrace
	}

	return &Manager{
		cfg:      cfg,
		conn:     conn,
		registry: registry,
		logger:   logger,
		members:  make(map[string]struct{}),
		panels:   make(map[uuid.UUID]*panelState),
	}
}

// Start subscribes the manager to connection status changes so membership is
// re-asserted after every reconnect.
func (m *Manager) Start(ctx context.Context) error {
	m.statusToken = m.registry.On(model.EventConnectionStatus, m.handleConnectionStatus)
	return nil
}

// Stop detaches the manager and cancels pending panel closes.
func (m *Manager) Stop(ctx context.Context) error {
	m.registry.Off(m.statusToken)

	m.mu.Lock()
	for _, p := range m.panels {
		if p.closeTimer != nil {
			p.closeTimer.Stop()
		}
	}
	m.mu.Unlock()

	return nil
}

// Join adds the client to a scoped channel. Joining a room the client already
// believes it is in is a no-op.
func (m *Manager) Join(roomID string) {
	m.mu.Lock()
	if _, ok := m.members[roomID]; ok {
		m.mu.Unlock()
		return
	}
	m.members[roomID] = struct{}{}
	m.stats.Joins++
	m.mu.Unlock()

	m.sendRoom(model.TypeRoomJoin, roomID)
}

// Leave removes the client from a scoped channel. Leaving a non-member room
// is a no-op.
func (m *Manager) Leave(roomID string) {
	m.mu.Lock()
	if _, ok := m.members[roomID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.members, roomID)
	m.stats.Leaves++
	m.mu.Unlock()

	m.sendRoom(model.TypeRoomLeave, roomID)
}

// Members returns a snapshot of the membership set.
func (m *Manager) Members() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.members))
	for id := range m.members {
		out = append(out, id)
	}
	return out
}

// TradeRoomID derives the scoped channel id for a trade session.
func TradeRoomID(sessionID uuid.UUID) string {
	return "trade:" + sessionID.String()
}

// OpenPanel opens (or re-surfaces) the activity panel for a trade session and
// joins its room. Opening an already-open panel only ensures visibility: a
// pending close is cancelled.
func (m *Manager) OpenPanel(sessionID uuid.UUID, role string) {
	m.mu.Lock()
	if p, ok := m.panels[sessionID]; ok {
		if p.closing {
			if p.closeTimer != nil {
				p.closeTimer.Stop()
			}
			p.closing = false
			p.closeTimer = nil
		}
		m.mu.Unlock()
		return
	}
	m.panels[sessionID] = &panelState{role: role}
	m.mu.Unlock()

	m.Join(TradeRoomID(sessionID))
}

// ClosePanel transitions a panel to its closing state. The panel is removed
// and its room left only after the grace delay, and the leave is issued
// exactly once per close. Closing an unknown or already-closing panel is a
// no-op.
func (m *Manager) ClosePanel(sessionID uuid.UUID) {
	m.mu.Lock()
	p, ok := m.panels[sessionID]
	if !ok || p.closing {
		m.mu.Unlock()
		return
	}
	p.closing = true
	p.closeTimer = time.AfterFunc(m.cfg.CloseGrace, func() {
		m.finishClose(sessionID)
	})
	m.mu.Unlock()
}

// Panels returns a snapshot of the active panels.
func (m *Manager) Panels() []ActivityPanel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActivityPanel, 0, len(m.panels))
	for id, p := range m.panels {
		out = append(out, ActivityPanel{
			SessionID: id,
			Role:      p.role,
			IsOpen:    !p.closing,
			Closing:   p.closing,
		})
	}
	return out
}

// Stats returns room manager counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Members = len(m.members)
	st.Panels = len(m.panels)
	return st
}

// finishClose removes a panel after its grace period, unless it was reopened.
func (m *Manager) finishClose(sessionID uuid.UUID) {
	m.mu.Lock()
	p, ok := m.panels[sessionID]
	if !ok || !p.closing {
		m.mu.Unlock()
		return
	}
	delete(m.panels, sessionID)
	m.mu.Unlock()

	m.Leave(TradeRoomID(sessionID))
}

// handleConnectionStatus replays joins for every current member after a
// successful (re)connection.
func (m *Manager) handleConnectionStatus(payload json.RawMessage) {
	var status model.ConnectionStatusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return
	}
	if !status.Connected {
		return
	}

	members := m.Members()
	for _, roomID := range members {
		m.sendRoom(model.TypeRoomJoin, roomID)
	}

	if len(members) > 0 {
		m.mu.Lock()
		m.stats.Replays++
		m.mu.Unlock()

		m.logger.Info("replayed room joins", "count", len(members))
	}
}

// sendRoom emits a join/leave message. Failures are soft: membership is the
// source of truth and the next reconnect replay will converge the server.
func (m *Manager) sendRoom(wireType, roomID string) {
	payload, err := json.Marshal(model.RoomPayload{RoomID: roomID})
	if err != nil {
		return
	}

	if err := m.conn.Send(model.WireMessage{Type: wireType, Payload: payload}); err != nil {
		m.logger.Debug("room message dropped", "type", wireType, "room", roomID, "error", err)
	}
}
