package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

type wireRecorder struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []model.WireMessage
}

func (w *wireRecorder) Send(msg model.WireMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, msg)
	return nil
}

func (w *wireRecorder) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// rooms returns the room ids of every sent message of the given wire type.
func (w *wireRecorder) rooms(wireType string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for _, msg := range w.sent {
		if msg.Type != wireType {
			continue
		}
		var p model.RoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			out = append(out, p.RoomID)
		}
	}
	return out
}

func newTestRooms(t *testing.T, conn *wireRecorder) (*Manager, *events.Registry) {
	t.Helper()

	registry := events.NewRegistry(nil)
	m := NewManager(Config{CloseGrace: 20 * time.Millisecond}, conn, registry, nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })

	return m, registry
}

func emitConnected(registry *events.Registry, connected bool) {
	payload, _ := json.Marshal(model.ConnectionStatusPayload{Connected: connected})
	registry.Emit(model.EventConnectionStatus, payload)
}

func TestManager_JoinLeaveIdempotent(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	m.Join("listing:42")
	m.Join("listing:42")
	m.Join("listing:42")

	if got := conn.rooms(model.TypeRoomJoin); len(got) != 1 {
		t.Errorf("join messages = %d, want 1", len(got))
	}
	if got := m.Members(); len(got) != 1 || got[0] != "listing:42" {
		t.Errorf("Members = %v, want [listing:42]", got)
	}

	m.Leave("listing:42")
	m.Leave("listing:42")

	if got := conn.rooms(model.TypeRoomLeave); len(got) != 1 {
		t.Errorf("leave messages = %d, want 1", len(got))
	}
	if got := m.Members(); len(got) != 0 {
		t.Errorf("Members = %v, want empty", got)
	}
}

func TestManager_LeaveUnknownRoomIsNoop(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	m.Leave("never-joined")

	if got := conn.rooms(model.TypeRoomLeave); len(got) != 0 {
		t.Errorf("leave messages = %d, want 0", len(got))
	}
}

func TestManager_SendFailureKeepsMembership(t *testing.T) {
	conn := &wireRecorder{connected: false, err: errors.New("socket closed")}
	m, _ := newTestRooms(t, conn)

	m.Join("listing:7")

	// Membership is the source of truth even when the wire is down.
	if got := m.Members(); len(got) != 1 {
		t.Fatalf("Members = %v, want the joined room", got)
	}
}

func TestManager_ReplaysJoinsOnReconnect(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, registry := newTestRooms(t, conn)

	m.Join("listing:1")
	m.Join("listing:2")

	emitConnected(registry, true)

	joins := conn.rooms(model.TypeRoomJoin)
	// 2 originals + 2 replays.
	if len(joins) != 4 {
		t.Fatalf("join messages = %d, want 4: %v", len(joins), joins)
	}

	replayed := map[string]bool{}
	for _, r := range joins[2:] {
		replayed[r] = true
	}
	if !replayed["listing:1"] || !replayed["listing:2"] {
		t.Errorf("replay missing rooms: %v", joins[2:])
	}

	if st := m.Stats(); st.Replays != 1 {
		t.Errorf("Replays = %d, want 1", st.Replays)
	}
}

func TestManager_DisconnectDoesNotReplay(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, registry := newTestRooms(t, conn)

	m.Join("listing:1")
	emitConnected(registry, false)

	if joins := conn.rooms(model.TypeRoomJoin); len(joins) != 1 {
		t.Errorf("join messages = %d, want 1 (no replay on disconnect)", len(joins))
	}
	if st := m.Stats(); st.Replays != 0 {
		t.Errorf("Replays = %d, want 0", st.Replays)
	}
}

func TestManager_TradeRoomID(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	want := "trade:7c9e6679-7425-40de-944b-e07fc1f90ae7"
	if got := TradeRoomID(id); got != want {
		t.Errorf("TradeRoomID = %q, want %q", got, want)
	}
}

func TestManager_OpenPanelJoinsTradeRoom(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	session := uuid.New()
	m.OpenPanel(session, "buyer")

	joins := conn.rooms(model.TypeRoomJoin)
	if len(joins) != 1 || joins[0] != TradeRoomID(session) {
		t.Fatalf("joins = %v, want [%s]", joins, TradeRoomID(session))
	}

	panels := m.Panels()
	if len(panels) != 1 {
		t.Fatalf("panels = %d, want 1", len(panels))
	}
	if panels[0].Role != "buyer" || !panels[0].IsOpen {
		t.Errorf("panel = %+v, want open buyer panel", panels[0])
	}
}

func TestManager_ClosePanelLeavesAfterGrace(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	session := uuid.New()
	m.OpenPanel(session, "seller")
	m.ClosePanel(session)

	// Within the grace period the panel is still present, flagged closing, and
	// no leave has gone out yet.
	panels := m.Panels()
	if len(panels) != 1 || !panels[0].Closing {
		t.Fatalf("panels = %+v, want one closing panel", panels)
	}
	if leaves := conn.rooms(model.TypeRoomLeave); len(leaves) != 0 {
		t.Fatalf("leave before grace expired: %v", leaves)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.Panels()) == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if got := m.Panels(); len(got) != 0 {
		t.Fatalf("panel survived the grace period: %+v", got)
	}
	if leaves := conn.rooms(model.TypeRoomLeave); len(leaves) != 1 {
		t.Errorf("leave messages = %d, want exactly 1", len(leaves))
	}
}

func TestManager_ReopenCancelsPendingClose(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	session := uuid.New()
	m.OpenPanel(session, "buyer")
	m.ClosePanel(session)
	m.OpenPanel(session, "buyer")

	time.Sleep(60 * time.Millisecond)

	panels := m.Panels()
	if len(panels) != 1 || !panels[0].IsOpen {
		t.Fatalf("panels = %+v, want one open panel", panels)
	}
	if leaves := conn.rooms(model.TypeRoomLeave); len(leaves) != 0 {
		t.Errorf("reopened panel left its room: %v", leaves)
	}
}

func TestManager_DoubleCloseLeavesOnce(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	session := uuid.New()
	m.OpenPanel(session, "buyer")
	m.ClosePanel(session)
	m.ClosePanel(session)
	m.ClosePanel(session)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.Panels()) == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)

	if leaves := conn.rooms(model.TypeRoomLeave); len(leaves) != 1 {
		t.Errorf("leave messages = %d, want exactly 1", len(leaves))
	}
}

func TestManager_CloseUnknownPanelIsNoop(t *testing.T) {
	conn := &wireRecorder{connected: true}
	m, _ := newTestRooms(t, conn)

	m.ClosePanel(uuid.New())

	time.Sleep(30 * time.Millisecond)
	if leaves := conn.rooms(model.TypeRoomLeave); len(leaves) != 0 {
		t.Errorf("leave messages = %d, want 0", len(leaves))
	}
}
