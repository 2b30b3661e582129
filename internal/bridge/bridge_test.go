package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	actions []model.Action
}

func (s *recordingSink) Apply(a model.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

func (s *recordingSink) kinds() []model.ActionKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ActionKind, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.Kind
	}
	return out
}

func (s *recordingSink) count(kind model.ActionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type sendRecorder struct {
	mu   sync.Mutex
	err  error
	sent []model.WireMessage
}

func (r *sendRecorder) Send(msg model.WireMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *sendRecorder) messages() []model.WireMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WireMessage(nil), r.sent...)
}

func newTestBridge(t *testing.T, conn *sendRecorder, sink StateSink) (*Bridge, *events.Registry) {
	t.Helper()

	registry := events.NewRegistry(nil)
	b := NewBridge(Config{RefreshDebounce: 10 * time.Millisecond}, conn, registry, sink, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { b.Stop(context.Background()) })

	return b, registry
}

func emitWire(registry *events.Registry, wireType string, payload any) {
	body, _ := json.Marshal(payload)
	raw, _ := json.Marshal(model.WireMessage{Type: wireType, Payload: body})
	registry.Emit(model.EventMessage, raw)
}

func TestBridge_MapsInboundToActions(t *testing.T) {
	sink := &recordingSink{}
	b, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, model.TypeListingCreated, map[string]string{"listing_id": "l-1"})
	emitWire(registry, model.TypeTradeStatus, map[string]string{"status": "accepted"})
	emitWire(registry, model.TypeNotification, map[string]string{"text": "hi"})

	want := []model.ActionKind{
		model.ActionListingCreated,
		model.ActionTradeStatus,
		model.ActionNotification,
	}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("applied %d actions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if st := b.Stats(); st.Applied != 3 {
		t.Errorf("Applied = %d, want 3", st.Applied)
	}
}

func TestBridge_PayloadPassedThrough(t *testing.T) {
	sink := &recordingSink{}
	_, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, model.TypeListingUpdated, map[string]string{"listing_id": "l-9"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.actions) != 1 {
		t.Fatalf("applied %d actions, want 1", len(sink.actions))
	}
	var decoded map[string]string
	if err := json.Unmarshal(sink.actions[0].Payload, &decoded); err != nil {
		t.Fatalf("payload did not round-trip: %v", err)
	}
	if decoded["listing_id"] != "l-9" {
		t.Errorf("listing_id = %q, want l-9", decoded["listing_id"])
	}
}

func TestBridge_UnmappedEventDropped(t *testing.T) {
	sink := &recordingSink{}
	b, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, "server_gossip", map[string]string{"x": "y"})

	if n := len(sink.kinds()); n != 0 {
		t.Errorf("applied %d actions for unmapped event, want 0", n)
	}
	if st := b.Stats(); st.Unmapped != 1 {
		t.Errorf("Unmapped = %d, want 1", st.Unmapped)
	}
}

func TestBridge_PresenceAndHeartbeatIgnored(t *testing.T) {
	sink := &recordingSink{}
	b, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, model.TypePresenceUpdate, map[string]bool{"is_online": true})
	emitWire(registry, model.TypeHeartbeat, map[string]string{"entity_id": "u"})

	if n := len(sink.kinds()); n != 0 {
		t.Errorf("applied %d actions, want 0", n)
	}
	// Neither counts as unmapped: they belong to another consumer.
	if st := b.Stats(); st.Unmapped != 0 {
		t.Errorf("Unmapped = %d, want 0", st.Unmapped)
	}
}

func TestBridge_RefreshDebounced(t *testing.T) {
	sink := &recordingSink{}
	_, registry := newTestBridge(t, &sendRecorder{}, sink)

	// A burst of refresh-worthy events inside the quiet period.
	for i := 0; i < 5; i++ {
		emitWire(registry, model.TypeListingCreated, map[string]int{"n": i})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count(model.ActionRefreshCounters) >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)

	if got := sink.count(model.ActionRefreshCounters); got != 1 {
		t.Errorf("refreshes = %d, want exactly 1 for a burst", got)
	}
}

func TestBridge_NotificationDoesNotRefresh(t *testing.T) {
	sink := &recordingSink{}
	_, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, model.TypeNotification, map[string]string{"text": "hi"})

	time.Sleep(40 * time.Millisecond)

	if got := sink.count(model.ActionRefreshCounters); got != 0 {
		t.Errorf("refreshes = %d, want 0 for notifications", got)
	}
}

func TestBridge_NotifyAllowList(t *testing.T) {
	conn := &sendRecorder{}
	sink := &recordingSink{}
	b, _ := newTestBridge(t, conn, sink)

	payload, _ := json.Marshal(map[string]string{"listing_id": "l-2"})
	b.Notify(model.LocalAction{Kind: model.LocalListingCreated, Payload: payload})

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].Type != model.TypeListingCreated {
		t.Errorf("wire type = %q, want %q", msgs[0].Type, model.TypeListingCreated)
	}

	// Outside the allow-list: dropped, never sent.
	b.Notify(model.LocalAction{Kind: model.LocalActionKind("ui/theme_changed")})

	if len(conn.messages()) != 1 {
		t.Error("disallowed action reached the wire")
	}
	st := b.Stats()
	if st.Emitted != 1 || st.Dropped != 1 {
		t.Errorf("Emitted = %d Dropped = %d, want 1/1", st.Emitted, st.Dropped)
	}
}

func TestBridge_NotifySendFailureIsSoft(t *testing.T) {
	conn := &sendRecorder{err: errors.New("socket closed")}
	b, _ := newTestBridge(t, conn, &recordingSink{})

	// Must not panic or propagate.
	b.Notify(model.LocalAction{Kind: model.LocalTradeStatus})

	if st := b.Stats(); st.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", st.Dropped)
	}
}

func TestBridge_MalformedEnvelopeSkipped(t *testing.T) {
	sink := &recordingSink{}
	b, registry := newTestBridge(t, &sendRecorder{}, sink)

	registry.Emit(model.EventMessage, json.RawMessage(`{not json`))

	if n := len(sink.kinds()); n != 0 {
		t.Errorf("applied %d actions from garbage, want 0", n)
	}
	if st := b.Stats(); st.Applied != 0 {
		t.Errorf("Applied = %d, want 0", st.Applied)
	}
}

func TestBridge_StopCancelsPendingRefresh(t *testing.T) {
	sink := &recordingSink{}
	b, registry := newTestBridge(t, &sendRecorder{}, sink)

	emitWire(registry, model.TypeListingDeleted, map[string]string{"listing_id": "l-3"})
	b.Stop(context.Background())

	time.Sleep(40 * time.Millisecond)

	if got := sink.count(model.ActionRefreshCounters); got != 0 {
		t.Errorf("refreshes after stop = %d, want 0", got)
	}
}
