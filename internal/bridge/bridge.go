package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

// StateSink receives state-mutation actions. It is the state-store
// collaborator; rendering is out of scope.
type StateSink interface {
	Apply(action model.Action)
}

// StateSinkFunc is a function adapter for StateSink.
type StateSinkFunc func(model.Action)

func (f StateSinkFunc) Apply(a model.Action) { f(a) }

// Emitter is the outbound side of the Connection Manager.
type Emitter interface {
	Send(msg model.WireMessage) error
}

// Config holds State Bridge configuration.
type Config struct {
	RefreshDebounce time.Duration // Quiet period before a counters refresh
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshDebounce: 100 * time.Millisecond,
	}
}

// BridgeStats provides counters for the bridge.
type BridgeStats struct {
	Applied   int64
	Unmapped  int64
	Emitted   int64
	Dropped   int64
	Refreshes int64
}

// inboundActions maps each recognized inbound wire type to its single
// state-mutation action. The mapping is total: anything absent is logged and
// discarded, never raised.
var inboundActions = map[string]model.ActionKind{
	model.TypeListingCreated: model.ActionListingCreated,
	model.TypeListingUpdated: model.ActionListingUpdated,
	model.TypeListingDeleted: model.ActionListingDeleted,
	model.TypeTradeStatus:    model.ActionTradeStatus,
	model.TypeTradePrice:     model.ActionTradePrice,
	model.TypeNotification:   model.ActionNotification,
}

// outboundTypes is the allow-list of local actions mirrored to the server.
var outboundTypes = map[model.LocalActionKind]string{
	model.LocalListingCreated: model.TypeListingCreated,
	model.LocalListingUpdated: model.TypeListingUpdated,
	model.LocalListingDeleted: model.TypeListingDeleted,
	model.LocalTradeStatus:    model.TypeTradeStatus,
	model.LocalTradePrice:     model.TypeTradePrice,
}

// refreshKinds marks actions that should schedule a counters refresh.
var refreshKinds = map[model.ActionKind]struct{}{
	model.ActionListingCreated: {},
	model.ActionListingUpdated: {},
	model.ActionListingDeleted: {},
	model.ActionTradeStatus:    {},
	model.ActionTradePrice:     {},
}

// Bridge maps wire events onto state mutations and local actions onto
// emitted messages.
type Bridge struct {
	cfg      Config
	conn     Emitter
	registry *events.Registry
	sink     StateSink
	logger   *slog.Logger

	msgToken events.Token

	mu           sync.Mutex
	refreshTimer *time.Timer
	stats        BridgeStats
}

// NewBridge creates a State Bridge.
func NewBridge(cfg Config, conn Emitter, registry *events.Registry, sink StateSink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshDebounce == 0 {
		cfg.RefreshDebounce = DefaultConfig().RefreshDebounce
	}

	return &Bridge{
		cfg:      cfg,
		conn:     conn,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

// Start subscribes the bridge to the inbound message stream. The registry
// dispatches synchronously from a single read loop, so actions reach the sink
// in transport receipt order.
func (b *Bridge) Start(ctx context.Context) error {
	b.msgToken = b.registry.On(model.EventMessage, b.handleMessage)
	b.logger.Info("state bridge started", "debounce", b.cfg.RefreshDebounce)
	return nil
}

// Stop detaches the bridge and cancels any pending refresh.
func (b *Bridge) Stop(ctx context.Context) error {
	b.registry.Off(b.msgToken)

	b.mu.Lock()
	if b.refreshTimer != nil {
		b.refreshTimer.Stop()
		b.refreshTimer = nil
	}
	b.mu.Unlock()

	b.logger.Info("state bridge stopped")
	return nil
}

// Notify mirrors an outbound local action to the server. Actions outside the
// allow-list are logged and dropped. Send failures are soft: the message is
// lost, not raised.
func (b *Bridge) Notify(action model.LocalAction) {
	wireType, ok := outboundTypes[action.Kind]
	if !ok {
		b.logger.Warn("local action outside allow-list, dropping", "kind", action.Kind)
		b.mu.Lock()
		b.stats.Dropped++
		b.mu.Unlock()
		return
	}

	err := b.conn.Send(model.WireMessage{
		Type:    wireType,
		Payload: action.Payload,
	})
	if err != nil {
		b.logger.Warn("outbound notify dropped", "type", wireType, "error", err)
		b.mu.Lock()
		b.stats.Dropped++
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.stats.Emitted++
	b.mu.Unlock()
}

// Stats returns bridge counters.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// handleMessage applies one inbound envelope to the state sink.
func (b *Bridge) handleMessage(raw json.RawMessage) {
	var envelope model.WireMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		b.logger.Warn("malformed envelope", "error", err)
		return
	}

	// Presence and heartbeats are owned by the Presence Tracker.
	if envelope.Type == model.TypePresenceUpdate || envelope.Type == model.TypeHeartbeat {
		return
	}

	kind, ok := inboundActions[envelope.Type]
	if !ok {
		b.logger.Warn("no mapping for inbound event, dropping", "type", envelope.Type)
		b.mu.Lock()
		b.stats.Unmapped++
		b.mu.Unlock()
		return
	}

	b.sink.Apply(model.Action{
		Kind:    kind,
		Payload: envelope.Payload,
	})

	b.mu.Lock()
	b.stats.Applied++
	b.mu.Unlock()

	if _, refresh := refreshKinds[kind]; refresh {
		b.scheduleRefresh()
	}
}

// scheduleRefresh arms the debounced counters-refresh signal. A pending timer
// is cancelled before the new one is armed, so a burst of related events
// yields a single refresh after the quiet period.
func (b *Bridge) scheduleRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refreshTimer != nil {
		b.refreshTimer.Stop()
	}
	b.refreshTimer = time.AfterFunc(b.cfg.RefreshDebounce, b.fireRefresh)
}

func (b *Bridge) fireRefresh() {
	b.mu.Lock()
	b.refreshTimer = nil
	b.stats.Refreshes++
	b.mu.Unlock()

	b.sink.Apply(model.Action{Kind: model.ActionRefreshCounters})
}
