package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

// Manager owns the single logical connection for a client process. All
// transport failures surface as connection_status events through the Event
// Registry; no operation blocks the caller on network I/O.
type Manager struct {
	cfg      ManagerConfig
	tokens   TokenSource
	registry *events.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	status         Status
	attempt        int
	lastErr        error
	client         Client
	gen            int // bumped on every teardown; stale callbacks are discarded
	reconnectTimer *time.Timer
	suppressUntil  time.Time

	received atomic.Int64
	sent     atomic.Int64

	newClient func(ClientConfig, TokenSource, *slog.Logger) Client
}

// NewManager creates a Connection Manager. tokens may be nil (unauthenticated
// connections are permitted).
func NewManager(cfg ManagerConfig, tokens TokenSource, registry *events.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectGrowth == 0 {
		cfg.ReconnectGrowth = def.ReconnectGrowth
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DisconnectGrace == 0 {
		cfg.DisconnectGrace = def.DisconnectGrace
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Manager{
		cfg:       cfg,
		tokens:    tokens,
		registry:  registry,
		logger:    logger,
		status:    StatusDisconnected,
		newClient: NewClient,
	}
}

// Start begins the manager and initiates the first connection attempt.
// Establishment is asynchronous; observe connection_status events.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.Connect()
	return nil
}

// Stop tears down the connection and waits for goroutines to drain.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.gen++
	cli := m.client
	m.client = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cli != nil {
		cli.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

// Connect opens a fresh transport handle. No-op if a connection is already
// established or in progress. Any stale handle is torn down first.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dial(gen)
}

// Disconnect closes the transport deliberately and suppresses auto-reconnect
// for the configured grace window, avoiding a disconnect/reconnect race.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.suppressUntil = time.Now().Add(m.cfg.DisconnectGrace)
	m.gen++
	cli := m.client
	m.client = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cli != nil {
		cli.Close()
	}

	m.logger.Info("disconnected", "grace", m.cfg.DisconnectGrace)
	m.emitStatus(false, "local disconnect")
}

// Reconnect forces a disconnect followed by a fresh connect, resetting the
// backoff counter. This is the only way out of the Failed state.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.attempt = 0
	m.suppressUntil = time.Time{}
	m.gen++
	cli := m.client
	m.client = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cli != nil {
		cli.Close()
	}

	m.Connect()
}

// Send marshals the message and writes it to the active transport.
func (m *Manager) Send(msg model.WireMessage) error {
	m.mu.Lock()
	cli := m.client
	m.mu.Unlock()

	if cli == nil || !cli.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := cli.Send(data); err != nil {
		return err
	}
	m.sent.Add(1)
	return nil
}

// On registers a handler for a transport-originated event.
func (m *Manager) On(event string, fn events.Handler) events.Token {
	return m.registry.On(event, fn)
}

// Off removes a previously registered handler.
func (m *Manager) Off(tok events.Token) {
	m.registry.Off(tok)
}

// IsConnected reports whether the logical connection is established.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusConnected
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stats returns a snapshot of the manager's state.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	st := ManagerStats{
		Status:  m.status,
		Attempt: m.attempt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	st.Received = m.received.Load()
	st.Sent = m.sent.Load()
	return st
}

// dial establishes the transport asynchronously.
func (m *Manager) dial(gen int) {
	defer m.wg.Done()

	cli := m.newClient(ClientConfig{
		URL:          m.cfg.URL,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.tokens, m.logger)

	err := cli.Connect(m.ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			cli.Close()
		}
		return
	}

	if err != nil {
		m.lastErr = err
		m.mu.Unlock()

		m.logger.Warn("connect failed", "error", err)
		m.emitStatus(false, err.Error())
		m.scheduleReconnect()
		return
	}

	m.client = cli
	m.status = StatusConnected
	m.attempt = 0
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL)
	m.emitStatus(true, "")

	m.wg.Add(1)
	go m.readLoop(cli, gen)
}

// readLoop pumps inbound messages into the Event Registry until the transport
// drops.
func (m *Manager) readLoop(cli Client, gen int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-cli.Errors():
			m.handleDrop(gen, err)
			return

		case msg, ok := <-cli.Messages():
			if !ok {
				return
			}
			m.dispatch(msg)
		}
	}
}

// dispatch parses an inbound envelope and fans it out. The catch-all message
// event always fires; the typed event fires when the envelope names a type.
// Dispatch is sequential: the single read loop preserves receipt order.
func (m *Manager) dispatch(msg TimestampedMessage) {
	m.received.Add(1)

	var envelope model.WireMessage
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		m.logger.Warn("unparseable inbound message", "error", err)
		return
	}

	m.registry.Emit(model.EventMessage, msg.Data)
	if envelope.Type != "" {
		m.registry.Emit(envelope.Type, envelope.Payload)
	}
}

// handleDrop processes a transport failure. Clean closes (local or
// server-initiated) do not trigger auto-reconnect.
func (m *Manager) handleDrop(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.gen++
	m.lastErr = err

	if errors.Is(err, ErrCleanClose) {
		m.status = StatusDisconnected
		m.mu.Unlock()

		m.logger.Info("server closed connection")
		m.emitStatus(false, err.Error())
		return
	}
	m.mu.Unlock()

	m.logger.Warn("connection dropped", "error", err)
	m.emitStatus(false, err.Error())
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt. Any pending
// timer is cancelled before a new one is armed so a reschedule can never
// double-fire. After MaxAttempts the manager parks in Failed until an
// explicit Reconnect.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()

	if m.attempt >= m.cfg.MaxAttempts {
		m.status = StatusFailed
		m.mu.Unlock()

		m.logger.Error("reconnect attempts exhausted", "attempts", m.cfg.MaxAttempts)
		m.emitStatus(false, "reconnect attempts exhausted")
		return
	}

	delay := backoffDelay(m.cfg, m.attempt)
	if until := time.Until(m.suppressUntil); until > delay {
		delay = until
	}
	attempt := m.attempt
	m.attempt++
	m.status = StatusReconnecting

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, m.Connect)
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// backoffDelay computes min(base * growth^attempt, max).
func backoffDelay(cfg ManagerConfig, attempt int) time.Duration {
	d := float64(cfg.ReconnectBase) * math.Pow(cfg.ReconnectGrowth, float64(attempt))
	if capped := float64(cfg.ReconnectMax); d > capped {
		d = capped
	}
	return time.Duration(d)
}

// emitStatus publishes a connection_status event.
func (m *Manager) emitStatus(connected bool, reason string) {
	payload, err := json.Marshal(model.ConnectionStatusPayload{
		Connected: connected,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	m.registry.Emit(model.EventConnectionStatus, payload)
}
