package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/peertrade/realtime/internal/api"
	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

// StatusClient is the request/response path to the persistence collaborator.
type StatusClient interface {
	GetEntityStatus(ctx context.Context, entityID string) (api.EntityStatus, error)
	GetEntityStatusFallback(ctx context.Context, entityID string) (api.EntityStatus, error)
}

// Emitter is the outbound side of the Connection Manager.
type Emitter interface {
	Send(msg model.WireMessage) error
	IsConnected() bool
}

// Config holds Presence Tracker configuration.
type Config struct {
	SelfID            string        // Local user's entity id
	CacheTTL          time.Duration // Freshness window for cached records
	HeartbeatInterval time.Duration // Cadence of fire-and-forget heartbeats
	PollInterval      time.Duration // Fallback poll cadence (foreground only)
	FetchTimeout      time.Duration // Deadline for one query path traversal
	RefreshPerSecond  float64       // Rate cap on background refreshes
	RefreshBurst      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		PollInterval:      60 * time.Second,
		FetchTimeout:      15 * time.Second,
		RefreshPerSecond:  1,
		RefreshBurst:      5,
	}
}

// TrackerStats provides counters for the tracker.
type TrackerStats struct {
	Cached     int
	Watched    int
	Fetches    int64
	Fallbacks  int64
	Unknowns   int64
	PushWrites int64
	Heartbeats int64
}

// Tracker arbitrates presence information from push events, polling fallback,
// and a local TTL cache.
type Tracker struct {
	cfg      Config
	client   StatusClient
	conn     Emitter
	registry *events.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pushToken events.Token
	limiter   *rate.Limiter

	mu         sync.Mutex
	cache      map[string]model.PresenceRecord
	watched    map[string]struct{}
	inflight   map[string]struct{}
	foreground bool
	stats      TrackerStats

	now func() time.Time
}

// NewTracker creates a Presence Tracker. Zero-valued durations fall back to
// the defaults.
func NewTracker(cfg Config, client StatusClient, conn Emitter, registry *events.Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.RefreshPerSecond == 0 {
		cfg.RefreshPerSecond = def.RefreshPerSecond
	}
	if cfg.RefreshBurst == 0 {
		cfg.RefreshBurst = def.RefreshBurst
	}

	return &Tracker{
		cfg:        cfg,
		client:     client,
		conn:       conn,
		registry:   registry,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RefreshPerSecond), cfg.RefreshBurst),
		cache:      make(map[string]model.PresenceRecord),
		watched:    make(map[string]struct{}),
		inflight:   make(map[string]struct{}),
		foreground: true,
		now:        time.Now,
	}
}

// Start subscribes to push updates and begins the heartbeat and poll loops.
func (t *Tracker) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.pushToken = t.registry.On(model.TypePresenceUpdate, t.handlePush)

	t.wg.Add(1)
	go t.heartbeatLoop()

	t.wg.Add(1)
	go t.pollLoop()

	t.logger.Info("presence tracker started",
		"cache_ttl", t.cfg.CacheTTL,
		"heartbeat", t.cfg.HeartbeatInterval,
		"poll", t.cfg.PollInterval,
	)
	return nil
}

// Stop shuts the tracker down.
func (t *Tracker) Stop(ctx context.Context) error {
	t.registry.Off(t.pushToken)

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("presence tracker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch registers interest in an entity's presence and primes the cache.
// Watching the same entity twice is a no-op: it creates no additional
// network traffic.
func (t *Tracker) Watch(entityID string) {
	t.mu.Lock()
	if _, ok := t.watched[entityID]; ok {
		t.mu.Unlock()
		return
	}
	t.watched[entityID] = struct{}{}
	rec, cached := t.cache[entityID]
	fresh := cached && rec.Fresh(t.cfg.CacheTTL, t.now())
	t.mu.Unlock()

	if entityID == t.cfg.SelfID || fresh {
		return
	}
	t.refreshAsync(entityID)
}

// Unwatch removes interest in an entity. Unwatching a non-watched entity is
// a no-op.
func (t *Tracker) Unwatch(entityID string) {
	t.mu.Lock()
	delete(t.watched, entityID)
	t.mu.Unlock()
}

// Get resolves the freshest presence record available for an entity.
//
// Resolution order: the local user is always online; a fresh cached record
// returns immediately (with a rate-limited background refresh); otherwise the
// primary endpoint is queried (with bounded retries inside the client), then
// the fallback endpoint, and finally the last cached value or an explicit
// unknown record. Get never returns an error.
func (t *Tracker) Get(ctx context.Context, entityID string) model.PresenceRecord {
	if entityID == t.cfg.SelfID {
		return t.selfRecord()
	}

	t.mu.Lock()
	rec, cached := t.cache[entityID]
	if cached && rec.Fresh(t.cfg.CacheTTL, t.now()) {
		t.mu.Unlock()
		t.refreshAsync(entityID)
		return rec
	}

	// Stale or missing: fetch synchronously unless another fetch for this
	// entity is already in flight (no duplicate traffic).
	if _, busy := t.inflight[entityID]; busy {
		t.mu.Unlock()
		return t.degraded(entityID, rec, cached)
	}
	t.inflight[entityID] = struct{}{}
	t.mu.Unlock()

	fetched, ok := t.fetch(ctx, entityID)

	t.mu.Lock()
	delete(t.inflight, entityID)
	t.mu.Unlock()

	if ok {
		return fetched
	}
	return t.degraded(entityID, rec, cached)
}

// SetForeground informs the tracker of host visibility changes. The poll
// fallback only runs while foreground; a background→foreground transition
// emits an immediate heartbeat.
func (t *Tracker) SetForeground(visible bool) {
	t.mu.Lock()
	wasForeground := t.foreground
	t.foreground = visible
	t.mu.Unlock()

	if visible && !wasForeground {
		t.sendHeartbeat()
	}
}

// Stats returns tracker counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stats
	st.Cached = len(t.cache)
	st.Watched = len(t.watched)
	return st
}

// selfRecord is the invariant answer for the local user.
func (t *Tracker) selfRecord() model.PresenceRecord {
	return model.PresenceRecord{
		EntityID: t.cfg.SelfID,
		IsOnline: true,
		Source:   model.SourceSelf,
		CachedAt: t.now(),
	}
}

// degraded returns the last cached value flagged unknown, or an explicit
// unknown record when nothing was ever cached.
func (t *Tracker) degraded(entityID string, rec model.PresenceRecord, cached bool) model.PresenceRecord {
	t.mu.Lock()
	t.stats.Unknowns++
	t.mu.Unlock()

	if cached {
		rec.Source = model.SourceCache
		rec.Unknown = true
		return rec
	}
	return model.PresenceRecord{
		EntityID: entityID,
		Source:   model.SourceCache,
		CachedAt: t.now(),
		Unknown:  true,
	}
}

// fetch traverses the primary then fallback query paths and writes the cache
// on success.
func (t *Tracker) fetch(ctx context.Context, entityID string) (model.PresenceRecord, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	startedAt := t.now()

	t.mu.Lock()
	t.stats.Fetches++
	t.mu.Unlock()

	status, err := t.client.GetEntityStatus(ctx, entityID)
	source := model.SourceAPIDirect

	if err != nil {
		t.logger.Warn("primary status query failed, falling back",
			"entity", entityID,
			"error", err,
		)

		t.mu.Lock()
		t.stats.Fallbacks++
		t.mu.Unlock()

		status, err = t.client.GetEntityStatusFallback(ctx, entityID)
		source = model.SourceAPIFallback
	}

	if err != nil {
		t.logger.Warn("status query exhausted all paths",
			"entity", entityID,
			"error", err,
		)
		return model.PresenceRecord{}, false
	}

	rec := model.PresenceRecord{
		EntityID: entityID,
		IsOnline: status.IsOnline,
		LastSeen: status.LastSeen,
		Source:   source,
		CachedAt: t.now(),
	}
	t.store(rec, startedAt)
	return rec, true
}

// refreshAsync schedules a non-blocking refresh, deduplicated per entity and
// rate-limited across the tracker.
func (t *Tracker) refreshAsync(entityID string) {
	if t.ctx == nil || !t.limiter.Allow() {
		return
	}

	t.mu.Lock()
	if _, busy := t.inflight[entityID]; busy {
		t.mu.Unlock()
		return
	}
	t.inflight[entityID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.fetch(t.ctx, entityID)

		t.mu.Lock()
		delete(t.inflight, entityID)
		t.mu.Unlock()
	}()
}

// store writes a poll-sourced record unless newer push data arrived while the
// query was in flight. Push data always wins over polls.
func (t *Tracker) store(rec model.PresenceRecord, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.cache[rec.EntityID]; ok {
		if existing.Source == model.SourceSocket && existing.CachedAt.After(startedAt) {
			return
		}
	}
	t.cache[rec.EntityID] = rec
}

// handlePush applies an inbound presence_update. Push data is authoritative:
// it overwrites the cache unconditionally, except for the local user, whose
// self record is never replaced by network data.
func (t *Tracker) handlePush(payload json.RawMessage) {
	var update model.PresenceUpdatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		t.logger.Warn("malformed presence update", "error", err)
		return
	}
	if update.EntityID == "" || update.EntityID == t.cfg.SelfID {
		return
	}

	t.mu.Lock()
	t.cache[update.EntityID] = model.PresenceRecord{
		EntityID: update.EntityID,
		IsOnline: update.IsOnline,
		LastSeen: update.LastSeen,
		Source:   model.SourceSocket,
		CachedAt: t.now(),
	}
	t.stats.PushWrites++
	t.mu.Unlock()
}

// heartbeatLoop emits the local user's presence on a fixed cadence.
// Heartbeats are fire-and-forget and never retried.
func (t *Tracker) heartbeatLoop() {
	defer t.wg.Done()

	t.sendHeartbeat()

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sendHeartbeat()
		}
	}
}

func (t *Tracker) sendHeartbeat() {
	if !t.conn.IsConnected() {
		return
	}

	payload, err := json.Marshal(model.HeartbeatPayload{
		EntityID: t.cfg.SelfID,
		SentAt:   t.now().UTC(),
	})
	if err != nil {
		return
	}

	if err := t.conn.Send(model.WireMessage{Type: model.TypeHeartbeat, Payload: payload}); err != nil {
		t.logger.Debug("heartbeat dropped", "error", err)
		return
	}

	t.mu.Lock()
	t.stats.Heartbeats++
	t.mu.Unlock()
}

// pollLoop refreshes watched entities on a slow cadence as a fallback for
// missed pushes. It only runs while the host is foreground-visible.
func (t *Tracker) pollLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.foreground {
				t.mu.Unlock()
				continue
			}
			ids := make([]string, 0, len(t.watched))
			for id := range t.watched {
				if id != t.cfg.SelfID {
					ids = append(ids, id)
				}
			}
			t.mu.Unlock()

			for _, id := range ids {
				t.refreshAsync(id)
			}
		}
	}
}
