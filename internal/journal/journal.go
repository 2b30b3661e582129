package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/model"
)

// Config holds journal writer configuration.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
		BufferSize:    5000,
	}
}

// WriterStats tracks journal throughput.
type WriterStats struct {
	Appended int64
	Written  int64
	Dropped  int64
	Errors   int64
}

type eventRow struct {
	ReceivedAt time.Time
	EventType  string
	Payload    []byte
}

// Writer batches inbound envelopes into the realtime_events table.
type Writer struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	registry *events.Registry
	msgToken events.Token

	input chan eventRow

	batchMu sync.Mutex
	batch   []eventRow
	stats   WriterStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushTicker *time.Ticker
}

// NewWriter creates a journal writer. Zero-valued config fields fall back to
// the defaults.
func NewWriter(cfg Config, db *pgxpool.Pool, registry *events.Registry, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &Writer{
		cfg:      cfg,
		db:       db,
		registry: registry,
		logger:   logger,
		input:    make(chan eventRow, cfg.BufferSize),
		batch:    make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to the inbound stream and begins batching.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.msgToken = w.registry.On(model.EventMessage, w.append)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("event journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop detaches from the stream, drains, and flushes the final batch.
func (w *Writer) Stop(ctx context.Context) error {
	w.registry.Off(w.msgToken)

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("event journal stopped")
	case <-ctx.Done():
		w.logger.Warn("event journal stop timed out")
	}

	w.flush()
	return nil
}

// Stats returns journal counters.
func (w *Writer) Stats() WriterStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// append is the registry handler. It must never block dispatch: a full
// buffer drops the row.
func (w *Writer) append(raw json.RawMessage) {
	var envelope model.WireMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	row := eventRow{
		ReceivedAt: time.Now().UTC(),
		EventType:  envelope.Type,
		Payload:    append([]byte(nil), raw...),
	}

	select {
	case w.input <- row:
		w.batchMu.Lock()
		w.stats.Appended++
		w.batchMu.Unlock()
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
	}
}

// consumeLoop accumulates rows into batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case row := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			full := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if full {
				w.flush()
			}
		}
	}
}

// flushLoop periodically flushes partial batches.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// flush writes the current batch with a single CopyFrom.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows := make([][]interface{}, len(batch))
	for i, r := range batch {
		rows[i] = []interface{}{r.ReceivedAt, r.EventType, r.Payload}
	}

	n, err := w.db.CopyFrom(ctx,
		pgx.Identifier{"realtime_events"},
		[]string{"received_at", "event_type", "payload"},
		pgx.CopyFromRows(rows),
	)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if err != nil {
		w.stats.Errors++
		w.logger.Warn("journal flush failed", "rows", len(batch), "error", err)
		return
	}
	w.stats.Written += n
}
