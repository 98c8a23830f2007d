package writer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/ordersync/internal/database"
	"github.com/rickgao/ordersync/internal/listener"
	"github.com/rickgao/ordersync/internal/metrics"
	"github.com/rickgao/ordersync/internal/model"
)

// Copier is the subset of pgxpool.Pool used for bulk inserts.
type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// WriterStats contains writer counters.
type WriterStats struct {
	Received int64
	Written  int64
	Dropped  int64
	Flushes  int64
	Errors   int64
	Pending  int
}

// LocationWriter batches location updates into the delivery_locations table.
type LocationWriter struct {
	cfg    WriterConfig
	db     Copier
	logger *slog.Logger
	queue  *Queue[locationRow]
	now    func() time.Time

	flushMu sync.Mutex
	stopped atomic.Bool

	statsMu sync.Mutex
	stats   WriterStats

	groupMu sync.Mutex
	group   *listener.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type locationRow struct {
	PartnerID  string
	UserID     string
	OrderID    string
	Lat        float64
	Lng        float64
	Heading    float64
	Speed      float64
	RecordedAt time.Time
	ReceivedAt time.Time
}

// NewLocationWriter creates a writer. Call Start to begin flushing.
func NewLocationWriter(cfg WriterConfig, db Copier, logger *slog.Logger) *LocationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	return &LocationWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "location_writer"),
		queue:  NewQueue[locationRow](cfg.BufferSize),
		now:    time.Now,
	}
}

// Bind subscribes the writer to location broadcasts on sub.
func (w *LocationWriter) Bind(sub listener.Subscriber) {
	w.groupMu.Lock()
	defer w.groupMu.Unlock()
	if w.group != nil {
		w.group.Close()
	}
	g := listener.NewGroup(sub)
	handle := listener.Typed(w.logger, func(u model.LocationUpdate) { w.Handle(u) })
	g.Add(model.EventLocationUpdated, handle)
	g.Add(model.EventUserLocationUpdated, handle)
	w.group = g
}

// Unbind removes the subscriptions made by Bind.
func (w *LocationWriter) Unbind() {
	w.groupMu.Lock()
	defer w.groupMu.Unlock()
	if w.group != nil {
		w.group.Close()
		w.group = nil
	}
}

// Handle queues u for writing. It returns false if u was dropped.
func (w *LocationWriter) Handle(u model.LocationUpdate) bool {
	w.statsMu.Lock()
	w.stats.Received++
	w.statsMu.Unlock()

	if err := u.Validate(); err != nil {
		w.drop("invalid", 1)
		w.logger.Debug("dropping invalid location", "error", err)
		return false
	}
	row := w.transform(u)
	if row.PartnerID == "" {
		w.drop("anonymous", 1)
		return false
	}
	if w.stopped.Load() {
		w.drop("stopped", 1)
		return false
	}
	if !w.queue.Push(row) {
		w.drop("queue_full", 1)
		return false
	}
	return true
}

// transform converts an update to a row. Customer broadcasts carry only a
// user id, which then doubles as the partner key.
func (w *LocationWriter) transform(u model.LocationUpdate) locationRow {
	received := w.now().UTC()
	recorded := u.At.UTC()
	if u.At.IsZero() {
		recorded = received
	}
	partner := u.PartnerID
	if partner == "" {
		partner = u.UserID
	}
	return locationRow{
		PartnerID:  partner,
		UserID:     u.UserID,
		OrderID:    u.OrderID,
		Lat:        u.Lat,
		Lng:        u.Lng,
		Heading:    u.Heading,
		Speed:      u.Speed,
		RecordedAt: recorded,
		ReceivedAt: received,
	}
}

// Start begins the flush loop.
func (w *LocationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("location writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop ends the flush loop and writes whatever is still queued.
func (w *LocationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping location writer")
	w.stopped.Store(true)
	w.Unbind()
	w.queue.Close()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("location writer stop timed out")
	}

	// Final flush
	w.flushAll(ctx)
	w.logger.Info("location writer stopped")
	return nil
}

// Stats returns current counters.
func (w *LocationWriter) Stats() WriterStats {
	w.statsMu.Lock()
	s := w.stats
	w.statsMu.Unlock()
	s.Pending = w.queue.Len()
	return s
}

func (w *LocationWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.queue.Ready():
			for w.queue.Len() >= w.cfg.BatchSize {
				w.flush(w.ctx, w.queue.Drain(w.cfg.BatchSize))
			}
		case <-ticker.C:
			w.flushAll(w.ctx)
		}
	}
}

func (w *LocationWriter) flushAll(ctx context.Context) {
	for {
		rows := w.queue.Drain(w.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}
		w.flush(ctx, rows)
	}
}

// flush writes rows with COPY. Failed batches are dropped, not retried.
func (w *LocationWriter) flush(ctx context.Context, rows []locationRow) {
	if len(rows) == 0 {
		return
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	start := time.Now()
	n, err := w.copyRows(ctx, rows)
	metrics.WriterFlushSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		w.logger.Error("location copy failed", "error", err, "count", len(rows))
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		w.drop("write_error", len(rows))
		return
	}

	metrics.LocationsWritten.Add(float64(n))
	w.statsMu.Lock()
	w.stats.Written += n
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed locations", "count", n, "duration", time.Since(start))
}

func (w *LocationWriter) copyRows(ctx context.Context, rows []locationRow) (int64, error) {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{
			r.PartnerID, r.UserID, r.OrderID, r.Lat, r.Lng,
			r.Heading, r.Speed, r.RecordedAt, r.ReceivedAt,
		}
	}
	return w.db.CopyFrom(ctx,
		pgx.Identifier{database.LocationsTable},
		database.LocationColumns,
		pgx.CopyFromRows(data),
	)
}

func (w *LocationWriter) drop(reason string, n int) {
	metrics.LocationsDropped.WithLabelValues(reason).Add(float64(n))
	w.statsMu.Lock()
	w.stats.Dropped += int64(n)
	w.statsMu.Unlock()
}
