package writer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/ordersync/internal/database"
	"github.com/rickgao/ordersync/internal/listener"
	"github.com/rickgao/ordersync/internal/model"
)

type fakeCopier struct {
	mu      sync.Mutex
	rows    [][]any
	copies  int
	table   pgx.Identifier
	columns []string
	err     error
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	f.table = table
	f.columns = columns
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return n, err
		}
		f.rows = append(f.rows, v)
		n++
	}
	return n, src.Err()
}

func (f *fakeCopier) snapshot() (rows [][]any, copies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]any(nil), f.rows...), f.copies
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func update(partner string, lat float64) model.LocationUpdate {
	return model.LocationUpdate{
		PartnerID: partner,
		OrderID:   "o1",
		Lat:       lat,
		Lng:       -122.4,
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLocationWriter_Transform(t *testing.T) {
	w := NewLocationWriter(DefaultWriterConfig(), &fakeCopier{}, nil)
	received := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	w.now = func() time.Time { return received }

	row := w.transform(model.LocationUpdate{
		PartnerID: "p1",
		OrderID:   "o1",
		Lat:       37.77,
		Lng:       -122.41,
		Heading:   90,
		Speed:     4.5,
		At:        time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)),
	})

	if row.PartnerID != "p1" || row.OrderID != "o1" {
		t.Errorf("ids = %q/%q", row.PartnerID, row.OrderID)
	}
	if row.Lat != 37.77 || row.Lng != -122.41 || row.Heading != 90 || row.Speed != 4.5 {
		t.Errorf("position = %+v", row)
	}
	if !row.RecordedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) || row.RecordedAt.Location() != time.UTC {
		t.Errorf("RecordedAt = %v, want 12:00 UTC", row.RecordedAt)
	}
	if !row.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, received)
	}
}

func TestLocationWriter_TransformDefaults(t *testing.T) {
	w := NewLocationWriter(DefaultWriterConfig(), &fakeCopier{}, nil)
	received := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	w.now = func() time.Time { return received }

	row := w.transform(model.LocationUpdate{UserID: "u9", Lat: 1, Lng: 2})

	if row.PartnerID != "u9" {
		t.Errorf("PartnerID = %q, want user id fallback", row.PartnerID)
	}
	if !row.RecordedAt.Equal(received) {
		t.Errorf("RecordedAt = %v, want receive time when timestamp missing", row.RecordedAt)
	}
}

func TestLocationWriter_HandleDrops(t *testing.T) {
	w := NewLocationWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, &fakeCopier{}, nil)

	if w.Handle(model.LocationUpdate{PartnerID: "p1", Lat: 91}) {
		t.Error("Handle(invalid latitude) = true")
	}
	if w.Handle(model.LocationUpdate{Lat: 1, Lng: 1}) {
		t.Error("Handle(anonymous) = true")
	}
	w.Handle(update("p1", 1))
	w.Handle(update("p1", 2))
	if w.Handle(update("p1", 3)) {
		t.Error("Handle() on full queue = true")
	}

	s := w.Stats()
	if s.Received != 5 || s.Dropped != 3 || s.Pending != 2 {
		t.Errorf("Stats() = %+v, want received=5 dropped=3 pending=2", s)
	}
}

func TestLocationWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeCopier{}
	w := NewLocationWriter(WriterConfig{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 100}, db, nil)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(ctx)

	for i := 0; i < 7; i++ {
		w.Handle(update("p1", float64(i)))
	}

	waitFor(t, "two full batches", func() bool {
		_, copies := db.snapshot()
		return copies == 2
	})
	rows, _ := db.snapshot()
	if len(rows) != 6 {
		t.Fatalf("wrote %d rows, want 6 before the interval flush", len(rows))
	}
	if rows[0][3] != 0.0 || rows[5][3] != 5.0 {
		t.Errorf("rows out of order: first lat %v, last lat %v", rows[0][3], rows[5][3])
	}
	if got := w.Stats().Pending; got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}

	db.mu.Lock()
	table, columns := db.table, db.columns
	db.mu.Unlock()
	if len(table) != 1 || table[0] != database.LocationsTable {
		t.Errorf("table = %v, want %s", table, database.LocationsTable)
	}
	if len(columns) != len(rows[0]) {
		t.Errorf("%d columns for %d values", len(columns), len(rows[0]))
	}
}

func TestLocationWriter_FlushOnInterval(t *testing.T) {
	db := &fakeCopier{}
	w := NewLocationWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 100}, db, nil)
	ctx := context.Background()
	w.Start(ctx)
	defer w.Stop(ctx)

	w.Handle(update("p1", 1))
	w.Handle(update("p2", 2))

	waitFor(t, "interval flush", func() bool {
		rows, _ := db.snapshot()
		return len(rows) == 2
	})
	if s := w.Stats(); s.Written != 2 || s.Flushes < 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLocationWriter_StopFlushesRemaining(t *testing.T) {
	db := &fakeCopier{}
	w := NewLocationWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, db, nil)
	ctx := context.Background()
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		w.Handle(update("p1", float64(i)))
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	rows, _ := db.snapshot()
	if len(rows) != 5 {
		t.Errorf("wrote %d rows on stop, want 5", len(rows))
	}
	if w.Handle(update("p1", 9)) {
		t.Error("Handle() after Stop = true")
	}
}

func TestLocationWriter_CopyError(t *testing.T) {
	db := &fakeCopier{err: errors.New("connection reset")}
	w := NewLocationWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	ctx := context.Background()
	w.Start(ctx)
	defer w.Stop(ctx)

	w.Handle(update("p1", 1))
	w.Handle(update("p1", 2))

	waitFor(t, "failed flush", func() bool { return w.Stats().Errors == 1 })
	s := w.Stats()
	if s.Written != 0 || s.Dropped != 2 {
		t.Errorf("Stats() = %+v, want the failed batch dropped", s)
	}
}

func TestLocationWriter_Bind(t *testing.T) {
	reg := listener.NewRegistry(slog.Default())
	table := listener.NewTable(slog.Default())
	reg.Attach(table)

	w := NewLocationWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, &fakeCopier{}, nil)
	w.Bind(reg)

	payload, _ := json.Marshal(update("p1", 10))
	table.Dispatch(model.EventLocationUpdated, payload)
	table.Dispatch(model.EventUserLocationUpdated, json.RawMessage(`{"userId":"u1","latitude":1,"longitude":2}`))
	table.Dispatch(model.EventLocationUpdated, json.RawMessage(`not json`))

	if got := w.Stats().Pending; got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	w.Unbind()
	if got := reg.Len(); got != 0 {
		t.Errorf("registry has %d subscriptions after Unbind, want 0", got)
	}
	table.Dispatch(model.EventLocationUpdated, payload)
	if got := w.Stats().Pending; got != 2 {
		t.Errorf("Pending = %d after Unbind, want 2", got)
	}
}
