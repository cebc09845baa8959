package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches and reports a configurable outcome per row.
type fakeDB struct {
	mu       sync.Mutex
	batches  [][]*pgx.QueuedQuery
	conflict map[uuid.UUID]bool
	err      error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{db: f, queries: b.QueuedQueries}
}

func (f *fakeDB) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	db      *fakeDB
	queries []*pgx.QueuedQuery
	next    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	q := r.queries[r.next]
	r.next++
	if id, ok := q.Arguments[0].(uuid.UUID); ok && r.db.conflict[id] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func TestAuditWriter_Transform(t *testing.T) {
	op := uuid.New()
	ev := Event{
		ID:          uuid.New(),
		Time:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)),
		Kind:        KindCopy,
		OperationID: op,
		SourceHash:  "0xsource",
		OrderHash:   "0xderived",
		Status:      "submitted",
		Price:       uint256.MustFromDecimal("55000000000000000000"),
		Stake:       uint256.NewInt(500000),
		Duration:    1500 * time.Microsecond,
	}

	row := transform(ev)

	if row.EventID != ev.ID || row.Kind != "copy" {
		t.Errorf("identity = %s/%s", row.EventID, row.Kind)
	}
	if row.OccurredAt.Location() != time.UTC || !row.OccurredAt.Equal(ev.Time) {
		t.Errorf("OccurredAt = %v, want %v in UTC", row.OccurredAt, ev.Time)
	}
	if row.OperationID == nil || *row.OperationID != op {
		t.Errorf("OperationID = %v, want %s", row.OperationID, op)
	}
	if row.Price == nil || *row.Price != "55000000000000000000" {
		t.Errorf("Price = %v", row.Price)
	}
	if row.Stake == nil || *row.Stake != "500000" {
		t.Errorf("Stake = %v", row.Stake)
	}
	if row.DurationUs != 1500 {
		t.Errorf("DurationUs = %d, want 1500", row.DurationUs)
	}

	bare := transform(Event{ID: uuid.New(), Kind: KindShutdown})
	if bare.OperationID != nil || bare.Price != nil || bare.Stake != nil {
		t.Errorf("optional columns set for bare event: %+v", bare)
	}
}

func TestAuditWriter_FlushesOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewAuditWriter(AuditConfig{BatchSize: 3, FlushInterval: time.Hour}, db, nil)

	for i := 0; i < 7; i++ {
		w.Write(NewEvent(KindCandidate))
	}

	if got := len(db.batches); got != 2 {
		t.Errorf("batches sent = %d, want 2", got)
	}
	if s := w.Stats(); s.Inserts != 6 || s.Pending != 1 || s.Flushes != 2 {
		t.Errorf("Stats() = %+v", s)
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if db.rows() != 7 {
		t.Errorf("rows written = %d, want 7", db.rows())
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Errorf("empty Flush: %v", err)
	}
}

func TestAuditWriter_Conflicts(t *testing.T) {
	dup := NewEvent(KindCopy)
	db := &fakeDB{conflict: map[uuid.UUID]bool{dup.ID: true}}
	w := NewAuditWriter(AuditConfig{BatchSize: 10}, db, nil)

	w.Write(dup)
	w.Write(NewEvent(KindCopy))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if s := w.Stats(); s.Inserts != 1 || s.Conflicts != 1 {
		t.Errorf("Stats() = %+v, want 1 insert and 1 conflict", s)
	}
}

func TestAuditWriter_FailedBatchIsDiscarded(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewAuditWriter(AuditConfig{BatchSize: 10}, db, nil)

	w.Write(NewEvent(KindCopy))
	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("Flush should report the insert error")
	}
	if s := w.Stats(); s.Errors != 1 || s.Pending != 0 {
		t.Errorf("Stats() = %+v, want 1 error and nothing pending", s)
	}
}

func TestAuditWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	w := NewAuditWriter(AuditConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil)
	w.Start(context.Background())

	w.Write(NewEvent(KindExposure))

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rows() != 1 {
		t.Fatalf("rows after interval = %d, want 1", db.rows())
	}

	w.Write(NewEvent(KindShutdown))
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if db.rows() != 2 {
		t.Errorf("rows after Stop = %d, want 2", db.rows())
	}
}
