package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type snapshot struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

func newTestPipeline(t *testing.T, repo Repository, opts PipelineOptions) *Pipeline {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	}
	p := NewPipeline(repo, opts)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestPipeline_AppendsInRecordOrder(t *testing.T) {
	repo := NewMemoryRepo()
	p := newTestPipeline(t, repo, PipelineOptions{})

	for i := 0; i < 50; i++ {
		p.Record(context.Background(), Entry{
			ActorID:    "admin-1",
			Action:     ActionListingUpdated,
			EntityKind: EntityListing,
			EntityID:   fmt.Sprintf("l-%d", i),
		})
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	recs := repo.Records()
	if len(recs) != 50 {
		t.Fatalf("expected 50 records, got %d", len(recs))
	}
	for i, r := range recs {
		if r.EntityID != fmt.Sprintf("l-%d", i) {
			t.Fatalf("record %d out of order: %s", i, r.EntityID)
		}
		if r.ID != int64(i+1) {
			t.Fatalf("expected monotonic id %d, got %d", i+1, r.ID)
		}
	}
}

func TestPipeline_BuildsSeverityDescriptionAndContext(t *testing.T) {
	repo := NewMemoryRepo()
	p := newTestPipeline(t, repo, PipelineOptions{})

	ctx := WithClientContext(context.Background(), ClientContext{IPAddress: "203.0.113.9", UserAgent: "ua", RequestID: "rid"})
	p.Record(ctx, Entry{
		ActorID:     "admin-1",
		ActorRole:   "admin",
		Action:      ActionListingRejected,
		EntityKind:  EntityListing,
		EntityID:    "l-1",
		Before:      snapshot{Title: "Loft", Status: "approved"},
		After:       &snapshot{Title: "Loft", Status: "rejected"},
		PendingSync: true,
	})
	_ = p.Flush(context.Background())

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Severity != SeverityWarning {
		t.Fatalf("expected warning, got %s", r.Severity)
	}
	if r.Note != NotePendingSync || !r.PendingSync {
		t.Fatalf("expected pending sync tag, got %+v", r)
	}
	if !strings.HasPrefix(r.Description, `Rejected listing "Loft"`) || !strings.Contains(r.Description, "not confirmed") {
		t.Fatalf("unexpected description %q", r.Description)
	}
	if r.Context.IPAddress != "203.0.113.9" || r.Context.RequestID != "rid" {
		t.Fatalf("context not captured: %+v", r.Context)
	}
	if string(r.Before) != `{"title":"Loft","status":"approved"}` {
		t.Fatalf("unexpected before %s", r.Before)
	}
}

func TestPipeline_CreationAndDeletionSnapshots(t *testing.T) {
	repo := NewMemoryRepo()
	p := newTestPipeline(t, repo, PipelineOptions{})

	var none *snapshot
	p.Record(context.Background(), Entry{Action: ActionListingCreated, EntityKind: EntityListing, EntityID: "l", Before: none, After: snapshot{Title: "A"}})
	p.Record(context.Background(), Entry{Action: ActionListingDeleted, EntityKind: EntityListing, EntityID: "l", Before: snapshot{Title: "A"}})
	_ = p.Flush(context.Background())

	recs := repo.Records()
	if recs[0].Before != nil || recs[0].After == nil {
		t.Fatalf("creation must have nil before: %+v", recs[0])
	}
	if recs[1].After != nil || recs[1].Before == nil {
		t.Fatalf("deletion must have nil after: %+v", recs[1])
	}
}

type fakeSpool struct {
	mu    sync.Mutex
	saved []Record
}

func (s *fakeSpool) Save(_ context.Context, r Record, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return nil
}

func TestPipeline_AppendFailureIsSwallowedAndSpooled(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailAppends(errors.New("audit log unreachable"))

	var logs bytes.Buffer
	spool := &fakeSpool{}
	p := newTestPipeline(t, repo, PipelineOptions{
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
		Spool:  spool,
	})

	p.Record(context.Background(), Entry{Action: ActionListingApproved, EntityKind: EntityListing, EntityID: "l-1"})
	_ = p.Flush(context.Background())

	if len(repo.Records()) != 0 {
		t.Fatalf("expected nothing appended")
	}
	if n := strings.Count(logs.String(), "audit append failed"); n != 1 {
		t.Fatalf("expected exactly one failure log, got %d:\n%s", n, logs.String())
	}
	if len(spool.saved) != 1 || spool.saved[0].EntityID != "l-1" {
		t.Fatalf("expected record spooled, got %+v", spool.saved)
	}

	// No retry: clearing the failure does not replay the lost record.
	repo.FailAppends(nil)
	_ = p.Flush(context.Background())
	if len(repo.Records()) != 0 {
		t.Fatalf("failed append must not be retried")
	}
}

type blockingRepo struct {
	*MemoryRepo
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) Append(ctx context.Context, rec Record) (Record, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.MemoryRepo.Append(ctx, rec)
}

func TestPipeline_FullQueueDropsWithoutBlocking(t *testing.T) {
	repo := &blockingRepo{MemoryRepo: NewMemoryRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, repo, PipelineOptions{QueueSize: 1})

	rec := func(id string) {
		p.Record(context.Background(), Entry{Action: ActionListingUpdated, EntityKind: EntityListing, EntityID: id})
	}

	rec("first")
	<-repo.entered

	done := make(chan struct{})
	go func() {
		rec("second") // fills the queue
		rec("third")  // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on a full queue")
	}

	close(repo.release)
	_ = p.Flush(context.Background())

	recs := repo.Records()
	if len(recs) != 2 || recs[0].EntityID != "first" || recs[1].EntityID != "second" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestPipeline_RecordAfterCloseIsDropped(t *testing.T) {
	repo := NewMemoryRepo()
	p := NewPipeline(repo, PipelineOptions{})

	p.Record(context.Background(), Entry{Action: ActionListingUpdated, EntityKind: EntityListing, EntityID: "a"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	p.Record(context.Background(), Entry{Action: ActionListingUpdated, EntityKind: EntityListing, EntityID: "b"})

	recs := repo.Records()
	if len(recs) != 1 || recs[0].EntityID != "a" {
		t.Fatalf("expected only the record queued before close, got %+v", recs)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPipeline_CancelledCallerContextStillAppends(t *testing.T) {
	repo := NewMemoryRepo()
	p := newTestPipeline(t, repo, PipelineOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Record(ctx, Entry{Action: ActionListingApproved, EntityKind: EntityListing, EntityID: "l"})
	_ = p.Flush(context.Background())

	if len(repo.Records()) != 1 {
		t.Fatalf("record must survive caller cancellation")
	}
}

func TestPipeline_StoredRecordsAreImmutable(t *testing.T) {
	repo := NewMemoryRepo()
	p := newTestPipeline(t, repo, PipelineOptions{})

	raw := []byte(`{"title":"A"}`)
	p.Record(context.Background(), Entry{Action: ActionListingUpdated, EntityKind: EntityListing, EntityID: "l", After: json.RawMessage(raw)})
	_ = p.Flush(context.Background())

	raw[2] = 'X'
	got := repo.Records()[0]
	got.After[2] = 'Y'
	got.Action = "tampered"

	again := repo.Records()[0]
	if string(again.After) != `{"title":"A"}` || again.Action != ActionListingUpdated || again.ID != 1 {
		t.Fatalf("stored record changed: %+v", again)
	}
}
