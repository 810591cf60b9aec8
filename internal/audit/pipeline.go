package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"rental-platform/internal/metrics"
	"rental-platform/pkg/logger"
)

// Spool keeps a local copy of records whose append failed, for diagnostics.
type Spool interface {
	Save(ctx context.Context, r Record, cause error) error
}

type PipelineOptions struct {
	QueueSize     int
	AppendTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Registry
	Spool         Spool
	Clock         func() time.Time
}

// Pipeline records audit entries without ever blocking or failing the caller.
//
// Entries are queued and appended by a single worker, so records reach the
// Repository in the order Record was called within this process. A full
// queue drops the entry. Append failures are logged once, spooled when a
// Spool is configured, and never retried.
type Pipeline struct {
	repo  Repository
	opts  PipelineOptions
	log   *slog.Logger
	queue chan job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx     context.Context
	rec     Record
	flushed chan struct{}
}

func NewPipeline(repo Repository, opts PipelineOptions) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	p := &Pipeline{
		repo:  repo,
		opts:  opts,
		log:   logger.OrDefault(opts.Logger).With("component", "audit_pipeline"),
		queue: make(chan job, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Record builds a record from e and queues it. It never blocks and never fails.
func (p *Pipeline) Record(ctx context.Context, e Entry) {
	rec := p.build(ctx, e)
	if err := validate(rec); err != nil {
		p.log.Error("audit entry rejected", "action", rec.Action, "entity_kind", rec.EntityKind, "err", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(rec, "pipeline closed")
		return
	}
	select {
	case p.queue <- job{ctx: context.WithoutCancel(ctx), rec: rec}:
	default:
		p.drop(rec, "queue full")
	}
}

// Flush waits until every record queued before the call has been handled.
func (p *Pipeline) Flush(ctx context.Context) error {
	ch := make(chan struct{})

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	select {
	case p.queue <- job{flushed: ch}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker. Records after Close are dropped.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) build(ctx context.Context, e Entry) Record {
	rec := Record{
		ActorID:     e.ActorID,
		ActorRole:   e.ActorRole,
		Action:      e.Action,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		Before:      p.snapshot(e.Before),
		After:       p.snapshot(e.After),
		PendingSync: e.PendingSync,
		Context:     ClientContextFrom(ctx),
		OccurredAt:  p.opts.Clock().UTC(),
	}
	if rec.PendingSync {
		rec.Note = NotePendingSync
	}
	rec.Severity = Classify(rec.Action)
	rec.Description = Describe(rec)
	return rec
}

func (p *Pipeline) snapshot(v any) json.RawMessage {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return cloneRaw(t)
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("audit snapshot not serializable", "err", err)
		return nil
	}
	return b
}

func (p *Pipeline) run() {
	defer close(p.done)
	for j := range p.queue {
		if j.flushed != nil {
			close(j.flushed)
			continue
		}
		p.append(j)
	}
}

func (p *Pipeline) append(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, p.opts.AppendTimeout)
	defer cancel()

	if _, err := p.repo.Append(ctx, j.rec); err != nil {
		p.opts.Metrics.AuditAppendFailed()
		p.log.Error("audit append failed",
			"action", j.rec.Action,
			"entity_kind", j.rec.EntityKind,
			"entity_id", j.rec.EntityID,
			"actor_id", j.rec.ActorID,
			"err", err,
		)
		if p.opts.Spool != nil {
			sctx, scancel := context.WithTimeout(j.ctx, p.opts.AppendTimeout)
			defer scancel()
			if serr := p.opts.Spool.Save(sctx, j.rec, err); serr != nil {
				p.log.Warn("audit spool write failed", "err", serr)
			}
		}
		return
	}
	p.opts.Metrics.AuditAppended()
}

func (p *Pipeline) drop(rec Record, reason string) {
	p.opts.Metrics.AuditDropped()
	p.log.Warn("audit record dropped",
		"reason", reason,
		"action", rec.Action,
		"entity_kind", rec.EntityKind,
		"entity_id", rec.EntityID,
		"actor_id", rec.ActorID,
	)
}
