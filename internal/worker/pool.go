// Package worker runs the background consumers for the named job
// queues. Each queue gets its own polling loop with at most one job in
// flight, so CPU-heavy work (transcodes, hashing) is bounded per queue
// while unrelated queues proceed concurrently.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/probe"
	"github.com/mkaverti/fieldvault/internal/queue"
)

// Handler executes one job. A returned error triggers the queue's
// retry/dead-letter path.
type Handler func(ctx context.Context, job *model.Job) error

type Pool struct {
	database   *sql.DB
	queue      *queue.Queue
	hub        *events.Hub
	transcoder probe.Transcoder
	interval   time.Duration

	handlers map[string]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPool(database *sql.DB, q *queue.Queue, hub *events.Hub, transcoder probe.Transcoder, pollInterval time.Duration) *Pool {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	p := &Pool{
		database:   database,
		queue:      q,
		hub:        hub,
		transcoder: transcoder,
		interval:   pollInterval,
		handlers:   make(map[string]Handler),
	}
	p.handlers[queue.QueueThumbnail] = p.handleThumbnail
	p.handlers[queue.QueueMetadata] = p.handleMetadata
	p.handlers[queue.QueuePHash] = p.handlePHash
	p.handlers[queue.QueueProxy] = p.handleProxy
	p.handlers[queue.QueueRollup] = p.handleRollup
	return p
}

// Register installs or replaces the handler for a queue. Must be called
// before Start.
func (p *Pool) Register(queueName string, h Handler) {
	p.handlers[queueName] = h
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for name, h := range p.handlers {
		p.wg.Add(1)
		go p.run(ctx, name, h)
	}
	slog.Info("worker pool started", "queues", len(p.handlers), "poll", p.interval)
}

// Stop signals all loops to finish their current job and returns once
// drained.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, queueName string, h Handler) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.DequeueNext(queueName)
		if err != nil {
			slog.Error("dequeue", "queue", queueName, "error", err)
			sleep(ctx, p.interval)
			continue
		}
		if job == nil {
			sleep(ctx, p.interval)
			continue
		}

		slog.Info("processing job", "queue", queueName, "job", job.ID, "attempt", job.Attempts)
		p.execute(ctx, job, h)
	}
}

// execute invokes the handler and feeds the outcome back to the queue.
// A handler panic is treated as a failed attempt, never a crashed loop.
func (p *Pool) execute(ctx context.Context, job *model.Job, h Handler) {
	err := invoke(ctx, job, h)
	if err == nil {
		if cerr := p.queue.Complete(job); cerr != nil {
			slog.Error("complete job", "job", job.ID, "error", cerr)
			return
		}
		slog.Info("job completed", "queue", job.Queue, "job", job.ID)
		p.publish(events.TypeJobCompleted, job)
		return
	}

	if ferr := p.queue.Fail(job, err.Error()); ferr != nil {
		slog.Error("fail job", "job", job.ID, "error", ferr)
		return
	}
	if job.Attempts >= job.MaxAttempts {
		p.publish(events.TypeJobDead, job)
	}
}

func invoke(ctx context.Context, job *model.Job, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) publish(eventType string, job *model.Job) {
	if p.hub == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"jobId": job.ID, "queue": job.Queue})
	p.hub.Publish("queue:"+job.Queue, events.Event{Type: eventType, Data: string(data)})
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
