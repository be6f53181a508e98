// Package queue implements the durable job queue: priority-ordered
// dequeue, retry with backoff, and a dead-letter store for jobs that
// exhaust their attempts.
package queue

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/model"
)

// Named queues consumed by the worker pool.
const (
	QueueThumbnail = "thumbnail"
	QueueMetadata  = "metadata"
	QueuePHash     = "phash"
	QueueProxy     = "proxy"
	QueueRollup    = "rollup"
)

// Queues returns every named queue in dispatch order.
func Queues() []string {
	return []string{QueueThumbnail, QueueMetadata, QueuePHash, QueueProxy, QueueRollup}
}

const DefaultMaxAttempts = 3

// backoffSchedule delays retries after each failed attempt. Attempts
// past the end of the schedule reuse the final entry.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

func backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

// Spec describes a job to enqueue. Payload must be JSON-marshalable.
// Key identifies the job's target asset for duplicate prevention; when
// empty it is derived from the payload bytes.
type Spec struct {
	Queue       string
	Payload     interface{}
	Priority    int
	MaxAttempts int
	Key         string
}

type Queue struct {
	database *sql.DB
	now      func() time.Time
}

func New(database *sql.DB) *Queue {
	return &Queue{database: database, now: time.Now}
}

// Add enqueues a pending job unless an equivalent pending or processing
// job already exists for the same queue and payload key, in which case
// it reports the existing behaviour as a no-op and returns an empty id.
func (q *Queue) Add(spec Spec) (string, error) {
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	key := spec.Key
	if key == "" {
		sum := sha256.Sum256(payload)
		key = hex.EncodeToString(sum[:])
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	j := &model.Job{
		ID:          uuid.NewString(),
		Queue:       spec.Queue,
		Payload:     string(payload),
		PayloadKey:  key,
		Priority:    spec.Priority,
		MaxAttempts: maxAttempts,
		AvailableAt: q.now(),
	}

	exists, err := db.EnqueueJobIfNotExists(q.database, j)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", spec.Queue, err)
	}
	if exists {
		slog.Debug("job already queued", "queue", spec.Queue, "key", key)
		return "", nil
	}
	return j.ID, nil
}

// DequeueNext claims the highest-priority eligible pending job on the
// queue, or returns nil when none is due.
func (q *Queue) DequeueNext(queueName string) (*model.Job, error) {
	return db.ClaimNextJob(q.database, queueName, q.now())
}

// Complete marks a processing job completed. Completed jobs are kept
// for audit until ClearCompleted removes them.
func (q *Queue) Complete(job *model.Job) error {
	return db.CompleteJob(q.database, job.ID)
}

// Fail records a failed attempt. While attempts remain the job is
// rescheduled with backoff; otherwise it moves to the dead-letter store
// with the failure reason.
func (q *Queue) Fail(job *model.Job, reason string) error {
	if job.Attempts < job.MaxAttempts {
		at := q.now().Add(backoff(job.Attempts))
		slog.Warn("job failed, will retry", "queue", job.Queue, "job", job.ID,
			"attempt", job.Attempts, "max", job.MaxAttempts, "next", at, "error", reason)
		return db.RescheduleJob(q.database, job.ID, at, reason)
	}

	slog.Error("job exhausted retries, moving to dead letter",
		"queue", job.Queue, "job", job.ID, "attempts", job.Attempts, "error", reason)
	return db.MoveJobToDeadLetter(q.database, job, uuid.NewString(), reason)
}

// DeadLetters lists unacknowledged dead-letter entries, optionally
// filtered by queue.
func (q *Queue) DeadLetters(queueName string) ([]model.DeadLetterEntry, error) {
	return db.ListDeadLetters(q.database, queueName)
}

// RetryDeadLetter re-enqueues a fresh pending job from the stored
// payload with a reset attempt count, and marks the entry retried. The
// original entry is otherwise untouched.
func (q *Queue) RetryDeadLetter(id string) (string, error) {
	entry, err := db.GetDeadLetter(q.database, id)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("dead letter %s: not found", id)
	}

	j := &model.Job{
		ID:          uuid.NewString(),
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		PayloadKey:  payloadKey(entry.Payload),
		MaxAttempts: DefaultMaxAttempts,
		AvailableAt: q.now(),
	}
	exists, err := db.EnqueueJobIfNotExists(q.database, j)
	if err != nil {
		return "", fmt.Errorf("re-enqueue dead letter %s: %w", id, err)
	}
	if err := db.MarkDeadLetterRetried(q.database, id); err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}
	return j.ID, nil
}

// Acknowledge dismisses dead-letter entries without retrying them.
func (q *Queue) Acknowledge(ids []string) error {
	return db.AcknowledgeDeadLetters(q.database, ids)
}

// ClearCompleted garbage-collects completed jobs older than the
// retention window.
func (q *Queue) ClearCompleted(olderThan time.Duration) (int64, error) {
	return db.ClearCompletedJobs(q.database, q.now().Add(-olderThan))
}

// Counts reports job counts per status for one queue.
func (q *Queue) Counts(queueName string) (map[string]int, error) {
	return db.CountJobsByStatus(q.database, queueName)
}

func payloadKey(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
