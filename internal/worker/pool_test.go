package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fieldvault "github.com/mkaverti/fieldvault"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/queue"
)

func newTestPool(t *testing.T) (*Pool, *queue.Queue, *events.Hub) {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, fieldvault.MigrationFS))

	hub := events.New()
	q := queue.New(database)
	return NewPool(database, q, hub, nil, 10*time.Millisecond), q, hub
}

func waitEvent(t *testing.T, ch <-chan events.Event, eventType string) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestPoolRunsRegisteredHandler(t *testing.T) {
	pool, q, hub := newTestPool(t)

	done := make(chan string, 1)
	pool.Register("unit", func(ctx context.Context, job *model.Job) error {
		done <- job.Payload
		return nil
	})

	ch, unsub := hub.Subscribe("queue:unit")
	defer unsub()

	_, err := q.Add(queue.Spec{Queue: "unit", Payload: "hello"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	select {
	case payload := <-done:
		assert.Equal(t, `"hello"`, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
	waitEvent(t, ch, events.TypeJobCompleted)
}

func TestPoolFailureGoesToDeadLetter(t *testing.T) {
	pool, q, hub := newTestPool(t)

	pool.Register("unit", func(ctx context.Context, job *model.Job) error {
		return errors.New("no such file")
	})

	ch, unsub := hub.Subscribe("queue:unit")
	defer unsub()

	_, err := q.Add(queue.Spec{Queue: "unit", Payload: "p", MaxAttempts: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	waitEvent(t, ch, events.TypeJobDead)

	entries, err := q.DeadLetters("unit")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "no such file", entries[0].Reason)
}

func TestPoolRecoversFromHandlerPanic(t *testing.T) {
	pool, q, hub := newTestPool(t)

	pool.Register("unit", func(ctx context.Context, job *model.Job) error {
		panic("corrupt payload")
	})

	ch, unsub := hub.Subscribe("queue:unit")
	defer unsub()

	_, err := q.Add(queue.Spec{Queue: "unit", Payload: "p", MaxAttempts: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() { cancel(); pool.Stop() }()

	waitEvent(t, ch, events.TypeJobDead)

	entries, err := q.DeadLetters("unit")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Reason, "handler panic")
	assert.Contains(t, entries[0].Reason, "corrupt payload")
}
