package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan Job, 1)
	q := NewQueue("receipts", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("renderer unavailable")
		}
		done <- job
		return nil
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "inst-1", Type: "installment_receipt"}))

	select {
	case job := <-done:
		assert.Equal(t, "inst-1", job.ID)
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried to success")
	}
}

func TestQueueDropsAfterMaxRetries(t *testing.T) {
	dropped := make(chan Job, 1)
	q := NewQueue("receipts", func(ctx context.Context, job Job) error {
		return errors.New("always fails")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnDrop: func(j Job, err error) { dropped <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "inst-2"}))

	select {
	case job := <-dropped:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dropped")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("receipts", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueBackoffCapped(t *testing.T) {
	q := NewQueue("receipts", nil, QueueConfig{RetryDelay: time.Second, MaxDelay: 5 * time.Second})
	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 5*time.Second, q.backoff(4))
}
