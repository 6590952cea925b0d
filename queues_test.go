package rediscluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineQueuePushDrainFIFO(t *testing.T) {
	var q offlineQueue
	f1, f2 := make(chan result, 1), make(chan result, 1)
	q.push(offlineItem{cmd: NewCommand("GET", "a"), future: f1})
	q.push(offlineItem{cmd: NewCommand("GET", "b"), future: f2})

	items := q.drain()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].cmd.Args[0])
	assert.Equal(t, "b", items[1].cmd.Args[0])
	assert.Empty(t, q.drain(), "drain must empty the queue")
}

func TestOfflineQueueFlushWithError(t *testing.T) {
	var q offlineQueue
	f1 := make(chan result, 1)
	q.push(offlineItem{cmd: NewCommand("GET", "a"), future: f1})
	q.flushWithError(ErrNoStartupNodes)

	r := <-f1
	assert.ErrorIs(t, r.err, ErrNoStartupNodes)
}

func TestRetryQueueCoalescesIntoOneFire(t *testing.T) {
	ex := newExecutor()
	defer ex.stop()

	fired := make(chan []retryThunk, 1)
	q := newRetryQueue(ex, 10*time.Millisecond, func(thunks []retryThunk) {
		fired <- thunks
	})

	done := make(chan struct{})
	ex.submit(func() {
		q.push(func() {})
		q.push(func() {})
		q.push(func() {})
		close(done)
	})
	<-done

	select {
	case thunks := <-fired:
		assert.Len(t, thunks, 3, "three pushes within the delay window must share one timer fire")
	case <-time.After(time.Second):
		t.Fatal("retry queue never fired")
	}
}

func TestRetryQueueStopCancelsPending(t *testing.T) {
	ex := newExecutor()
	defer ex.stop()

	fired := make(chan []retryThunk, 1)
	q := newRetryQueue(ex, 20*time.Millisecond, func(thunks []retryThunk) {
		fired <- thunks
	})

	done := make(chan struct{})
	ex.submit(func() {
		q.push(func() {})
		q.stop()
		close(done)
	})
	<-done

	select {
	case <-fired:
		t.Fatal("stop must cancel the pending fire")
	case <-time.After(50 * time.Millisecond):
	}
}
