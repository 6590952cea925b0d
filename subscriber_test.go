package rediscluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberSelectorPicksANode(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, nil)
	defer c.ex.stop()

	done := make(chan struct{})
	c.ex.submit(func() {
		c.subscriber.ensureSelected()
		close(done)
	})
	<-done

	waitExecutorIdle(c.ex)
	done2 := make(chan *NodeHandle)
	c.ex.submit(func() { done2 <- c.subscriber.current })
	require.NotNil(t, <-done2)
}

func TestSubscriberResubscribesAfterNodeRemoval(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 1}}, nil)
	defer c.ex.stop()

	require.NoError(t, c.Subscribe("news"))
	waitExecutorIdle(c.ex)

	var currentKey string
	doneGet := make(chan struct{})
	c.ex.submit(func() {
		currentKey = c.subscriber.current.key()
		close(doneGet)
	})
	<-doneGet
	require.NotEmpty(t, currentKey)

	// Remove only the current subscriber's endpoint, leaving the other
	// node in place, so onNodeRemoved has exactly one node to fail
	// over to deterministically.
	survivor := Endpoint{Host: "a", Port: 1}
	if currentKey == "a:1" {
		survivor = Endpoint{Host: "b", Port: 1}
	}
	done := make(chan struct{})
	c.ex.submit(func() {
		c.pool.reset([]Endpoint{survivor})
		close(done)
	})
	<-done

	time.Sleep(20 * time.Millisecond) // let the async resubscribe goroutine land
	waitExecutorIdle(c.ex)

	var newCurrent *NodeHandle
	doneCheck := make(chan struct{})
	c.ex.submit(func() {
		newCurrent = c.subscriber.current
		close(doneCheck)
	})
	<-doneCheck
	require.NotNil(t, newCurrent)
	assert.Equal(t, survivor.Key(), newCurrent.key())

	fc := registry[newCurrent.key()]
	subs, _ := fc.SnapshotSubscriptions()
	assert.Contains(t, subs, "news", "the newly selected subscriber must re-subscribe to previously subscribed channels")
}

func TestSubscriberForwardsMessagesAsEvents(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, nil)
	defer c.ex.stop()

	got := make(chan []interface{}, 1)
	c.On("message", func(args ...interface{}) { got <- args })

	done := make(chan struct{})
	c.ex.submit(func() {
		c.subscriber.ensureSelected()
		close(done)
	})
	<-done
	waitExecutorIdle(c.ex)

	fc := registry["a:1"]
	fc.msgCh <- PubSubMessage{Channel: "news", Data: []byte("hello")}

	select {
	case args := <-got:
		require.Len(t, args, 2)
		assert.Equal(t, "news", args[0])
		assert.Equal(t, []byte("hello"), args[1])
	case <-time.After(time.Second):
		t.Fatal("message event never forwarded")
	}
}
