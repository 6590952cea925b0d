package rediscluster

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"
)

// newTestController wires a Controller with fake node clients and
// puts it straight into StatusReady with the given topology, bypassing
// the real Connect()/refresh flow so routing behavior can be tested in
// isolation (no live redis-server is available in this environment).
func newTestController(t *testing.T, registry map[string]*fakeNodeClient, endpoints []Endpoint, configure func(*Options)) *Controller {
	t.Helper()
	opts := Options{Dial: fakeDialer(registry)}
	if configure != nil {
		configure(&opts)
	}
	c := New(endpoints, opts)
	done := make(chan struct{})
	c.ex.submit(func() {
		c.pool.reset(endpoints)
		c.slotMap.SetRange(0, TotalSlots-1, []string{endpoints[0].Key()})
		c.status = StatusReady
		close(done)
	})
	<-done
	return c
}

func TestSendHappyPath(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, nil)
	defer c.ex.stop()

	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		return "PONG", nil
	}

	val, err := c.Send(NewCommand("PING"), nil)
	require.NoError(t, err)
	require.Equal(t, "PONG", val)
}

func TestSendMovedRedirectsAndUpdatesSlotMap(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, nil)
	defer c.ex.stop()

	key := "shardkey"
	slot := Slot(key)
	movedErr := redis.Error(fmt.Sprintf("MOVED %d b:1", slot))

	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		return nil, movedErr
	}

	// The MOVED handler also starts a background refresh that probes
	// every pool node, b:1 included, with CLUSTER SLOTS. b:1 is
	// therefore scripted up front (the dialer hands out registry
	// entries) so that only the retried GET is counted.
	var bMu sync.Mutex
	bGets := 0
	bClient := newFakeNodeClient("b:1")
	bClient.doFunc = func(name string, args []interface{}) (interface{}, error) {
		if name == "GET" {
			bMu.Lock()
			bGets++
			bMu.Unlock()
		}
		return "OK", nil
	}
	registry["b:1"] = bClient

	// findOrCreate(b:1) and the retried dispatch both start inside the
	// executor task that handled the MOVED error, so by the time Send
	// returns, b:1 is in the pool and has already served the retried
	// command.
	val, err := c.Send(NewCommand("GET", key), nil)
	require.NoError(t, err)
	require.Equal(t, "OK", val)

	inPool := make(chan bool, 1)
	c.ex.submit(func() {
		_, ok := c.pool.get("b:1")
		inPool <- ok
	})
	require.True(t, <-inPool, "MOVED must have created a handle for b:1")
	bMu.Lock()
	gets := bGets
	bMu.Unlock()
	require.Equal(t, 1, gets)

	waitExecutorIdle(c.ex)
	require.Equal(t, []string{"b:1"}, c.slotMap.Get(slot))
}

func TestSendAskRedirectsWithoutPermanentRemap(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 1}}, nil)
	defer c.ex.stop()

	key := "anotherkey"
	slot := Slot(key)
	askErr := redis.Error(fmt.Sprintf("ASK %d b:1", slot))

	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		return nil, askErr
	}
	registry["b:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		return "OK", nil
	}

	val, err := c.Send(NewCommand("GET", key), nil)
	require.NoError(t, err)
	require.Equal(t, "OK", val)

	waitExecutorIdle(c.ex)
	require.Equal(t, []string{"a:1"}, c.slotMap.Get(slot), "ASK must not rewrite the slot map's primary")
	require.Equal(t, 1, registry["a:1"].doCalls)
	require.Equal(t, 1, registry["b:1"].doCalls)
}

func TestSendRedirectionBudgetExhausted(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, func(o *Options) {
		o.MaxRedirections = 2
	})
	defer c.ex.stop()

	key := "loopkey"
	slot := Slot(key)
	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		return nil, redis.Error(fmt.Sprintf("MOVED %d a:1", slot))
	}

	_, err := c.Send(NewCommand("GET", key), nil)
	require.Error(t, err)
	var exhausted *redirectionExhaustedError
	require.True(t, errors.As(err, &exhausted))
}

func TestSendClusterDownQueuesAndRetries(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}}, func(o *Options) {
		o.RetryDelayOnClusterDown = 10 * time.Millisecond
	})
	defer c.ex.stop()

	var calls int
	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) {
		calls++
		if name == "CLUSTER" {
			return nil, redis.Error("ERR This instance has cluster support disabled")
		}
		if calls == 1 {
			return nil, redis.Error("CLUSTERDOWN Hash slot not served")
		}
		return "OK", nil
	}

	val, err := c.Send(NewCommand("GET", "x"), nil)
	require.NoError(t, err)
	require.Equal(t, "OK", val)
}

func TestPinnedNodeIsStickyAcrossCalls(t *testing.T) {
	registry := make(map[string]*fakeNodeClient)
	c := newTestController(t, registry, []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 1}}, nil)
	defer c.ex.stop()

	registry["a:1"].doFunc = func(name string, args []interface{}) (interface{}, error) { return "A", nil }
	registry["b:1"].doFunc = func(name string, args []interface{}) (interface{}, error) { return "B", nil }

	// Whole range maps to a:1, so the first pinned Send resolves to a:1
	// and caches it.
	pinned := &PinnedNode{Slot: 0}
	val1, err := c.Send(NewCommand("GET", "k1"), pinned)
	require.NoError(t, err)
	require.Equal(t, "A", val1)

	// Even after the slot map is repointed to b:1, the pinned node
	// keeps routing to the node it first resolved.
	waitExecutorIdle(c.ex)
	c.ex.submit(func() { c.slotMap.SetRange(0, TotalSlots-1, []string{"b:1"}) })
	waitExecutorIdle(c.ex)

	val2, err := c.Send(NewCommand("GET", "k2"), pinned)
	require.NoError(t, err)
	require.Equal(t, "A", val2, "a PinnedNode must keep resolving to the node cached on its first use")
}
