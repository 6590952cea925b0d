package rediscluster

import (
	"context"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// fakeNodeClient is a minimal NodeClient double used across this
// package's tests in place of a live redis-server connection -- the
// teacher's own tests dial 127.0.0.1:6379 directly, which isn't
// available here.
type fakeNodeClient struct {
	addr string

	mu      sync.Mutex
	status  Status
	asking  bool
	doFunc  func(name string, args []interface{}) (interface{}, error)
	doCalls int

	subscribed  map[string]bool
	psubscribed map[string]bool
	msgCh       chan PubSubMessage
}

func newFakeNodeClient(addr string) *fakeNodeClient {
	return &fakeNodeClient{
		addr:        addr,
		status:      StatusReady,
		subscribed:  make(map[string]bool),
		psubscribed: make(map[string]bool),
		msgCh:       make(chan PubSubMessage, 16),
	}
}

func (f *fakeNodeClient) Addr() string { return f.addr }

func (f *fakeNodeClient) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeNodeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.status = StatusReady
	f.mu.Unlock()
	return nil
}

func (f *fakeNodeClient) Disconnect() {
	f.mu.Lock()
	f.status = StatusEnd
	f.mu.Unlock()
}

func (f *fakeNodeClient) Close() error {
	f.Disconnect()
	return nil
}

func (f *fakeNodeClient) Asking() {
	f.mu.Lock()
	f.asking = true
	f.mu.Unlock()
}

func (f *fakeNodeClient) Do(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	f.asking = false
	f.doCalls++
	fn := f.doFunc
	f.mu.Unlock()
	if fn == nil {
		return "OK", nil
	}
	return fn(name, args)
}

func (f *fakeNodeClient) Subscribe(ctx context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		f.subscribed[ch] = true
	}
	return nil
}

func (f *fakeNodeClient) PSubscribe(ctx context.Context, patterns ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range patterns {
		f.psubscribed[p] = true
	}
	return nil
}

func (f *fakeNodeClient) Unsubscribe(ctx context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		delete(f.subscribed, ch)
	}
	return nil
}

func (f *fakeNodeClient) PUnsubscribe(ctx context.Context, patterns ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range patterns {
		delete(f.psubscribed, p)
	}
	return nil
}

func (f *fakeNodeClient) SnapshotSubscriptions() (subscribe, psubscribe []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribed {
		subscribe = append(subscribe, ch)
	}
	for p := range f.psubscribed {
		psubscribe = append(psubscribe, p)
	}
	return
}

func (f *fakeNodeClient) Messages() <-chan PubSubMessage { return f.msgCh }

func (f *fakeNodeClient) Stats() redis.PoolStats { return redis.PoolStats{} }

// fakeDialer returns an Options.Dial hook that hands out one
// fakeNodeClient per addr, remembered in the supplied registry so
// tests can reach in and script responses after New/reset has already
// created them.
func fakeDialer(registry map[string]*fakeNodeClient) func(addr string, opts RedisOptions) NodeClient {
	var mu sync.Mutex
	return func(addr string, opts RedisOptions) NodeClient {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := registry[addr]; ok {
			return c
		}
		c := newFakeNodeClient(addr)
		registry[addr] = c
		return c
	}
}
