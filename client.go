package rediscluster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gomodule/redigo/redis"
)

// Status is the lifecycle state of a single-node client or of the
// Controller itself (spec §3, Status).
type Status string

const (
	StatusWait         Status = "wait"
	StatusConnecting   Status = "connecting"
	StatusConnect      Status = "connect"
	StatusReady        Status = "ready"
	StatusReconnecting Status = "reconnecting"
	StatusClose        Status = "close"
	StatusEnd          Status = "end"
)

// Role is the replication role of a NodeHandle.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// PubSubMessage is pushed on a NodeClient's Messages channel whenever
// the underlying connection receives a `message`/`pmessage` push
// (spec §6, emitted events).
type PubSubMessage struct {
	Pattern string // set only for pmessage
	Channel string
	Data    []byte
	PMessage bool
}

// NodeClient is the single-node client collaborator named in spec §1
// and §6: out of scope for this driver's core (framing, RESP parsing,
// per-connection pipeline), but depended upon through this interface.
// redigoNodeClient is the default, redigo-backed implementation.
type NodeClient interface {
	Addr() string
	Status() Status
	Connect(ctx context.Context) error
	Disconnect()
	// Do sends a single command and returns its reply. If Asking was
	// called since the last Do, the call is prefixed with ASKING.
	Do(ctx context.Context, name string, args ...interface{}) (interface{}, error)
	// Asking arms a one-shot ASKING prefix for the next Do call.
	Asking()

	Subscribe(ctx context.Context, channels ...string) error
	PSubscribe(ctx context.Context, patterns ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	PUnsubscribe(ctx context.Context, patterns ...string) error
	// SnapshotSubscriptions returns the channels/patterns currently
	// subscribed, standing in for the `prevCondition.subscriber`
	// side-channel named in spec §9.
	SnapshotSubscriptions() (subscribe, psubscribe []string)
	// Messages delivers pub/sub pushes received while in subscriber
	// mode. Closed when the client disconnects.
	Messages() <-chan PubSubMessage

	Stats() redis.PoolStats
	Close() error
}

// redigoNodeClient is the default NodeClient, backed by a
// *redis.Pool the way the teacher's ClusterPool.getRedisConnByAddrContext
// lazily creates and caches one pool per node address.
type redigoNodeClient struct {
	addr string
	pool *redis.Pool

	status atomic.Value // Status

	mu        sync.Mutex
	asking    bool
	subConn   redis.Conn
	subChans  map[string]bool
	psubChans map[string]bool
	msgCh     chan PubSubMessage
	msgChOnce sync.Once
}

// NewRedigoNodeClient builds the default single-node client for addr,
// dialing through opts the way ClusterPool.defaultDial does.
func NewRedigoNodeClient(addr string, opts RedisOptions) NodeClient {
	c := &redigoNodeClient{
		addr:      addr,
		subChans:  make(map[string]bool),
		psubChans: make(map[string]bool),
		msgCh:     make(chan PubSubMessage, 64),
	}
	c.status.Store(StatusWait)
	c.pool = &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, opts.dialOptions()...)
		},
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr, opts.dialOptions()...)
		},
	}
	return c
}

func (c *redigoNodeClient) Addr() string { return c.addr }

func (c *redigoNodeClient) Status() Status {
	return c.status.Load().(Status)
}

func (c *redigoNodeClient) Connect(ctx context.Context) error {
	c.status.Store(StatusConnecting)
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.status.Store(StatusWait)
		return err
	}
	conn.Close()
	c.status.Store(StatusConnect)
	c.status.Store(StatusReady)
	return nil
}

func (c *redigoNodeClient) Disconnect() {
	c.status.Store(StatusEnd)
	c.mu.Lock()
	if c.subConn != nil {
		c.subConn.Close()
		c.subConn = nil
	}
	c.mu.Unlock()
	c.pool.Close()
}

func (c *redigoNodeClient) Close() error {
	c.Disconnect()
	return nil
}

func (c *redigoNodeClient) Asking() {
	c.mu.Lock()
	c.asking = true
	c.mu.Unlock()
}

func (c *redigoNodeClient) Do(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	c.mu.Lock()
	asking := c.asking
	c.asking = false
	c.mu.Unlock()

	if asking {
		if _, err := connDoContext(conn, ctx, "ASKING"); err != nil {
			return nil, err
		}
	}
	return connDoContext(conn, ctx, name, args...)
}

// connDoContext runs cmd through the connection's context-aware Do if
// available, falling back to the blocking Do otherwise -- the same
// dispatch the teacher's redirconn.go used before delegating to
// redigo's pool.
func connDoContext(conn redis.Conn, ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	if cwt, ok := conn.(redis.ConnWithContext); ok {
		return cwt.DoContext(ctx, name, args...)
	}
	return conn.Do(name, args...)
}

func (c *redigoNodeClient) Stats() redis.PoolStats {
	return c.pool.Stats()
}

// subscriberConn lazily acquires the dedicated pub/sub connection,
// grounded on the teacher's ShardedPubSubConn.conn lifecycle in
// spubsub.go (acquire once, reuse, Close tears it down).
func (c *redigoNodeClient) subscriberConn(ctx context.Context) (redis.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subConn != nil {
		return c.subConn, nil
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	c.subConn = conn
	go c.pumpMessages(conn)
	return conn, nil
}

// pumpMessages reads pushes off the dedicated subscriber connection
// until it errors (typically because Disconnect closed it), then
// closes msgCh exactly once so Messages() consumers observe the end
// of the stream without racing a concurrent send.
func (c *redigoNodeClient) pumpMessages(conn redis.Conn) {
	defer c.msgChOnce.Do(func() { close(c.msgCh) })
	psc := redis.PubSubConn{Conn: conn}
	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			c.msgCh <- PubSubMessage{Channel: v.Channel, Data: v.Data}
		case redis.PMessage:
			c.msgCh <- PubSubMessage{Pattern: v.Pattern, Channel: v.Channel, Data: v.Data, PMessage: true}
		case error:
			return
		}
	}
}

func (c *redigoNodeClient) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	conn, err := c.subscriberConn(ctx)
	if err != nil {
		return err
	}
	psc := redis.PubSubConn{Conn: conn}
	args := make([]interface{}, len(channels))
	for i, ch := range channels {
		args[i] = ch
	}
	if err := psc.Subscribe(args...); err != nil {
		return err
	}
	c.mu.Lock()
	for _, ch := range channels {
		c.subChans[ch] = true
	}
	c.mu.Unlock()
	return nil
}

func (c *redigoNodeClient) PSubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return nil
	}
	conn, err := c.subscriberConn(ctx)
	if err != nil {
		return err
	}
	psc := redis.PubSubConn{Conn: conn}
	args := make([]interface{}, len(patterns))
	for i, p := range patterns {
		args[i] = p
	}
	if err := psc.PSubscribe(args...); err != nil {
		return err
	}
	c.mu.Lock()
	for _, p := range patterns {
		c.psubChans[p] = true
	}
	c.mu.Unlock()
	return nil
}

func (c *redigoNodeClient) Unsubscribe(ctx context.Context, channels ...string) error {
	c.mu.Lock()
	conn := c.subConn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	psc := redis.PubSubConn{Conn: conn}
	args := make([]interface{}, len(channels))
	for i, ch := range channels {
		args[i] = ch
	}
	if err := psc.Unsubscribe(args...); err != nil {
		return err
	}
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subChans, ch)
	}
	c.mu.Unlock()
	return nil
}

func (c *redigoNodeClient) PUnsubscribe(ctx context.Context, patterns ...string) error {
	c.mu.Lock()
	conn := c.subConn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	psc := redis.PubSubConn{Conn: conn}
	args := make([]interface{}, len(patterns))
	for i, p := range patterns {
		args[i] = p
	}
	if err := psc.PUnsubscribe(args...); err != nil {
		return err
	}
	c.mu.Lock()
	for _, p := range patterns {
		delete(c.psubChans, p)
	}
	c.mu.Unlock()
	return nil
}

func (c *redigoNodeClient) SnapshotSubscriptions() (subscribe, psubscribe []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subChans {
		subscribe = append(subscribe, ch)
	}
	for p := range c.psubChans {
		psubscribe = append(psubscribe, p)
	}
	return
}

func (c *redigoNodeClient) Messages() <-chan PubSubMessage {
	return c.msgCh
}
