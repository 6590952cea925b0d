package rediscluster

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Controller is the top-level cluster client: lifecycle, connect/
// disconnect, retry strategy, and event emission (spec §4.F). It is
// the single exported entry point; Pool, SlotMap, the Refresher, the
// Queues, the Router and the Subscriber Selector are its unexported
// collaborators, all owned by its executor goroutine.
type Controller struct {
	opts Options

	ex        *executor
	emitter   *Emitter
	pool      *Pool
	slotMap   *SlotMap
	refresher *refresher
	subscriber *subscriberSelector

	offlineQ     offlineQueue
	failoverQ    *retryQueue
	clusterDownQ *retryQueue

	startupEndpoints []Endpoint
	status           Status
	retryAttempts    int
	manualClosing    bool
	reconnectTimer   *time.Timer
}

// New builds a Controller for the given startup endpoints. It does
// not connect; call Connect to start the slot-cache refresh and
// transition out of wait.
func New(startup []Endpoint, opts Options) *Controller {
	opts = opts.withDefaults()
	ex := newExecutor()
	emitter := newEmitter(ex)
	c := &Controller{
		opts:             opts,
		ex:               ex,
		emitter:          emitter,
		pool:             newPool(opts, emitter),
		slotMap:          newSlotMap(),
		startupEndpoints: startup,
		status:           StatusWait,
	}
	c.refresher = newRefresher(c)
	c.subscriber = newSubscriberSelector(c)
	c.failoverQ = newRetryQueue(ex, opts.RetryDelayOnFailover, c.onRetryQueueFire)
	c.clusterDownQ = newRetryQueue(ex, opts.RetryDelayOnClusterDown, c.onRetryQueueFire)

	emitter.On("-node", func(args ...interface{}) {
		if len(args) == 0 {
			return
		}
		h, _ := args[0].(*NodeHandle)
		c.subscriber.onNodeRemoved(h)
	})
	emitter.On("drain", func(args ...interface{}) {
		c.setStatus(StatusClose)
	})
	// Durable reconnect-policy listener, registered once per
	// Controller rather than once per connect() attempt -- connect()
	// runs again on every reconnect, and a listener registered there
	// would otherwise accumulate.
	emitter.On("close", func(args ...interface{}) {
		c.onClose()
	})

	return c
}

// onRetryQueueFire is shared by the failover and cluster-down queues:
// run one refresh, then invoke every thunk in insertion order (spec
// §4.D).
func (c *Controller) onRetryQueueFire(thunks []retryThunk) {
	c.refresher.refresh(func(error) {
		for _, t := range thunks {
			t()
		}
	})
}

// On registers a durable listener for one of the events named in spec
// §6 (+node, -node, node error, refresh, message, messageBuffer,
// pmessage, pmessageBuffer, or a status name).
func (c *Controller) On(event string, fn func(args ...interface{})) {
	c.emitter.On(event, fn)
}

// Status returns the Controller's current lifecycle status. Safe to
// call from any goroutine other than the executor's own (event
// listeners run there): reads are routed through the executor and
// wait for it.
func (c *Controller) Status() Status {
	done := make(chan Status, 1)
	c.ex.submit(func() { done <- c.status })
	return <-done
}

func (c *Controller) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.emitter.Emit(string(s))
}

// Connect starts the cluster client (spec §4.F). Rejects if already
// connecting/connect/ready.
func (c *Controller) Connect() <-chan error {
	done := make(chan error, 1)
	c.ex.submit(func() {
		c.connect(done)
	})
	return done
}

func (c *Controller) connect(done chan error) {
	switch c.status {
	case StatusConnecting, StatusConnect, StatusReady:
		done <- ErrAlreadyConnecting
		return
	}

	c.manualClosing = false
	c.setStatus(StatusConnecting)
	c.pool.reset(c.startupEndpoints)

	c.emitter.Once("refresh", func(args ...interface{}) {
		c.retryAttempts = 0
		c.manualClosing = false
		c.setStatus(StatusConnect)
		c.setStatus(StatusReady)
		c.drainOffline()
		c.subscriber.ensureSelected()
		select {
		case done <- nil:
		default:
		}
	})
	c.emitter.Once("close", func(args ...interface{}) {
		select {
		case done <- ErrNoStartupNodes:
		default:
		}
	})

	c.refresher.refresh(func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("initial slot-cache refresh failed")
			c.pool.reset(nil)
		}
	})
}

// onClose implements the reconnect policy (spec §4.F). It runs from
// the durable "close" listener that New registers once per Controller.
func (c *Controller) onClose() {
	if c.manualClosing {
		c.setStatus(StatusEnd)
		c.offlineQ.flushWithError(ErrNoStartupNodes)
		return
	}
	c.retryAttempts++
	delay := c.opts.ClusterRetryStrategy(c.retryAttempts)
	if delay < 0 {
		c.setStatus(StatusEnd)
		c.offlineQ.flushWithError(ErrNoStartupNodes)
		return
	}
	c.setStatus(StatusReconnecting)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.ex.submit(func() {
			c.reconnectTimer = nil
			done := make(chan error, 1)
			c.connect(done)
		})
	})
}

func (c *Controller) drainOffline() {
	for _, it := range c.offlineQ.drain() {
		pc := &pendingCommand{cmd: it.cmd, pinned: it.pinned, future: it.future, ttl: c.opts.MaxRedirections}
		c.tryConnection(pc)
	}
}

// Disconnect tears the cluster client down (spec §4.F). If reconnect
// is false, marks manual closing so onClose does not schedule a
// retry.
func (c *Controller) Disconnect(reconnect bool) <-chan struct{} {
	done := make(chan struct{})
	c.ex.submit(func() {
		if !reconnect {
			c.manualClosing = true
			if c.reconnectTimer != nil {
				c.reconnectTimer.Stop()
				c.reconnectTimer = nil
			}
		}
		c.failoverQ.stop()
		c.clusterDownQ.stop()
		c.pool.reset(nil)
		close(done)
	})
	return done
}

// Stats returns the redis.PoolStats of every known node, keyed by its
// "host:port", mirroring the teacher's ClusterPool.Stats/ActiveCount/
// IdleCount. The per-node values are not summed.
func (c *Controller) Stats() map[string]interface{} {
	done := make(chan map[string]interface{}, 1)
	c.ex.submit(func() {
		out := make(map[string]interface{}, len(c.pool.all))
		for key, h := range c.pool.all {
			out[key] = h.Client.Stats()
		}
		done <- out
	})
	return <-done
}

// VerboseSlotMapping returns a human-readable dump of the current
// slot table, grounded on the teacher's VerbosSlotMapping.
func (c *Controller) VerboseSlotMapping() string {
	done := make(chan string, 1)
	c.ex.submit(func() { done <- c.slotMap.VerboseSlotMapping() })
	return <-done
}

// Close stops the Controller's executor after a final Disconnect.
// Further Send/Connect calls after Close are not supported.
func (c *Controller) Close() {
	<-c.Disconnect(false)
	c.ex.submit(func() { c.setStatus(StatusEnd) })
	time.Sleep(time.Millisecond) // let the final status event enqueue
	c.ex.stop()
}
