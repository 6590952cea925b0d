package rediscluster

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

// ScaleReads selects which role serves read-only commands (spec §6,
// `scaleReads`).
type ScaleReads string

const (
	ScaleReadsMaster ScaleReads = "master"
	ScaleReadsSlave  ScaleReads = "slave"
	ScaleReadsAll    ScaleReads = "all"
)

// NodeSelector is the custom scaleReads form: given the handles
// resolved from a slot's ordered endpoint-key list (primary first), it
// picks one, several (for uniform sampling), or none (defer to index 0).
type NodeSelector func(handles []*NodeHandle) interface{}

// RedisOptions is the opaque per-connection configuration passed
// through to every NodeClient (spec §6, `redisOptions`).
type RedisOptions struct {
	Password        string
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxIdle         int
	MaxActive       int
	IdleTimeout     time.Duration
}

func (o RedisOptions) dialOptions() []redis.DialOption {
	var opts []redis.DialOption
	if o.Password != "" {
		opts = append(opts, redis.DialPassword(o.Password))
	}
	if o.DialTimeout > 0 {
		opts = append(opts, redis.DialConnectTimeout(o.DialTimeout))
	}
	if o.ReadTimeout > 0 {
		opts = append(opts, redis.DialReadTimeout(o.ReadTimeout))
	}
	if o.WriteTimeout > 0 {
		opts = append(opts, redis.DialWriteTimeout(o.WriteTimeout))
	}
	return opts
}

// Options configures a Controller, mirroring the teacher's plain
// struct-with-exported-fields ClusterPool configuration rather than a
// functional-options builder (spec §6, Recognized configuration
// options).
type Options struct {
	// MaxRedirections bounds MOVED+ASK hops per command. Default 16.
	MaxRedirections int

	// RetryDelayOnFailover delays the retry of commands whose
	// connection closed mid-flight. Default 100ms.
	RetryDelayOnFailover time.Duration

	// RetryDelayOnClusterDown delays the retry of commands that
	// received CLUSTERDOWN. Default 100ms.
	RetryDelayOnClusterDown time.Duration

	// ScaleReads chooses read routing: master, slave, all, or a custom
	// selector. NodeSelector is consulted only when ScaleReads holds a
	// value other than master, slave or all; an empty ScaleReads
	// defaults to master.
	ScaleReads   ScaleReads
	NodeSelector NodeSelector

	// EnableOfflineQueue, if false, rejects commands submitted while
	// not ready instead of queueing them. Default true; nil means
	// "use the default".
	EnableOfflineQueue *bool

	// ClusterRetryStrategy returns the delay before the next connect
	// attempt, or a negative number to give up. Default:
	// min(100+attempt*2, 2000) ms.
	ClusterRetryStrategy func(attempt int) time.Duration

	// RedisOptions is passed to each single-node client.
	RedisOptions RedisOptions

	// Dial overrides NodeClient construction; defaults to
	// NewRedigoNodeClient.
	Dial func(addr string, opts RedisOptions) NodeClient

	// ClusterSlotsTimeout bounds a single CLUSTER SLOTS RPC. Default
	// 1000ms per spec §4.C.
	ClusterSlotsTimeout time.Duration
}

func defaultRetryStrategy(attempt int) time.Duration {
	ms := 100 + attempt*2
	if ms > 2000 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

// withDefaults fills unset fields, mirroring the defaults table in
// spec §6.
func (o Options) withDefaults() Options {
	if o.MaxRedirections <= 0 {
		o.MaxRedirections = 16
	}
	if o.RetryDelayOnFailover == 0 {
		o.RetryDelayOnFailover = 100 * time.Millisecond
	}
	if o.RetryDelayOnClusterDown == 0 {
		o.RetryDelayOnClusterDown = 100 * time.Millisecond
	}
	if o.ScaleReads == "" {
		o.ScaleReads = ScaleReadsMaster
	}
	if o.ClusterRetryStrategy == nil {
		o.ClusterRetryStrategy = defaultRetryStrategy
	}
	if o.Dial == nil {
		o.Dial = func(addr string, ro RedisOptions) NodeClient {
			return NewRedigoNodeClient(addr, ro)
		}
	}
	if o.ClusterSlotsTimeout == 0 {
		o.ClusterSlotsTimeout = 1000 * time.Millisecond
	}
	if o.EnableOfflineQueue == nil {
		on := true
		o.EnableOfflineQueue = &on
	}
	return o
}

func (o Options) offlineQueueEnabled() bool {
	return o.EnableOfflineQueue == nil || *o.EnableOfflineQueue
}
