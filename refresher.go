package rediscluster

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// refresher implements the slot-cache refresh protocol of spec §4.C:
// at most one refresh in flight, overlapping callers attach to it.
type refresher struct {
	ctrl     *Controller
	inFlight bool
	waiters  []func(error)
}

func newRefresher(ctrl *Controller) *refresher {
	return &refresher{ctrl: ctrl}
}

// refresh kicks a slot-cache refresh if none is running, or attaches
// done to the one already in flight. done is invoked on the executor.
func (r *refresher) refresh(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if r.inFlight {
		r.waiters = append(r.waiters, done)
		return
	}
	r.inFlight = true
	r.waiters = append(r.waiters, done)

	nodes := r.ctrl.pool.nodes("all")
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.key()
	}
	if len(keys) == 0 {
		for _, ep := range r.ctrl.startupEndpoints {
			keys = append(keys, ep.Key())
		}
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	go r.walk(keys)
}

// walk performs the network side of the refresh (one CLUSTER SLOTS
// probe per shuffled node, 1000ms timeout) off the executor goroutine,
// then posts the outcome back to be applied on the executor.
func (r *refresher) walk(keys []string) {
	var lastErr error
	for _, key := range keys {
		if r.ctrl.Status() == StatusEnd {
			r.finishFailure(fmt.Errorf("Cluster is disconnected."))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.ctrl.opts.ClusterSlotsTimeout)
		reply, err := r.probe(ctx, key)
		cancel()
		if err != nil {
			lastErr = err
			log.Debug().Str("addr", key).Err(err).Msg("cluster slots probe failed")
			r.ctrl.emitter.Emit("node error", err, key)
			continue
		}
		ranges, endpoints, perr := parseClusterSlots(reply)
		if perr != nil {
			lastErr = perr
			r.ctrl.emitter.Emit("node error", perr, key)
			continue
		}
		r.finishSuccess(ranges, endpoints)
		return
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no reachable node")
	}
	r.finishFailure(&refreshFailedError{lastNodeError: lastErr})
}

// probe runs CLUSTER SLOTS against addr. It reuses the pool's client
// for addr when there is one (looked up on the executor, which owns
// the pool), and otherwise creates a throwaway client so a node that
// isn't in the pool yet (first refresh) can still be probed.
func (r *refresher) probe(ctx context.Context, addr string) (interface{}, error) {
	found := make(chan NodeClient, 1)
	r.ctrl.ex.submit(func() {
		var pooled NodeClient
		if h, ok := r.ctrl.pool.get(addr); ok {
			pooled = h.Client
		}
		found <- pooled
	})
	var client NodeClient
	select {
	case client = <-found:
	case <-r.ctrl.ex.done:
		return nil, ErrClusterEnded
	}
	if client == nil {
		client = r.ctrl.opts.Dial(addr, r.ctrl.opts.RedisOptions)
		if client == nil {
			return nil, ErrInvalidConn
		}
		defer client.Close()
	}
	return client.Do(ctx, "CLUSTER", "SLOTS")
}

// finishFailure posts a failure outcome back onto the executor.
func (r *refresher) finishFailure(err error) {
	r.ctrl.ex.submit(func() {
		r.complete(err)
	})
}

// finishSuccess posts a success outcome back onto the executor, where
// Pool.reset and SlotMap.ReplaceAll actually run.
func (r *refresher) finishSuccess(ranges map[[2]int][]string, endpoints []Endpoint) {
	r.ctrl.ex.submit(func() {
		r.ctrl.pool.reset(endpoints)
		r.ctrl.slotMap.ReplaceAll(ranges)
		r.ctrl.emitter.Emit("refresh")
		r.complete(nil)
	})
}

func (r *refresher) complete(err error) {
	r.inFlight = false
	waiters := r.waiters
	r.waiters = nil
	for _, w := range waiters {
		w(err)
	}
}

// parseClusterSlots decodes a CLUSTER SLOTS reply into per-range
// endpoint-key lists (primary at index 0, replicas after) and the
// full endpoint set, grounded on the teacher's
// ClusterPool.updateSlotMap parsing (clusterpool.go).
func parseClusterSlots(reply interface{}) (map[[2]int][]string, []Endpoint, error) {
	slots, err := redis.Values(reply, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(slots) == 0 {
		return nil, nil, ErrNoSlotMapping
	}

	ranges := make(map[[2]int][]string)
	seen := make(map[string]Endpoint)

	for _, sl := range slots {
		entry, err := redis.Values(sl, nil)
		if err != nil {
			return nil, nil, err
		}
		var start, end int
		rest, err := redis.Scan(entry, &start, &end)
		if err != nil {
			return nil, nil, err
		}

		var keys []string
		for i, raw := range rest {
			fields, err := redis.Values(raw, nil)
			if err != nil {
				return nil, nil, err
			}
			var host string
			var port int
			if _, err := redis.Scan(fields, &host, &port); err != nil {
				return nil, nil, err
			}
			ep := Endpoint{Host: host, Port: port, ReadOnly: i > 0}
			key := ep.Key()
			keys = append(keys, key)
			if prev, ok := seen[key]; !ok || (prev.ReadOnly && !ep.ReadOnly) {
				seen[key] = ep
			}
		}
		ranges[[2]int{start, end}] = keys
	}

	endpoints := make([]Endpoint, 0, len(seen))
	for _, ep := range seen {
		endpoints = append(endpoints, ep)
	}
	return ranges, endpoints, nil
}
