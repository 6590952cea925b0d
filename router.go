package rediscluster

import (
	"context"
	"math/rand"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// result is what a Command's future carries back to the caller.
type result struct {
	value interface{}
	err   error
}

// pendingCommand is the Router's per-command ephemeral state (spec
// §3, Command: "the Router stores ... a redirection TTL ... a flag
// ... the optional pinned target node"). Kept out-of-band from
// Command itself since Go has no clean way to swap a command's
// reject path in place the way the original reject-wrap did (spec §9
// design note).
type pendingCommand struct {
	cmd     *Command
	pinned  *PinnedNode
	future  chan result
	ttl     int
	random  bool
	askingKey string
}

// Send submits cmd for routing and blocks until it resolves, fails,
// or is queued and later resolved (spec §4.E). Safe to call from any
// goroutine other than the executor's own (event listeners run there);
// the actual routing work runs on the Controller's executor.
func (c *Controller) Send(cmd *Command, pinned *PinnedNode) (interface{}, error) {
	future := make(chan result, 1)
	c.ex.submit(func() {
		c.startSend(cmd, pinned, future)
	})
	r := <-future
	return r.value, r.err
}

func (c *Controller) startSend(cmd *Command, pinned *PinnedNode, future chan result) {
	if c.status == StatusEnd {
		future <- result{err: ErrConnectionClosed}
		return
	}
	pc := &pendingCommand{cmd: cmd, pinned: pinned, future: future, ttl: c.opts.MaxRedirections}
	c.tryConnection(pc)
}

// targetRole resolves options.scaleReads against the command's
// readonly-ness, coercing back to master for writes (spec §4.E
// Preflight).
func (c *Controller) targetRole(cmd *Command) ScaleReads {
	to := c.opts.ScaleReads
	if to == "" {
		to = ScaleReadsMaster
	}
	if to != ScaleReadsMaster && !commandIsReadonly(cmd.Name) {
		return ScaleReadsMaster
	}
	return to
}

// tryConnection is the attempt loop of spec §4.E. It must run on the
// executor.
func (c *Controller) tryConnection(pc *pendingCommand) {
	if c.status == StatusEnd {
		pc.future <- result{err: ErrClusterEnded}
		return
	}

	if c.status == StatusReady {
		node := c.pickNode(pc)
		if node != nil {
			c.dispatch(pc, node)
			return
		}
	}

	if c.opts.offlineQueueEnabled() {
		c.offlineQ.push(offlineItem{cmd: pc.cmd, pinned: pc.pinned, future: pc.future})
		return
	}
	pc.future <- result{err: ErrOfflineQueueDisabled}
}

// pickNode implements the node-selection half of spec §4.E step 2.
func (c *Controller) pickNode(pc *pendingCommand) *NodeHandle {
	if pc.pinned != nil && pc.pinned.node != nil {
		return pc.pinned.node
	}

	if commandHasFlag(pc.cmd.Name, flagEnterSubscriberMode) || commandHasFlag(pc.cmd.Name, flagExitSubscriberMode) {
		if c.subscriber.current != nil {
			return c.subscriber.current
		}
	}

	var node *NodeHandle
	if !pc.random {
		slot := pc.cmd.Slot()
		if pc.pinned != nil {
			slot = pc.pinned.Slot
		}
		if keys := c.slotMap.Get(slot); len(keys) > 0 {
			node = c.selectFromKeys(keys, c.targetRole(pc.cmd))
		}
		if pc.askingKey != "" {
			if h, ok := c.pool.get(pc.askingKey); ok {
				node = h
				h.Client.Asking()
			}
		}
	}

	if node == nil {
		to := c.targetRole(pc.cmd)
		pool := c.pool.nodes(string(to))
		if len(pool) == 0 {
			pool = c.pool.nodes("all")
		}
		if len(pool) > 0 {
			node = pool[rand.Intn(len(pool))]
		}
	}

	if node != nil && pc.pinned != nil && pc.pinned.node == nil {
		pc.pinned.node = node
	}
	return node
}

// selectFromKeys resolves the ordered endpoint-key list for a slot
// into a node handle according to to, the write-coerced scaleReads
// policy from targetRole (spec §4.E step 2 and Preflight).
func (c *Controller) selectFromKeys(keys []string, to ScaleReads) *NodeHandle {
	handles := make([]*NodeHandle, 0, len(keys))
	for _, k := range keys {
		if h, ok := c.pool.get(k); ok {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		return nil
	}

	switch {
	case to != ScaleReadsMaster && to != ScaleReadsSlave && to != ScaleReadsAll && c.opts.NodeSelector != nil:
		switch picked := c.opts.NodeSelector(handles).(type) {
		case *NodeHandle:
			return picked
		case []*NodeHandle:
			if len(picked) == 0 {
				return handles[0]
			}
			return picked[rand.Intn(len(picked))]
		default:
			return handles[0]
		}
	case to == ScaleReadsAll:
		return handles[rand.Intn(len(handles))]
	case to == ScaleReadsSlave && len(handles) > 1:
		return handles[1+rand.Intn(len(handles)-1)]
	default:
		return handles[0]
	}
}

// dispatch sends pc.cmd to node and wires the reply through the error
// classifier, the Go equivalent of the reject-path wrap (spec §9).
func (c *Controller) dispatch(pc *pendingCommand, node *NodeHandle) {
	go func() {
		value, err := node.Client.Do(context.Background(), pc.cmd.Name, pc.cmd.Args...)
		c.ex.submit(func() {
			if err != nil {
				c.classify(pc, node, err)
				return
			}
			pc.future <- result{value: value}
		})
	}()
}

// classify is the error classifier of spec §4.E.1.
func (c *Controller) classify(pc *pendingCommand, node *NodeHandle, err error) {
	pc.ttl--
	if pc.ttl <= 0 {
		pc.future <- result{err: &redirectionExhaustedError{last: err}}
		return
	}

	re, isRedisErr := err.(redis.Error)
	if isRedisErr {
		if ri := parseRedirInfo(re); ri != nil {
			switch ri.kind {
			case "MOVED":
				c.slotMap.SetPrimary(ri.slot, ri.addr)
				if ep, perr := ParseEndpoint(ri.addr); perr == nil {
					c.pool.findOrCreate(ep)
				}
				log.Debug().Int("slot", ri.slot).Str("addr", ri.addr).Msg("MOVED redirect")
				c.refresher.refresh(nil)
				pc.random = false
				pc.askingKey = ""
				c.tryConnection(pc)
				return
			case "ASK":
				log.Debug().Int("slot", ri.slot).Str("addr", ri.addr).Msg("ASK redirect")
				pc.askingKey = ri.addr
				c.tryConnection(pc)
				return
			}
		}
		if strings.HasPrefix(re.Error(), "CLUSTERDOWN") && c.opts.RetryDelayOnClusterDown > 0 {
			c.clusterDownQ.push(func() {
				pc.random = true
				c.tryConnection(pc)
			})
			return
		}
	}

	if err.Error() == ErrConnectionClosed.Error() && c.opts.RetryDelayOnFailover > 0 {
		c.failoverQ.push(func() {
			pc.random = true
			c.tryConnection(pc)
		})
		return
	}

	pc.future <- result{err: err}
}

// redirInfo is the parsed form of a MOVED/ASK reply (spec §6, Wire
// dependency: "parsed by splitting on ASCII space into [kind, slot,
// host:port]").
type redirInfo struct {
	kind string
	slot int
	addr string
}

func parseRedirInfo(e redis.Error) *redirInfo {
	parts := strings.Fields(e.Error())
	if len(parts) != 3 || (parts[0] != "MOVED" && parts[0] != "ASK") {
		return nil
	}
	slot, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil
	}
	return &redirInfo{kind: parts[0], slot: slot, addr: parts[2]}
}
