package rediscluster

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"
)

// subscriberSelector dedicates one pool member as the pub/sub channel
// and re-subscribes its prior channels after a topology change (spec
// §4.G). Owned by the Controller's executor.
type subscriberSelector struct {
	ctrl    *Controller
	current *NodeHandle

	subscribed  map[string]bool
	psubscribed map[string]bool
}

func newSubscriberSelector(ctrl *Controller) *subscriberSelector {
	return &subscriberSelector{
		ctrl:        ctrl,
		subscribed:  make(map[string]bool),
		psubscribed: make(map[string]bool),
	}
}

// ensureSelected runs selectSubscriber the first time the cluster
// becomes ready (spec §4.G, "runs on initial connect").
func (s *subscriberSelector) ensureSelected() {
	if s.current != nil {
		return
	}
	s.selectSubscriber(nil)
}

// onNodeRemoved re-runs selection when the current subscriber leaves
// the pool (spec §4.G, "whenever the current subscriber is removed").
func (s *subscriberSelector) onNodeRemoved(h *NodeHandle) {
	if h == nil || s.current != h {
		return
	}
	s.current = nil
	s.selectSubscriber(nil)
}

// selectSubscriber picks a pool member and, once it is actually
// active (which may mean waiting on an async re-subscribe round
// trip), calls onReady with it -- or with nil if no node is available.
// onReady always runs on the executor. A nil onReady is fine for the
// fire-and-forget callers (ensureSelected, onNodeRemoved).
func (s *subscriberSelector) selectSubscriber(onReady func(*NodeHandle)) {
	all := s.ctrl.pool.nodes("all")
	if len(all) == 0 {
		if onReady != nil {
			onReady(nil)
		}
		return
	}
	node := all[rand.Intn(len(all))]

	subscribe := keysOf(s.subscribed)
	psubscribe := keysOf(s.psubscribed)

	if len(subscribe) > 0 || len(psubscribe) > 0 {
		go func() {
			ctx := context.Background()
			if len(subscribe) > 0 {
				if err := node.Client.Subscribe(ctx, subscribe...); err != nil {
					// Failure to re-subscribe is silently ignored by
					// design (spec §9): the subscriber stays selected.
					log.Debug().Err(err).Str("addr", node.key()).Msg("resubscribe failed")
				}
			}
			if len(psubscribe) > 0 {
				if err := node.Client.PSubscribe(ctx, psubscribe...); err != nil {
					log.Debug().Err(err).Str("addr", node.key()).Msg("repsubscribe failed")
				}
			}
			s.ctrl.ex.submit(func() {
				s.activate(node)
				if onReady != nil {
					onReady(node)
				}
			})
		}()
		return
	}

	if node.Client.Status() == StatusWait {
		go func() { _ = node.Client.Connect(context.Background()) }()
	}
	s.activate(node)
	if onReady != nil {
		onReady(node)
	}
}

func (s *subscriberSelector) activate(node *NodeHandle) {
	s.current = node
	go s.forward(node)
}

// forward re-emits message/pmessage pushes from node's NodeClient as
// Controller events with identical argument order (spec §4.G step 4).
func (s *subscriberSelector) forward(node *NodeHandle) {
	for msg := range node.Client.Messages() {
		m := msg
		s.ctrl.ex.submit(func() {
			if s.current != node {
				return
			}
			if m.PMessage {
				s.ctrl.emitter.Emit("pmessage", m.Pattern, m.Channel, m.Data)
				s.ctrl.emitter.Emit("pmessageBuffer", m.Pattern, m.Channel, m.Data)
				return
			}
			s.ctrl.emitter.Emit("message", m.Channel, m.Data)
			s.ctrl.emitter.Emit("messageBuffer", m.Channel, m.Data)
		})
	}
}

func (s *subscriberSelector) subscribe(channels []string, pattern bool, done chan error) {
	set := s.subscribed
	if pattern {
		set = s.psubscribed
	}
	for _, ch := range channels {
		set[ch] = true
	}

	if s.current != nil {
		node := s.current
		go func() {
			var err error
			if pattern {
				err = node.Client.PSubscribe(context.Background(), channels...)
			} else {
				err = node.Client.Subscribe(context.Background(), channels...)
			}
			done <- err
		}()
		return
	}

	// No subscriber selected yet: selectSubscriber's own async branch
	// subscribes every pending channel (including the ones just added
	// above), so there is nothing left to do once it reports back.
	s.selectSubscriber(func(node *NodeHandle) {
		if node == nil {
			done <- ErrNoStartupNodes
			return
		}
		done <- nil
	})
}

func (s *subscriberSelector) unsubscribe(channels []string, pattern bool, done chan error) {
	set := s.subscribed
	if pattern {
		set = s.psubscribed
	}
	for _, ch := range channels {
		delete(set, ch)
	}
	node := s.current
	if node == nil {
		done <- nil
		return
	}
	go func() {
		var err error
		if pattern {
			err = node.Client.PUnsubscribe(context.Background(), channels...)
		} else {
			err = node.Client.Unsubscribe(context.Background(), channels...)
		}
		done <- err
	}()
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Subscribe dedicates the subscriber connection to channels,
// re-subscribing automatically if the underlying node later changes
// (spec §4.G).
func (c *Controller) Subscribe(channels ...string) error {
	done := make(chan error, 1)
	c.ex.submit(func() { c.subscriber.subscribe(channels, false, done) })
	return <-done
}

// PSubscribe is the pattern-matching counterpart of Subscribe.
func (c *Controller) PSubscribe(patterns ...string) error {
	done := make(chan error, 1)
	c.ex.submit(func() { c.subscriber.subscribe(patterns, true, done) })
	return <-done
}

// Unsubscribe removes channels from the dedicated subscriber
// connection's subscription set.
func (c *Controller) Unsubscribe(channels ...string) error {
	done := make(chan error, 1)
	c.ex.submit(func() { c.subscriber.unsubscribe(channels, false, done) })
	return <-done
}

// PUnsubscribe is the pattern-matching counterpart of Unsubscribe.
func (c *Controller) PUnsubscribe(patterns ...string) error {
	done := make(chan error, 1)
	c.ex.submit(func() { c.subscriber.unsubscribe(patterns, true, done) })
	return <-done
}
