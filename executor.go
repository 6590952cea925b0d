package rediscluster

// executor is the single logical thread every state mutation and
// event emission runs on (spec §5, "single-threaded cooperative"
// scheduling model). Go has no native cooperative runtime, so this is
// its idiomatic rendering: one consumer goroutine draining a task
// queue. Submitting a task blocks the caller only while the queue
// already holds 256 pending tasks; once the executor has stopped,
// submit returns without blocking and the task may never run.
type executor struct {
	tasks chan func()
	done  chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			e.drain()
			return
		}
	}
}

// drain runs any tasks still queued at shutdown so deferred event
// emissions (e.g. the final "end" status) are not lost.
func (e *executor) drain() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		default:
			return
		}
	}
}

// submit enqueues fn to run strictly after whatever the executor is
// currently running, preserving submission order. Safe to call from
// the executor's own goroutine (used for deferred "next tick"
// delivery, spec §9) or from any other goroutine.
func (e *executor) submit(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

func (e *executor) stop() {
	close(e.done)
}
