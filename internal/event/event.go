// Package event implements the tagged message and intrusive FIFO queue that
// feeds a worker from producer threads (spec §3 "Event", §4.4). A queue is
// protected by a mutex and signalled with a condition variable, the pattern
// shown throughout the pack's worker-pool examples (other_examples'
// workerpool.go / runner.go) generalized to the fixed event shape the
// dispatcher requires.
package event

import "sync"

// Flags control queue-exit behavior for one event.
type Flags uint8

const (
	// Free tells the worker to drop the event once handled (no further
	// reference is retained by the producer).
	Free Flags = 1 << iota
	// Wait tells the worker to post Done once handled; the producer
	// blocks on Done until then.
	Wait
	// Callback routes the event through Event.Callback instead of the
	// endpoint table.
	Callback
)

// CallbackEPID is the reserved endpoint slot for Callback-flagged events;
// Worker never dereferences endpoints[CallbackEPID].
const CallbackEPID = ^uint32(0)

// Event is one message travelling from a producer thread to the worker that
// owns the target endpoint.
type Event struct {
	Type   uint32
	Flags  Flags
	Option uint32
	Arg    [4]uint64
	EPID   uint32

	Callback func(*Event) error

	// Done is signalled by the worker once the event has been handled,
	// when Flags&Wait != 0. Producers read Err after Done closes.
	Done chan struct{}
	Err  error

	next *Event
}

// NewWait allocates an event that its producer will block on until handled.
func NewWait(epid, typ uint32) *Event {
	return &Event{EPID: epid, Type: typ, Flags: Wait, Done: make(chan struct{})}
}

// NewFree allocates a fire-and-forget event the worker discards after
// handling.
func NewFree(epid, typ uint32) *Event {
	return &Event{EPID: epid, Type: typ, Flags: Free}
}

// Queue is an intrusive, mutex+condvar-protected FIFO of events.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	head   *Event
	tail   *Event
	closed bool
}

// NewQueue returns an empty, open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues ev at the tail. Events from the same producer goroutine are
// delivered in the order Push is called (spec §4.4 "Ordering").
func (q *Queue) Push(ev *Event) {
	q.mu.Lock()
	ev.next = nil
	if q.tail == nil {
		q.head, q.tail = ev, ev
	} else {
		q.tail.next = ev
		q.tail = ev
	}
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *Queue) popLocked() *Event {
	if q.head == nil {
		return nil
	}
	ev := q.head
	q.head = ev.next
	if q.head == nil {
		q.tail = nil
	}
	ev.next = nil
	return ev
}

// DrainNonBlocking pops every currently queued event without blocking, used
// by the worker loop while the engine is runnable (spec §4.4 step 1).
func (q *Queue) DrainNonBlocking() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Event
	for {
		ev := q.popLocked()
		if ev == nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// WaitOne blocks until an event is available or the queue is closed, then
// pops and returns it (nil if closed with nothing queued).
func (q *Queue) WaitOne() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

// Close wakes any blocked waiter; DrainRemaining can then be used to flush
// and release queued-but-undispatched events (spec §4.4 "Cancellation").
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// DrainRemaining pops and returns every event left in the queue, used after
// Close to release blocked Wait producers without dispatching their event.
func (q *Queue) DrainRemaining() []*Event {
	return q.DrainNonBlocking()
}

// Finish completes ev: posts Err and, if Wait is set, closes Done so the
// producer unblocks; if Free is set the event is otherwise left for GC.
func Finish(ev *Event, err error) {
	ev.Err = err
	if ev.Flags&Wait != 0 {
		close(ev.Done)
	}
}
