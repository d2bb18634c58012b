package consensus

import (
	"sync"

	"github.com/ef-ds/deque"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

type MsgExecutor interface {
	Execute(base *HotStuffBase) error
}

type msgEvent struct {
	src types.ReplicaID
	msg *types.Message
}

func (m *msgEvent) Execute(base *HotStuffBase) error {
	return base.receiveMsg(m.msg, m.src)
}

type timeoutEvent struct {
	view types.View
}

func (t *timeoutEvent) Execute(base *HotStuffBase) error {
	return base.HotStuffCore.OnLocalTimeout(t.view)
}

type proposeEvent struct {
	view types.View
}

func (p *proposeEvent) Execute(base *HotStuffBase) error {
	return base.HotStuffCore.OnPropose(p.view)
}

// inbox is the unbounded FIFO queue feeding the consensus actor. Producers
// never block.
type inbox struct {
	mut    sync.Mutex
	queue  deque.Deque
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (in *inbox) push(e MsgExecutor) {
	in.mut.Lock()
	in.queue.PushBack(e)
	in.mut.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *inbox) pop() (MsgExecutor, bool) {
	in.mut.Lock()
	defer in.mut.Unlock()
	v, ok := in.queue.PopFront()
	if !ok {
		return nil, false
	}
	return v.(MsgExecutor), true
}

func (in *inbox) len() int {
	in.mut.Lock()
	defer in.mut.Unlock()
	return in.queue.Len()
}

// maxDrainBatch bounds how many messages one pool task verifies for a replica
// before yielding the worker to other replicas.
const maxDrainBatch = 64

// peerQueue holds the messages of one replica awaiting verification. At most
// one pool task drains it at a time, so a replica's messages reach the actor
// in the order they arrived.
type peerQueue struct {
	mut      sync.Mutex
	pending  deque.Deque
	draining bool
}

// add queues msg and reports whether the caller must schedule a drain.
func (q *peerQueue) add(msg *types.Message) bool {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.pending.PushBack(msg)
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

// next pops the oldest message. The drain ends when the queue is empty.
func (q *peerQueue) next() (*types.Message, bool) {
	q.mut.Lock()
	defer q.mut.Unlock()
	v, ok := q.pending.PopFront()
	if !ok {
		q.draining = false
		return nil, false
	}
	return v.(*types.Message), true
}
