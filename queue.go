package realtime

import (
	"time"

	"github.com/google/uuid"
)

// queuedMessage is an encoded envelope waiting for the transport.
type queuedMessage struct {
	ID         string
	Event      string
	Frame      []byte
	EnqueuedAt time.Time
	Attempts   int
	// Liveness frames (ping/pong) are never retried.
	Liveness bool
}

// outboundQueue is a FIFO of messages awaiting transmission. It is not
// safe for concurrent use; the Client guards it with its own mutex.
type outboundQueue struct {
	items      []*queuedMessage
	limit      int
	overflow   OverflowPolicy
	maxRetries int
}

func newOutboundQueue(cfg Config) *outboundQueue {
	return &outboundQueue{
		limit:      cfg.QueueLimit,
		overflow:   cfg.QueueOverflow,
		maxRetries: cfg.MaxRedeliveries,
	}
}

func newQueuedMessage(event string, frame []byte, now time.Time) *queuedMessage {
	return &queuedMessage{
		ID:         uuid.NewString(),
		Event:      event,
		Frame:      frame,
		EnqueuedAt: now,
		Liveness:   isLiveness(event),
	}
}

// push appends msg at the tail. When the queue is bounded and full, it
// either evicts the head (returned as dropped) or rejects msg with
// ErrQueueFull, according to the overflow policy.
func (q *outboundQueue) push(msg *queuedMessage) (dropped *queuedMessage, err error) {
	if q.limit > 0 && len(q.items) >= q.limit {
		if q.overflow == OverflowRejectNew {
			return nil, ErrQueueFull
		}
		dropped = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, msg)
	return dropped, nil
}

// pushFront returns msg to the head without counting an attempt.
func (q *outboundQueue) pushFront(msg *queuedMessage) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = msg
}

// pop removes and returns the head.
func (q *outboundQueue) pop() (*queuedMessage, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, true
}

// requeue records a failed write and puts msg back at the tail. It
// reports false when msg is out of attempts and must be dropped.
func (q *outboundQueue) requeue(msg *queuedMessage) bool {
	msg.Attempts++
	if msg.Liveness || msg.Attempts >= q.maxRetries {
		return false
	}
	q.items = append(q.items, msg)
	return true
}

// dropLiveness removes queued ping and pong frames. They belong to the
// connection that queued them.
func (q *outboundQueue) dropLiveness() {
	kept := q.items[:0]
	for _, m := range q.items {
		if !m.Liveness {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}

func (q *outboundQueue) len() int { return len(q.items) }

// clear discards every message without delivery and returns how many
// were dropped.
func (q *outboundQueue) clear() int {
	n := len(q.items)
	q.items = nil
	return n
}
