// Package channel provides the duplex, message-ordered link between a
// session supervisor and its worker.
//
// One side polls without blocking, the other sends and may block while the
// peer's queue is full. Nothing is shared across the link: envelopes are
// copied in memory or serialized over a byte stream.
package channel

import (
	"errors"
	"sync"

	"grimm.is/humangym/internal/protocol"
)

// DefaultCapacity bounds each direction's queue.
const DefaultCapacity = 1024

// ErrClosed is returned once the peer end has gone away and no queued
// messages remain.
var ErrClosed = errors.New("channel closed")

// Conn is one end of a duplex channel.
type Conn interface {
	// Send queues env for the peer, blocking while the peer's queue is full.
	Send(env protocol.Envelope) error
	// Poll returns the oldest pending envelope without blocking.
	// ok is false when nothing is queued.
	Poll() (env protocol.Envelope, ok bool, err error)
	// Close closes both directions. Queued messages remain pollable by the peer.
	Close() error
}

// queue is a bounded FIFO of envelopes.
type queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []protocol.Envelope
	capacity int
	closed   bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &queue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(env protocol.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, env)
	return nil
}

func (q *queue) pop() (protocol.Envelope, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		env := q.items[0]
		q.items[0] = protocol.Envelope{}
		q.items = q.items[1:]
		q.notFull.Broadcast()
		return env, true, nil
	}
	if q.closed {
		return protocol.Envelope{}, false, ErrClosed
	}
	return protocol.Envelope{}, false, nil
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
}

// Endpoint is one end of an in-memory pair.
type Endpoint struct {
	in  *queue
	out *queue
}

// Pair returns two connected in-memory endpoints.
func Pair(capacity int) (*Endpoint, *Endpoint) {
	ab := newQueue(capacity)
	ba := newQueue(capacity)
	return &Endpoint{in: ba, out: ab}, &Endpoint{in: ab, out: ba}
}

// Send copies env into the peer's queue.
func (e *Endpoint) Send(env protocol.Envelope) error {
	return e.out.push(env.Clone())
}

// Poll implements Conn.
func (e *Endpoint) Poll() (protocol.Envelope, bool, error) {
	return e.in.pop()
}

// Close implements Conn.
func (e *Endpoint) Close() error {
	e.in.close()
	e.out.close()
	return nil
}
