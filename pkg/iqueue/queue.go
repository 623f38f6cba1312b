// Package iqueue is an unbounded FIFO between a sender and a single receiver.
package iqueue

import (
	"container/list"
	"sync/atomic"
)

func New() *Queue {
	return &Queue{
		queue: list.New(),
		send:  make(chan interface{}, 1),
		recv:  make(chan interface{}, 1),
	}
}

// Queue buffers values sent through Send until the receiver reads them from
// Receive. Loop must be running for values to move.
type Queue struct {
	queue  *list.List
	send   chan interface{}
	recv   chan interface{}
	length int64
}

// Send enqueues v. It must not be called after Close.
func (iq *Queue) Send(v interface{}) {
	atomic.AddInt64(&iq.length, 1)
	iq.send <- v
}

func (iq *Queue) Receive() <-chan interface{} {
	return iq.recv
}

// Len is the number of values sent but not yet received.
func (iq *Queue) Len() int {
	return int(atomic.LoadInt64(&iq.length))
}

// Close stops accepting values. Values already sent are still delivered,
// after which the receive channel is closed.
func (iq *Queue) Close() {
	close(iq.send)
}

func (iq *Queue) Loop() {
	send := iq.send
	for {
		front := iq.queue.Front()
		if front == nil {
			if send == nil {
				close(iq.recv)
				return
			}
			value, ok := <-send
			if !ok {
				close(iq.recv)
				return
			}
			iq.queue.PushBack(value)
			continue
		}

		select {
		case iq.recv <- front.Value:
			iq.queue.Remove(front)
			atomic.AddInt64(&iq.length, -1)
		case value, ok := <-send:
			if ok {
				iq.queue.PushBack(value)
			} else {
				send = nil
			}
		}
	}
}
