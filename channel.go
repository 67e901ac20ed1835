package multipipes

import (
	"time"

	"golang.org/x/xerrors"
)

// ErrEmpty is returned by Get/GetNoWait when no item became available within
// the requested window.
var ErrEmpty = xerrors.New("multipipes: channel empty")

// ErrFull is returned by Put/PutNoWait when no slot became free within the
// requested window.
var ErrFull = xerrors.New("multipipes: channel full")

// Channel is a bounded, multi-producer, multi-consumer FIFO carrying opaque
// items and PoisonPill sentinels. A zero max size makes the Channel
// unbounded: Put never blocks a producer against a saturated downstream.
//
// Closing is deliberately not part of this type's surface: end-of-stream is
// signalled in-band by PoisonPill values flowing through the same queue the
// items do, exactly as ordinary items do.
type Channel struct {
	maxSize int

	// bounded case: a native channel IS the queue, capacity maxSize.
	bounded chan interface{}

	// unbounded case: an internal pump goroutine bridges an unbounded slice
	// backed queue between in/out native channels, since Go channels always
	// have a fixed capacity.
	in   chan interface{}
	out  chan interface{}
	done chan struct{}
}

// NewChannel returns a Channel bounded to maxSize items. A maxSize of zero
// creates an unbounded Channel.
func NewChannel(maxSize int) *Channel {
	if maxSize < 0 {
		panic("multipipes: negative channel size")
	}

	ch := &Channel{maxSize: maxSize}
	if maxSize > 0 {
		ch.bounded = make(chan interface{}, maxSize)
		return ch
	}

	ch.in = make(chan interface{})
	ch.out = make(chan interface{})
	ch.done = make(chan struct{})
	go ch.pump()
	return ch
}

// pump backs the unbounded case: it buffers everything Put sends on in into
// an internal slice and replays it to out in order, so Put never blocks.
func (c *Channel) pump() {
	var queue []interface{}
	for {
		if len(queue) == 0 {
			select {
			case item, ok := <-c.in:
				if !ok {
					close(c.out)
					return
				}
				queue = append(queue, item)
			case <-c.done:
				close(c.out)
				return
			}
			continue
		}

		select {
		case item, ok := <-c.in:
			if !ok {
				close(c.out)
				return
			}
			queue = append(queue, item)
		case c.out <- queue[0]:
			queue = queue[1:]
		case <-c.done:
			close(c.out)
			return
		}
	}
}

// Put enqueues item, blocking until a slot is available. A zero timeout
// blocks indefinitely; a positive timeout returns ErrFull if no slot frees
// up in time. Put on an unbounded Channel never blocks.
func (c *Channel) Put(item interface{}, timeout time.Duration) error {
	if c.maxSize == 0 {
		c.in <- item
		return nil
	}

	if timeout <= 0 {
		c.bounded <- item
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.bounded <- item:
		return nil
	case <-timer.C:
		return ErrFull
	}
}

// PutNoWait enqueues item only if a slot is immediately available.
func (c *Channel) PutNoWait(item interface{}) error {
	if c.maxSize == 0 {
		// Unbounded Channels never reject a Put; the pump goroutine is
		// always ready to accept on c.in.
		c.in <- item
		return nil
	}

	select {
	case c.bounded <- item:
		return nil
	default:
		return ErrFull
	}
}

// Get dequeues the next item, blocking until one is available. A zero
// timeout blocks indefinitely; a positive timeout returns ErrEmpty if
// nothing arrives in time.
func (c *Channel) Get(timeout time.Duration) (interface{}, error) {
	out := c.outCh()

	if timeout <= 0 {
		item, ok := <-out
		if !ok {
			return nil, ErrEmpty
		}
		return item, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item, ok := <-out:
		if !ok {
			return nil, ErrEmpty
		}
		return item, nil
	case <-timer.C:
		return nil, ErrEmpty
	}
}

// GetNoWait dequeues the next item only if one is immediately available.
func (c *Channel) GetNoWait() (interface{}, error) {
	select {
	case item, ok := <-c.outCh():
		if !ok {
			return nil, ErrEmpty
		}
		return item, nil
	default:
		return nil, ErrEmpty
	}
}

func (c *Channel) outCh() <-chan interface{} {
	if c.maxSize == 0 {
		return c.out
	}
	return c.bounded
}

// MaxSize returns the configured bound, or zero for an unbounded Channel.
func (c *Channel) MaxSize() int { return c.maxSize }
