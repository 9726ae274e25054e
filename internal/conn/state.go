package conn

import (
	"context"
	"sync"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// stateCell is an observable connection state with change notification.
type stateCell struct {
	mu      sync.Mutex
	state   State
	ever    bool
	changed chan struct{}
}

func newStateCell() *stateCell {
	return &stateCell{changed: make(chan struct{})}
}

func (c *stateCell) Set(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == next {
		return
	}
	c.state = next
	if next == Connected {
		c.ever = true
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *stateCell) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EverConnected reports whether the cell has reached Connected at least once.
func (c *stateCell) EverConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ever
}

// Wait blocks until the cell holds want or ctx ends.
func (c *stateCell) Wait(ctx context.Context, want State) error {
	for {
		c.mu.Lock()
		if c.state == want {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
