package handoff

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type slot struct {
	ready     chan struct{}
	payload   Payload
	delivered bool
	claimed   bool
	consumed  bool
}

// Channel is the handoff channel of a single launch. It is never reused.
type Channel struct {
	launchID string
	capacity int

	mu     sync.Mutex
	slots  map[int]*slot
	sent   int
	closed bool
	done   chan struct{}
}

// NewChannel creates a channel accepting up to capacity payloads for launchID.
func NewChannel(launchID string, capacity int) *Channel {
	return &Channel{
		launchID: launchID,
		capacity: capacity,
		slots:    make(map[int]*slot),
		done:     make(chan struct{}),
	}
}

// LaunchID returns the launch this channel belongs to.
func (c *Channel) LaunchID() string {
	return c.launchID
}

func (c *Channel) slotLocked(ordinal int) *slot {
	s, ok := c.slots[ordinal]
	if !ok {
		s = &slot{ready: make(chan struct{})}
		c.slots[ordinal] = s
	}
	return s
}

// Send enqueues p in its ordinal's slot. It never blocks.
func (c *Channel) Send(p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if p.LaunchID != c.launchID {
		return fmt.Errorf("%w: %q", ErrForeignLaunch, p.LaunchID)
	}
	ordinal := p.Ordinal()
	if ordinal < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOrdinal, ordinal)
	}
	if c.sent >= c.capacity {
		return ErrChannelFull
	}

	s := c.slotLocked(ordinal)
	if s.delivered {
		return fmt.Errorf("%w: %d", ErrDuplicateOrdinal, ordinal)
	}
	s.payload = p
	s.delivered = true
	close(s.ready)
	c.sent++
	return nil
}

// Receive blocks until the payload for ordinal is available and takes it.
// Each payload is handed out exactly once.
func (c *Channel) Receive(ctx context.Context, ordinal int) (Payload, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Payload{}, ErrClosed
	}
	s := c.slotLocked(ordinal)
	if s.claimed || s.consumed {
		c.mu.Unlock()
		return Payload{}, fmt.Errorf("%w: ordinal %d", ErrAlreadyClaimed, ordinal)
	}
	s.claimed = true
	c.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		c.mu.Lock()
		s.claimed = false
		c.mu.Unlock()
		return Payload{}, &TimeoutError{LaunchID: c.launchID, Ordinal: ordinal, Cause: ctx.Err()}
	case <-c.done:
		return Payload{}, ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s.consumed = true
	return s.payload, nil
}

// Pending returns the ordinals sent but not yet consumed.
func (c *Channel) Pending() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Channel) pendingLocked() []int {
	var pending []int
	for ordinal, s := range c.slots {
		if s.delivered && !s.consumed {
			pending = append(pending, ordinal)
		}
	}
	sort.Ints(pending)
	return pending
}

// Close shuts the channel and returns the ordinals whose payload was never consumed.
func (c *Channel) Close() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.pendingLocked()
	}
	c.closed = true
	close(c.done)
	return c.pendingLocked()
}
