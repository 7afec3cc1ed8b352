package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Receiver accepts a credential on behalf of the host. It is never called
// with an error value; delivery failures it returns are reported.
type Receiver func(ctx context.Context, credential string) error

// Channel is the single-slot handoff from the bridge to the host.
type Channel struct {
	mu       sync.RWMutex
	receiver Receiver
}

// NewChannel returns an unbound channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Bind installs fn as the receiver, replacing any previous one. Bind must
// return before a flow is triggered for that flow's credential to reach fn.
// Passing nil unbinds.
func (c *Channel) Bind(fn Receiver) {
	c.mu.Lock()
	c.receiver = fn
	c.mu.Unlock()
}

// Bound reports whether a receiver is installed.
func (c *Channel) Bound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receiver != nil
}

// Deliver hands credential to the bound receiver exactly once. The slot is
// read, never cleared.
func (c *Channel) Deliver(ctx context.Context, credential string) error {
	c.mu.RLock()
	fn := c.receiver
	c.mu.RUnlock()

	if fn == nil {
		return ErrReceiverUnbound
	}
	if err := fn(ctx, credential); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}
