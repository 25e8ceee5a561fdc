// Package closuresignaler provides a one-shot signal that a resource was
// closed, optionally carrying the error that caused the closure.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avbackground/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
	err       error
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

func (c *ClosureSignaler) Close(ctx context.Context) bool {
	return c.CloseWithError(ctx, nil)
}

// CloseWithError closes the signal and records err as the cause. Only the
// first call has an effect; it returns true if this call closed the signal.
func (c *ClosureSignaler) CloseWithError(ctx context.Context, err error) bool {
	logger.Debugf(ctx, "CloseWithError: %v", err)
	closed := false
	c.closeOnce.Do(func() {
		c.err = err
		close(c.c)
		closed = true
	})
	return closed
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}

// Err returns the cause passed to CloseWithError, or nil if the signal is
// still open or was closed without an error.
func (c *ClosureSignaler) Err() error {
	if !c.IsClosed() {
		return nil
	}
	return c.err
}
