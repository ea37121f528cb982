package contextutil

import (
	"context"
	"time"
)

// WithTimeout wraps parent with a timeout. A non-positive d returns a cancelable
// context without a deadline.
//
// A nil parent is treated as context.Background().
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
