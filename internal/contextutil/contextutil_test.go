package contextutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeoutNilParent(t *testing.T) {
	ctx, cancel := WithTimeout(nil, 0)
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("expected no deadline")
	}
	cancel()
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", ctx.Err())
	}
}

func TestWithTimeoutSetsDeadline(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("expected deadline")
	}
}
