package platform

import (
	"context"
	"testing"
	"time"
)

func TestNewShutdownContext_ParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	shutdownCtx, stop := NewShutdownContext(parent)
	defer stop()

	cancelParent()

	select {
	case <-shutdownCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown context was not canceled with its parent")
	}
}
