package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchCoordinator(t *testing.T) {
	stopped := make(chan struct{})
	close(stopped)

	tests := []struct {
		name     string
		shutdown bool
		done     <-chan struct{}
		wantErr  error
	}{
		{"stops while serving", false, stopped, errCoordinatorStopped},
		{"stops during shutdown", true, stopped, nil},
		{"shutdown while consuming", true, make(chan struct{}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.shutdown {
				cancel()
			}
			// Both channels may be ready at once; the outcome must not depend on
			// which one select picks.
			for i := 0; i < 100; i++ {
				require.Equal(t, tt.wantErr, watchCoordinator(ctx, tt.done))
			}
		})
	}
}

func TestWatchCoordinator_WaitsWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- watchCoordinator(ctx, make(chan struct{})) }()

	select {
	case <-result:
		require.FailNow(t, "returned while the coordinator was running")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	require.NoError(t, <-result)
}
