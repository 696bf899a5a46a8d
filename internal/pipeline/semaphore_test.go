package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreBounds(t *testing.T) {
	sem := NewSemaphore(2)

	assert.True(t, sem.TryAcquire())
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire(), "third slot must not exist")
	assert.Equal(t, 2, sem.InFlight())

	sem.Release()
	assert.Equal(t, 1, sem.InFlight())
	assert.True(t, sem.TryAcquire())
}

func TestSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	sem := NewSemaphore(1)
	require.True(t, sem.TryAcquire())

	acquired := make(chan error, 1)
	go func() {
		acquired <- sem.Acquire(context.Background())
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while the slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	sem.Release()
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not observe the released slot")
	}
}

func TestSemaphoreAcquireRespectsContext(t *testing.T) {
	sem := NewSemaphore(1)
	require.True(t, sem.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreOverReleasePanics(t *testing.T) {
	sem := NewSemaphore(1)
	assert.Panics(t, func() { sem.Release() })
}

func TestSemaphoreMinimumOneSlot(t *testing.T) {
	sem := NewSemaphore(0)
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire())
}
