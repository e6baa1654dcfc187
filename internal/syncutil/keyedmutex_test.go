package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var m KeyedMutex
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("ord_1")
			defer unlock()
			v := counter
			time.Sleep(100 * time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_LockContextCancelled(t *testing.T) {
	var m KeyedMutex
	unlock := m.Lock("ord_1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := m.LockContext(ctx, "ord_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, got)

	unlock()
	got, err = m.LockContext(context.Background(), "ord_1")
	require.NoError(t, err)
	got()
}

func TestKeyedMutex_WaiterAcquiresAfterUnlock(t *testing.T) {
	var m KeyedMutex
	unlock := m.Lock("ord_1")

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(context.Background(), "ord_1")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
