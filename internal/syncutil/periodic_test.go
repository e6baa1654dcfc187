package syncutil

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func runAsync(p *Periodic, ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return done
}

func TestPeriodic_DisabledReturns(t *testing.T) {
	p := NewPeriodic("sweep", 0, discard(), func(context.Context) { t.Error("should not tick") })
	select {
	case <-runAsync(p, context.Background()):
	case <-time.After(time.Second):
		t.Fatal("disabled loop did not return")
	}
	assert.False(t, p.Enabled())
}

func TestPeriodic_TicksUntilStopped(t *testing.T) {
	var n atomic.Int32
	p := NewPeriodic("sweep", 2*time.Millisecond, discard(), func(context.Context) { n.Add(1) })
	done := runAsync(p, context.Background())

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, p.Running())

	p.Stop()
	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, p.Running())
}

func TestPeriodic_SurvivesPanic(t *testing.T) {
	var n atomic.Int32
	p := NewPeriodic("sweep", 2*time.Millisecond, discard(), func(context.Context) {
		if n.Add(1) == 1 {
			panic("boom")
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestPeriodic_StopBeforeRun(t *testing.T) {
	p := NewPeriodic("sweep", time.Hour, discard(), func(context.Context) {})
	p.Stop()
	select {
	case <-runAsync(p, context.Background()):
	case <-time.After(time.Second):
		t.Fatal("pre-stopped loop did not return")
	}
}
