package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/warden-keeper/internal/account"
)

func TestDrainDispatchesByKind(t *testing.T) {
	b := New()
	var logs []string
	var statuses []StatusUpdate
	require.NoError(t, b.Subscribe(KindLog, func(e Event) { logs = append(logs, e.(Log).Text) }))
	require.NoError(t, b.Subscribe(KindStatus, func(e Event) { statuses = append(statuses, e.(StatusUpdate)) }))

	b.Logf("hello %d", 1)
	b.Publish(StatusUpdate{Index: 2, Status: account.Success})
	b.Publish(TaskComplete{Index: 2})
	b.Publish(nil)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Drain())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"hello 1"}, logs)
	assert.Equal(t, []StatusUpdate{{Index: 2, Status: account.Success}}, statuses)
	assert.Equal(t, 0, b.Drain())
}

func TestPerProducerOrderPreserved(t *testing.T) {
	const producers, perProducer = 16, 500
	b := New()
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	var violations int
	var total int
	require.NoError(t, b.Subscribe(KindStatus, func(e Event) {
		su := e.(StatusUpdate)
		p, seq := su.Index/perProducer, su.Index%perProducer
		if seq <= last[p] {
			violations++
		}
		last[p] = seq
		total++
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, time.Millisecond)
		close(done)
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Publish(StatusUpdate{Index: p*perProducer + i})
			}
		}(p)
	}
	wg.Wait()
	cancel()
	<-done

	assert.Equal(t, producers*perProducer, total)
	assert.Zero(t, violations)
}

func TestEventsPublishedDuringDrainWaitForNextDrain(t *testing.T) {
	b := New()
	var seen []string
	require.NoError(t, b.Subscribe(KindTaskComplete, func(e Event) {
		seen = append(seen, "complete")
		b.Logf("all done")
	}))
	require.NoError(t, b.Subscribe(KindLog, func(e Event) { seen = append(seen, e.(Log).Text) }))

	b.Publish(TaskComplete{})
	assert.Equal(t, 1, b.Drain())
	assert.Equal(t, []string{"complete"}, seen)
	assert.Equal(t, 1, b.Drain())
	assert.Equal(t, []string{"complete", "all done"}, seen)
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := New()
	var errs []Log
	require.NoError(t, b.Subscribe(KindCredentialsReloaded, func(e Event) { panic("boom") }))
	require.NoError(t, b.Subscribe(KindLog, func(e Event) { errs = append(errs, e.(Log)) }))

	b.Publish(CredentialsReloaded{Count: 1})
	b.Publish(CredentialsReloaded{Count: 2})
	assert.NotPanics(t, func() { b.Drain() })
	b.Drain()

	require.Len(t, errs, 2)
	assert.Equal(t, slog.LevelError, errs[0].Level)
	assert.Contains(t, errs[0].Text, "boom")
}

func TestRunDrainsOnInterval(t *testing.T) {
	b := New()
	var n int32
	require.NoError(t, b.Subscribe(KindLog, func(e Event) { atomic.AddInt32(&n, 1) }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		b.Logf("line %d", i)
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 5 }, time.Second, 5*time.Millisecond)
}

func TestKinds(t *testing.T) {
	kinds := map[Kind]bool{}
	for _, e := range []Event{Log{}, StatusUpdate{}, TaskComplete{}, CredentialsReloaded{}, AccountsRefreshed{}} {
		kinds[e.Kind()] = true
	}
	assert.Len(t, kinds, 5, fmt.Sprint(kinds))
}
