package commandqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func navigate(page string) Command {
	return Command{Kind: KindNavigate, Payload: page}
}

func TestCommandQueue_DrainReturnsEnqueueOrder(t *testing.T) {
	cq := New()
	ctx := context.Background()

	for _, page := range []string{"/a", "/b", "/c"} {
		_, err := cq.Enqueue(ctx, "call-1", navigate(page))
		require.NoError(t, err)
	}

	batch := cq.Drain(ctx, "call-1")
	require.Len(t, batch, 3)
	assert.Equal(t, "/a", batch[0].Payload)
	assert.Equal(t, "/b", batch[1].Payload)
	assert.Equal(t, "/c", batch[2].Payload)

	assert.Empty(t, cq.Drain(ctx, "call-1"), "second drain should be empty")
}

func TestCommandQueue_DrainUnknownCall(t *testing.T) {
	cq := New()

	batch := cq.Drain(context.Background(), "never-seen")
	assert.NotNil(t, batch)
	assert.Empty(t, batch)
}

func TestCommandQueue_EnqueueRequiresCallID(t *testing.T) {
	cq := New()

	_, err := cq.Enqueue(context.Background(), "", navigate("/x"))
	assert.ErrorIs(t, err, ErrEmptyCallID)
	assert.Equal(t, 0, cq.Stats().Pending)
}

func TestCommandQueue_EnqueueFillsIdentity(t *testing.T) {
	cq := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cq.now = func() time.Time { return fixed }

	stored, err := cq.Enqueue(context.Background(), "call-1", navigate("/x"))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Contains(t, stored.ID, "cmd_")
	assert.Equal(t, fixed, stored.CreatedAt)

	preset := Command{ID: "given", Kind: KindUpdateSession, CreatedAt: fixed.Add(time.Hour)}
	stored, err = cq.Enqueue(context.Background(), "call-1", preset)
	require.NoError(t, err)
	assert.Equal(t, "given", stored.ID)
	assert.Equal(t, fixed.Add(time.Hour), stored.CreatedAt)
}

func TestCommandQueue_CallsAreIsolated(t *testing.T) {
	cq := New()
	ctx := context.Background()

	_, _ = cq.Enqueue(ctx, "call-a", navigate("/a"))
	_, _ = cq.Enqueue(ctx, "call-b", navigate("/b"))

	batch := cq.Drain(ctx, "call-a")
	require.Len(t, batch, 1)
	assert.Equal(t, "/a", batch[0].Payload)
	assert.Equal(t, 1, cq.Pending("call-b"))
}

func TestCommandQueue_ConcurrentEnqueueAndDrain(t *testing.T) {
	cq := New()
	ctx := context.Background()

	const producers = 8
	const perProducer = 200

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received []Command
		done     = make(chan struct{})
	)

	// Drainer runs alongside the producers.
	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			batch := cq.Drain(ctx, "shared")
			mu.Lock()
			received = append(received, batch...)
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := cq.Enqueue(ctx, "shared", Command{
					Kind:    KindUpdateSession,
					Payload: fmt.Sprintf("%d:%d", p, i),
				})
				assert.NoError(t, err)
			}
		}(p)
	}

	wg.Wait()
	close(done)
	<-drainerDone
	received = append(received, cq.Drain(ctx, "shared")...)

	require.Len(t, received, producers*perProducer, "no command lost or duplicated")

	seen := make(map[string]bool, len(received))
	next := make([]int, producers)
	for _, cmd := range received {
		key := cmd.Payload.(string)
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true

		var p, i int
		_, err := fmt.Sscanf(key, "%d:%d", &p, &i)
		require.NoError(t, err)
		assert.Equal(t, next[p], i, "producer %d out of order", p)
		next[p] = i + 1
	}

	stats := cq.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, int64(producers*perProducer), stats.Enqueued)
	assert.Equal(t, int64(producers*perProducer), stats.Drained)
}

func TestCommandQueue_ConcurrentDrainersNeverShare(t *testing.T) {
	cq := New()
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		_, err := cq.Enqueue(ctx, "call", Command{Kind: KindUpdateCart, Payload: i})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([][]Command, 4)
	for d := range results {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			results[d] = cq.Drain(ctx, "call")
		}(d)
	}
	wg.Wait()

	total := 0
	nonEmpty := 0
	for _, r := range results {
		total += len(r)
		if len(r) > 0 {
			nonEmpty++
		}
	}
	assert.Equal(t, 500, total)
	assert.Equal(t, 1, nonEmpty, "exactly one drainer should win the batch")
}

func TestCommandQueue_EvictStale(t *testing.T) {
	cq := New()
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cq.now = func() time.Time { return clock }

	_, _ = cq.Enqueue(ctx, "old", navigate("/old"))
	_, _ = cq.Enqueue(ctx, "old", navigate("/old2"))

	clock = clock.Add(20 * time.Minute)
	_, _ = cq.Enqueue(ctx, "fresh", navigate("/fresh"))

	clock = clock.Add(15 * time.Minute)
	dropped := cq.EvictStale(30 * time.Minute)

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 0, cq.Pending("old"))
	assert.Equal(t, 1, cq.Pending("fresh"))

	stats := cq.Stats()
	assert.Equal(t, 1, stats.Calls)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, int64(2), stats.Evicted)

	assert.Equal(t, 0, cq.EvictStale(0), "non-positive max age disables eviction")
}

func TestCommand_MarshalJSON(t *testing.T) {
	cmd := Command{
		ID:        "cmd_1",
		Kind:      KindPrefillForm,
		Payload:   map[string]interface{}{"email": "a@b.co"},
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "PREFILL_FORM", decoded["kind"])
	assert.Equal(t, "PREFILL_FORM", decoded["type"])
	assert.Equal(t, "2026-03-04T05:06:07Z", decoded["created_at"])
	assert.Equal(t, map[string]interface{}{"email": "a@b.co"}, decoded["payload"])
}
