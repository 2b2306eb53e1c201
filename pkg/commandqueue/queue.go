package commandqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyCallID is returned by Enqueue when no call ID is given.
var ErrEmptyCallID = errors.New("call id is required")

// Kind tags the side effect a Command asks the browser to perform.
type Kind string

const (
	KindNavigate      Kind = "NAVIGATE"
	KindPrefillForm   Kind = "PREFILL_FORM"
	KindUpdateCart    Kind = "UPDATE_CART"
	KindUpdateSession Kind = "UPDATE_SESSION"
)

// Command is one side effect queued for the browser client of a call.
type Command struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// MarshalJSON also emits the kind as "type", the field the browser widget reads.
func (c Command) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID        string      `json:"id"`
		Kind      Kind        `json:"kind"`
		Type      Kind        `json:"type"`
		Payload   interface{} `json:"payload"`
		CreatedAt time.Time   `json:"created_at"`
	}
	return json.Marshal(wire{
		ID:        c.ID,
		Kind:      c.Kind,
		Type:      c.Kind,
		Payload:   c.Payload,
		CreatedAt: c.CreatedAt,
	})
}

// callState holds the pending commands of a single call.
type callState struct {
	commands     []Command
	lastEnqueued time.Time
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Calls    int   `json:"calls"`
	Pending  int   `json:"pending"`
	Enqueued int64 `json:"enqueued"`
	Drained  int64 `json:"drained"`
	Evicted  int64 `json:"evicted"`
}

// CommandQueue buffers commands per call ID until the call's poller drains them.
type CommandQueue struct {
	mu    sync.Mutex
	calls map[string]*callState

	pending  int
	enqueued int64
	drained  int64
	evicted  int64

	now func() time.Time
}

// New creates an empty CommandQueue.
func New() *CommandQueue {
	observability.EnsureRegistered()

	return &CommandQueue{
		calls: make(map[string]*callState),
		now:   time.Now,
	}
}

// Enqueue appends cmd to the sequence for callID, creating it on first use.
// A zero ID or CreatedAt is filled in; the stored command is returned.
func (cq *CommandQueue) Enqueue(ctx context.Context, callID string, cmd Command) (Command, error) {
	if callID == "" {
		return Command{}, ErrEmptyCallID
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"commandqueue.enqueue",
		attribute.String("call_id", callID),
		attribute.String("kind", string(cmd.Kind)),
	)
	defer span.End()

	if cmd.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Command{}, fmt.Errorf("generate command id: %w", err)
		}
		cmd.ID = "cmd_" + id
	}

	cq.mu.Lock()
	now := cq.now()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cs, exists := cq.calls[callID]
	if !exists {
		cs = &callState{}
		cq.calls[callID] = cs
	}
	cs.commands = append(cs.commands, cmd)
	cs.lastEnqueued = now
	cq.pending++
	cq.enqueued++
	queueSize := len(cs.commands)
	calls, pending := len(cq.calls), cq.pending
	cq.mu.Unlock()

	logger := tracing.LoggerFromContext(tracing.WithCallID(ctx, callID), log.Logger)
	logger.Debug().
		Str("commandId", cmd.ID).
		Str("kind", string(cmd.Kind)).
		Int("queueSize", queueSize).
		Msg("Command enqueued")

	observability.RecordEnqueue(string(cmd.Kind), calls, pending)

	return cmd, nil
}

// Drain returns every command queued for callID since the last drain, in
// enqueue order, and empties the sequence in the same critical section.
// An unknown call ID yields an empty slice.
func (cq *CommandQueue) Drain(ctx context.Context, callID string) []Command {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := tracing.StartSpan(
		ctx,
		"commandqueue.drain",
		attribute.String("call_id", callID),
	)
	defer span.End()

	cq.mu.Lock()
	cs, exists := cq.calls[callID]
	if !exists {
		cq.mu.Unlock()
		return []Command{}
	}
	batch := cs.commands
	delete(cq.calls, callID)
	cq.pending -= len(batch)
	cq.drained += int64(len(batch))
	calls, pending := len(cq.calls), cq.pending
	cq.mu.Unlock()

	span.SetAttributes(attribute.Int("count", len(batch)))

	if len(batch) > 0 {
		logger := tracing.LoggerFromContext(tracing.WithCallID(ctx, callID), log.Logger)
		logger.Debug().Int("count", len(batch)).Msg("Commands drained")
	}

	observability.RecordDrain(len(batch), calls, pending)

	return batch
}

// Pending returns how many commands are waiting for callID.
func (cq *CommandQueue) Pending(callID string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cs, exists := cq.calls[callID]
	if !exists {
		return 0
	}
	return len(cs.commands)
}

// Stats returns counters for the whole queue.
func (cq *CommandQueue) Stats() Stats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return Stats{
		Calls:    len(cq.calls),
		Pending:  cq.pending,
		Enqueued: cq.enqueued,
		Drained:  cq.drained,
		Evicted:  cq.evicted,
	}
}

// EvictStale drops the sequences of calls that have not seen an enqueue for
// longer than maxAge and returns how many commands were discarded.
func (cq *CommandQueue) EvictStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cq.mu.Lock()
	cutoff := cq.now().Add(-maxAge)
	dropped := 0
	evictedCalls := make([]string, 0)
	for callID, cs := range cq.calls {
		if cs.lastEnqueued.Before(cutoff) {
			dropped += len(cs.commands)
			evictedCalls = append(evictedCalls, callID)
			delete(cq.calls, callID)
		}
	}
	cq.pending -= dropped
	cq.evicted += int64(dropped)
	calls, pending := len(cq.calls), cq.pending
	cq.mu.Unlock()

	if len(evictedCalls) > 0 {
		log.Info().
			Strs("callIds", evictedCalls).
			Int("commands", dropped).
			Dur("maxAge", maxAge).
			Msg("Evicted stale call queues")
		observability.RecordEviction(dropped, calls, pending)
	}

	return dropped
}
