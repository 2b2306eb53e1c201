package commandqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

// SweeperOptions configures stale-call eviction.
type SweeperOptions struct {
	// TTL is how long a call may go without an enqueue before its pending
	// commands are dropped.
	TTL time.Duration
	// Schedule is a cron expression or descriptor such as "@every 1m".
	Schedule string
	// Also lists other per-call stores swept with the same TTL.
	Also []Evictor
}

// Evictor drops per-call state idle for longer than maxAge.
type Evictor interface {
	EvictStale(maxAge time.Duration) int
}

// Sweeper periodically evicts call sequences that nobody drained.
type Sweeper struct {
	queue   *CommandQueue
	also    []Evictor
	ttl     time.Duration
	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
}

// NewSweeper validates the schedule and prepares a sweeper for queue.
func NewSweeper(queue *CommandQueue, opts SweeperOptions) (*Sweeper, error) {
	if queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		queue: queue,
		also:  opts.Also,
		ttl:   opts.TTL,
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}

	id, err := s.cron.AddFunc(opts.Schedule, s.Sweep)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", opts.Schedule, err)
	}
	s.entryID = id

	return s, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()

	log.Info().
		Dur("ttl", s.ttl).
		Time("nextRun", s.cron.Entry(s.entryID).Next).
		Msg("Command queue sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Sweep runs one eviction pass immediately.
func (s *Sweeper) Sweep() {
	n := s.queue.EvictStale(s.ttl)
	for _, e := range s.also {
		n += e.EvictStale(s.ttl)
	}
	if n > 0 {
		log.Debug().Int("evicted", n).Msg("Sweep completed")
	}
}
