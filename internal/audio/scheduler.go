package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerState is the adaptive buffer state for one AI turn
type SchedulerState int

const (
	StateIdle      SchedulerState = iota // Queue empty, nothing pending
	StateBuffering                       // Fragments queued, batching in progress
	StateDraining                        // Turn complete, flushing residue
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// SchedulerConfig holds the adaptive buffering policy
type SchedulerConfig struct {
	MinBuffer int // Queue depth that triggers a merged flush
	MaxMerge  int // Max fragments merged into one playback call
	MinMerge  int // Below this depth, wait for more fragments
	ShortWait time.Duration // Wait when depth is between MinMerge and MinBuffer
	TailWait  time.Duration // Wait before flushing a short tail
	IdleWait  time.Duration // Sleep when the queue is empty
}

// DefaultSchedulerConfig returns the default buffering policy
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MinBuffer: 8,
		MaxMerge:  12,
		MinMerge:  4,
		ShortWait: 50 * time.Millisecond,
		TailWait:  100 * time.Millisecond,
		IdleWait:  10 * time.Millisecond,
	}
}

// Scheduler decouples arrival jitter of audio fragments from playback
// smoothness. Fragments are queued as they arrive; a worker inspects queue
// depth and hands merged batches to the player. Merging concatenates raw
// payloads in arrival order and never reorders or drops data.
type Scheduler struct {
	cfg        SchedulerConfig
	queue      *Queue
	player     *Player
	sampleRate int
	logger     zerolog.Logger

	mu          sync.Mutex
	state       SchedulerState
	finished    bool // Done event observed for this turn
	pendingTail bool // A tail wait has already elapsed once

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler feeding the given player. Start must be
// called to launch the worker.
func NewScheduler(player *Player, cfg SchedulerConfig, sampleRate int, logger zerolog.Logger) *Scheduler {
	if cfg.MinBuffer <= 0 {
		cfg = DefaultSchedulerConfig()
	}
	return &Scheduler{
		cfg:        cfg,
		queue:      NewQueue(),
		player:     player,
		sampleRate: sampleRate,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutine
func (s *Scheduler) Start() {
	go s.run()
}

// Enqueue adds a decoded fragment to the playback queue. A fragment
// arriving after Finish belongs to the next turn, so the completion flag
// is cleared and normal buffering resumes.
func (s *Scheduler) Enqueue(f *Fragment) {
	s.mu.Lock()
	s.finished = false
	s.state = StateBuffering
	s.mu.Unlock()
	s.queue.Push(f)
}

// EnqueueBase64 decodes a base64 PCM16 payload and queues it. A decode
// failure is returned so the caller can log and skip the fragment; it never
// affects fragments already queued.
func (s *Scheduler) EnqueueBase64(encoded string) error {
	f, err := DecodeBase64PCM(encoded, s.sampleRate)
	if err != nil {
		return err
	}
	s.Enqueue(f)
	return nil
}

// Finish signals that the turn's stream has completed. Residual queued
// fragments are flushed unconditionally on the next pass.
func (s *Scheduler) Finish() {
	s.mu.Lock()
	s.finished = true
	if s.queue.Len() > 0 {
		s.state = StateDraining
	}
	s.mu.Unlock()
}

// Stop cancels the turn: the queue is cleared, scheduled playback is
// stopped, and all per-turn state is reset so the next turn starts from
// idle. Safe to call more than once.
func (s *Scheduler) Stop() {
	discarded := s.queue.Clear()
	if discarded > 0 {
		s.logger.Debug().Int("fragments", discarded).Msg("Discarded buffered audio fragments")
	}
	s.player.StopAll()
	s.mu.Lock()
	s.state = StateIdle
	s.finished = false
	s.pendingTail = false
	s.mu.Unlock()
}

// Close stops the worker goroutine. The queue and player are left as-is;
// call Stop first for a full cancellation.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// State returns the current buffering state
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueDepth returns the number of fragments awaiting playback
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		wait := s.step()
		if wait <= 0 {
			// Flushed a batch; re-evaluate immediately but stay
			// preemptible
			wait = time.Millisecond
		}
		select {
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// step performs one scheduling decision and returns how long to wait before
// the next one. Exposed to the run loop only; tests drive it via Step.
func (s *Scheduler) step() time.Duration {
	depth := s.queue.Len()

	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()

	if finished {
		if depth > 0 {
			s.setState(StateDraining)
			s.flush(depth)
			return 0
		}
		s.setState(StateIdle)
		return s.cfg.IdleWait
	}

	switch {
	case depth >= s.cfg.MinBuffer:
		// Enough buffered: merge a capped batch and play it
		s.setState(StateBuffering)
		s.setPendingTail(false)
		n := depth
		if n > s.cfg.MaxMerge {
			n = s.cfg.MaxMerge
		}
		s.flush(n)
		return 0

	case depth >= s.cfg.MinMerge:
		// Close to the threshold: wait briefly for more arrivals
		// rather than playing a choppy batch
		s.setState(StateBuffering)
		s.setPendingTail(false)
		return s.cfg.ShortWait

	case depth > 0:
		// A short tail: wait once, then flush whatever remains so the
		// final fragments never wait indefinitely
		s.setState(StateBuffering)
		if !s.tailWaited() {
			s.setPendingTail(true)
			return s.cfg.TailWait
		}
		s.setPendingTail(false)
		s.flush(depth)
		return 0

	default:
		s.setState(StateIdle)
		s.setPendingTail(false)
		return s.cfg.IdleWait
	}
}

// Step runs one scheduling pass. Intended for tests that need
// deterministic triggering instead of timing-dependent flushes.
func (s *Scheduler) Step() time.Duration {
	return s.step()
}

// flush merges up to n queued fragments into one and plays it
func (s *Scheduler) flush(n int) {
	batch := s.queue.PopN(n)
	if len(batch) == 0 {
		return
	}

	merged := mergeFragments(batch, s.sampleRate)
	if err := s.player.PlayFragment(merged); err != nil {
		s.logger.Error().Err(err).Int("fragments", len(batch)).Msg("Failed to play merged batch")
	}
}

// mergeFragments concatenates fragments byte-for-byte in arrival order
func mergeFragments(batch []*Fragment, sampleRate int) *Fragment {
	if len(batch) == 1 {
		return batch[0]
	}

	var dataLen, sampleLen int
	for _, f := range batch {
		dataLen += len(f.Data)
		sampleLen += len(f.Samples)
	}

	merged := &Fragment{
		Data:       make([]byte, 0, dataLen),
		Samples:    make([]float32, 0, sampleLen),
		SampleRate: sampleRate,
		Seq:        batch[0].Seq,
	}
	for _, f := range batch {
		merged.Data = append(merged.Data, f.Data...)
		merged.Samples = append(merged.Samples, f.Samples...)
	}
	return merged
}

func (s *Scheduler) setState(state SchedulerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) setPendingTail(v bool) {
	s.mu.Lock()
	s.pendingTail = v
	s.mu.Unlock()
}

func (s *Scheduler) tailWaited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingTail
}
