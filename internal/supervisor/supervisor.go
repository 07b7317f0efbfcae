// Package supervisor owns the lifecycle of the durable store connection.
//
// The state machine is NotStarted → Attempting(n) → Ready, or
// Attempting(n) → Failed once the attempt bound is exhausted. Failed is
// terminal: a persistent misconfiguration should surface as a restart,
// not be masked by silent retrying.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/credvault/internal/docstore"
	"github.com/p-blackswan/credvault/internal/metrics"
	"github.com/p-blackswan/credvault/internal/retry"
)

// State is the initialization state of the durable store connection.
type State int

const (
	StateNotStarted State = iota
	StateAttempting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAttempting:
		return "attempting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// probeTimeout bounds a single connect + round-trip probe.
const probeTimeout = 10 * time.Second

var errProbeMismatch = errors.New("probe read returned unexpected payload")

// Config holds supervisor configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Status is a snapshot of the supervisor state for diagnostics.
type Status struct {
	State    State
	Attempts int
	LastErr  error
}

// Supervisor runs the single-shot initialization sequence and exposes a
// bounded readiness wait. All concurrent callers share the same attempt
// sequence; Start is idempotent.
type Supervisor struct {
	store   docstore.Store
	backoff retry.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error

	startOnce sync.Once
	ready     chan struct{} // closed on Ready
	done      chan struct{} // closed on Ready or Failed
}

// New creates a supervisor for the given store. Start must be called to
// begin the attempt sequence.
func New(store docstore.Store, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		store: store,
		backoff: retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			Linear:      true,
		},
		metrics: m,
		logger:  logger.With().Str("component", "supervisor").Logger(),
		state:   StateNotStarted,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the initialization sequence once. Subsequent calls are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Supervisor) run(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		s.state = StateAttempting
		s.attempts = attempt
		s.mu.Unlock()
		s.metrics.InitAttemptsTotal.Inc()

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.probe(probeCtx)
		cancel()

		if err == nil {
			s.mu.Lock()
			s.state = StateReady
			s.mu.Unlock()
			close(s.ready)
			close(s.done)
			s.logger.Info().Int("attempts", attempt).Msg("durable store ready")
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.metrics.RecordError("supervisor", "probe")

		if attempt >= s.backoff.MaxAttempts {
			s.mu.Lock()
			s.state = StateFailed
			s.mu.Unlock()
			close(s.done)
			s.logger.Error().Err(err).Int("attempts", attempt).
				Msg("durable store initialization failed; restart required")
			return
		}

		delay := s.backoff.Delay(attempt)
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).
			Msg("durable store probe failed")

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.state = StateFailed
			s.lastErr = ctx.Err()
			s.mu.Unlock()
			close(s.done)
			return
		case <-time.After(delay):
		}
	}
}

// probe performs a live write-then-read round trip with a sentinel document.
func (s *Supervisor) probe(ctx context.Context) error {
	key := "probe/" + uuid.New().String()
	now := time.Now().UTC()
	doc := &docstore.Document{
		Payload:       "ping",
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
		SchemaVersion: docstore.SchemaVersion,
	}

	if err := s.store.Set(ctx, key, doc); err != nil {
		return err
	}
	got, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if got.Payload != doc.Payload {
		return errProbeMismatch
	}

	// Best-effort cleanup; a leaked sentinel expires logically anyway.
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Debug().Err(err).Msg("probe cleanup failed")
	}
	return nil
}

// WaitUntilReady blocks until the store is Ready, the supervisor has
// terminally Failed, the timeout elapses, or ctx is cancelled. Returns
// true only for Ready.
func (s *Supervisor) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return true
	case <-s.done:
		return s.State() == StateReady
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failed reports whether the supervisor has terminally failed.
func (s *Supervisor) Failed() bool {
	return s.State() == StateFailed
}

// Snapshot returns the current state, attempt count and last error.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Attempts: s.attempts, LastErr: s.lastErr}
}
