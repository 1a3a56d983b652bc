// Package maintenance runs the scheduled sweep that detaches hidden assets
// from memories and removes stale unsaved memories. Sweeps go through a
// circuit breaker so a misbehaving database does not get hammered on a
// timer.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/reveriehq/reverie/internal/storage"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state
// and sweeps are being rejected after repeated failures.
var ErrCircuitOpen = errors.New("maintenance: circuit breaker is open")

// Repository is the slice of the storage API the sweeper needs.
type Repository interface {
	Cleanup(ctx context.Context) (storage.CleanupResult, error)
}

// Notifier receives an event after each successful sweep. The websocket
// hub satisfies this through a small adapter on the handlers side.
type Notifier interface {
	CleanupCompleted(result storage.CleanupResult)
}

// Snapshotter captures a database snapshot after a successful sweep.
type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
}

// Config holds the sweeper configuration. Zero values get defaults.
type Config struct {
	// Interval between scheduled sweeps. Default: 24 hours.
	Interval time.Duration

	// MaxFailures is the number of consecutive failed sweeps required to
	// trip the circuit. Default: 3.
	MaxFailures uint32

	// BreakerTimeout is how long the circuit stays open before allowing a
	// test sweep. Default: 5 minutes.
	BreakerTimeout time.Duration

	// Notifier is told about successful sweeps. Optional.
	Notifier Notifier

	// Snapshots runs after each successful sweep. Optional; only wired for
	// the SQLite engine.
	Snapshots Snapshotter
}

// Service schedules cleanup sweeps and tracks the outcome of the last run.
type Service struct {
	repo      Repository
	notifier  Notifier
	snapshots Snapshotter
	breaker   *gobreaker.CircuitBreaker
	interval  time.Duration

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	lastRun    time.Time
	lastResult storage.CleanupResult
	lastErr    error
}

// New creates a sweeper over the given repository.
func New(repo Repository, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 5 * time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "maintenance-cleanup",
		MaxRequests: 1,
		Interval:    0, // Don't clear counts periodically
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})

	return &Service{
		repo:      repo,
		notifier:  cfg.Notifier,
		snapshots: cfg.Snapshots,
		breaker:   breaker,
		interval:  cfg.Interval,
	}
}

// Start launches the sweep loop in a goroutine. It returns an error if the
// service is already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance: service already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	go s.run(ctx)
	log.Printf("maintenance: sweeper started, interval %s", s.interval)
	return nil
}

// Stop halts the sweep loop. Safe to call when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Printf("maintenance: sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil {
				log.Printf("maintenance: scheduled sweep failed: %v", err)
			}
		}
	}
}

// RunNow executes one sweep immediately, regardless of the schedule. While
// the breaker is open it returns ErrCircuitOpen without touching the
// repository.
func (s *Service) RunNow(ctx context.Context) (storage.CleanupResult, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.repo.Cleanup(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return storage.CleanupResult{}, ErrCircuitOpen
		}
		s.record(storage.CleanupResult{}, err)
		return storage.CleanupResult{}, err
	}

	result := out.(storage.CleanupResult)
	s.record(result, nil)
	log.Printf("maintenance: sweep removed %d memories, detached %d assets",
		result.RemovedMemories, result.DetachedAssets)

	// Snapshot failures are logged, not propagated: the sweep itself
	// succeeded and the next interval brings another chance.
	if s.snapshots != nil {
		if path, err := s.snapshots.Snapshot(ctx); err != nil {
			log.Printf("maintenance: snapshot failed: %v", err)
		} else {
			log.Printf("maintenance: snapshot written to %s", path)
		}
	}

	if s.notifier != nil {
		s.notifier.CleanupCompleted(result)
	}
	return result, nil
}

// Status is a point-in-time view of the sweeper.
type Status struct {
	Running      bool                  `json:"running"`
	BreakerState string                `json:"breaker_state"`
	LastRun      time.Time             `json:"last_run"`
	LastResult   storage.CleanupResult `json:"last_result"`
	LastError    string                `json:"last_error,omitempty"`
}

// Status reports whether the loop is running, the breaker state, and the
// outcome of the most recent sweep.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:      s.running,
		BreakerState: stateLabel(s.breaker.State()),
		LastRun:      s.lastRun,
		LastResult:   s.lastResult,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Service) record(result storage.CleanupResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
	s.lastResult = result
	s.lastErr = err
}

func stateLabel(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
