package calendarsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
)

const (
	defaultDispatchTimeout     = 30 * time.Second
	defaultDispatchConcurrency = 4
)

var errMissingSyncer = errors.New("calendarsync: syncer is required")

// SessionSyncer runs one session sync to completion.
type SessionSyncer interface {
	SyncSession(ctx context.Context, practitionerID string, session SessionSnapshot) SyncOutcome
}

// DispatcherConfig describes the in-process dispatcher.
type DispatcherConfig struct {
	Syncer      SessionSyncer
	Timeout     time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// Dispatcher runs each triggered sync on its own goroutine, detached from the request that
// triggered it. At most Concurrency syncs run at once; further triggers wait for a slot.
type Dispatcher struct {
	syncer  SessionSyncer
	timeout time.Duration
	slots   chan struct{}
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher constructs an in-process Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		syncer:  cfg.Syncer,
		timeout: timeout,
		slots:   make(chan struct{}, concurrency),
		logger:  logger,
	}, nil
}

// TriggerSync schedules a sync for the session and returns immediately.
func (d *Dispatcher) TriggerSync(practitionerID string, session sessions.Session) {
	d.Dispatch(practitionerID, SnapshotOf(session))
}

// Dispatch schedules a sync for the snapshot and returns immediately. Triggers after Close
// are dropped; the session stays pending until re-synced.
func (d *Dispatcher) Dispatch(practitionerID string, snapshot SessionSnapshot) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("sync dispatch after close dropped",
			zap.String("practitioner_id", practitionerID),
			zap.String("session_id", snapshot.ID))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()
		defer func() {
			if recovered := recover(); recovered != nil {
				d.logger.Error("session sync panicked",
					zap.String("session_id", snapshot.ID),
					zap.Any("panic", recovered))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.syncer.SyncSession(ctx, practitionerID, snapshot)
	}()
}

// Close stops accepting triggers and waits for running syncs until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
