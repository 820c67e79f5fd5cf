package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lumehq/lume/internal/calendarsync"
	"github.com/lumehq/lume/internal/sessions"
	"go.uber.org/zap"
)

const (
	// TaskSyncSession is the asynq task type for one session sync.
	TaskSyncSession = "calendar:sync_session"
	// QueueName is the asynq queue that carries calendar syncs.
	QueueName = "calendar"

	enqueueTimeout = 5 * time.Second
)

var (
	errMissingEnqueuer = errors.New("syncqueue: enqueuer is required")
	errMissingSyncer   = errors.New("syncqueue: syncer is required")
)

type syncPayload struct {
	PractitionerID string                       `json:"practitionerId"`
	Session        calendarsync.SessionSnapshot `json:"session"`
}

// NewSyncTask builds the task for one session sync. Failed syncs are recorded on the
// session, so the task is never retried by the queue.
func NewSyncTask(practitionerID string, snapshot calendarsync.SessionSnapshot, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(syncPayload{PractitionerID: practitionerID, Session: snapshot})
	if err != nil {
		return nil, fmt.Errorf("syncqueue: encode payload: %w", err)
	}
	options := []asynq.Option{asynq.MaxRetry(0), asynq.Queue(QueueName)}
	if timeout > 0 {
		options = append(options, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskSyncSession, payload, options...), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DispatcherConfig describes the queue-backed dispatcher.
type DispatcherConfig struct {
	Enqueuer Enqueuer
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Dispatcher hands session syncs to asynq workers.
type Dispatcher struct {
	enqueuer Enqueuer
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher constructs a queue-backed Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Enqueuer == nil {
		return nil, errMissingEnqueuer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{enqueuer: cfg.Enqueuer, timeout: cfg.Timeout, logger: logger}, nil
}

// TriggerSync enqueues a sync for the session. An enqueue failure leaves the session
// pending; it can be picked up later by the resync command.
func (d *Dispatcher) TriggerSync(practitionerID string, session sessions.Session) {
	task, err := NewSyncTask(practitionerID, calendarsync.SnapshotOf(session), d.timeout)
	if err != nil {
		d.logger.Error("sync task build failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	info, err := d.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		d.logger.Error("sync task enqueue failed",
			zap.String("practitioner_id", practitionerID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		return
	}
	d.logger.Debug("sync task enqueued",
		zap.String("session_id", session.ID),
		zap.String("task_id", info.ID))
}

// Worker consumes sync tasks.
type Worker struct {
	syncer calendarsync.SessionSyncer
	logger *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(syncer calendarsync.SessionSyncer, logger *zap.Logger) (*Worker, error) {
	if syncer == nil {
		return nil, errMissingSyncer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{syncer: syncer, logger: logger}, nil
}

// Handler returns the asynq mux serving sync tasks.
func (w *Worker) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSyncSession, w.HandleSyncSession)
	return mux
}

// HandleSyncSession runs one sync. Sync failures are already recorded on the session and
// are not reported back to the queue.
func (w *Worker) HandleSyncSession(ctx context.Context, task *asynq.Task) error {
	var payload syncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("sync task payload invalid", zap.Error(err))
		return fmt.Errorf("syncqueue: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PractitionerID == "" || payload.Session.ID == "" {
		return fmt.Errorf("syncqueue: incomplete payload: %w", asynq.SkipRetry)
	}
	w.syncer.SyncSession(ctx, payload.PractitionerID, payload.Session)
	return nil
}

// ServerConfig describes the asynq worker server.
type ServerConfig struct {
	RedisAddress string
	Concurrency  int
	Logger       *zap.Logger
}

// NewServer builds the asynq server that runs the worker.
func NewServer(cfg ServerConfig) *asynq.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddress}, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      logger.Named("asynq").Sugar(),
	})
}

// NewClient builds the asynq client used by the Dispatcher.
func NewClient(redisAddress string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddress})
}
