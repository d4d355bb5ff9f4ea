// Package simulation runs long backtests as asynchronous, durable tasks:
// submission with parameter dedup, progress reporting, cooperative
// cancellation, and crash reclaim on startup.
package simulation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/events"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/workerpool"
)

// TaskStore is the persistence surface for task rows
type TaskStore interface {
	CreateTask(ctx context.Context, t *database.SimulationTask) error
	FindTask(ctx context.Context, id string) (*database.SimulationTask, error)
	FindActiveTaskByHash(ctx context.Context, paramHash string) (*database.SimulationTask, error)
	FindRunningTasksByInstance(ctx context.Context, instanceID string) ([]*database.SimulationTask, error)
	MarkTaskRunning(ctx context.Context, id string) error
	UpdateTaskProgress(ctx context.Context, id string, progress, total int) error
	CompleteTask(ctx context.Context, id string, result []byte) error
	FailTask(ctx context.Context, id string, errText string) error
	CancelTask(ctx context.Context, id string) error
	RequestTaskCancel(ctx context.Context, id string) error
	TaskCancelRequested(ctx context.Context, id string) (bool, error)
}

// TaskFunc is the body of one task. report must be called as units of work
// finish; the context ends when cancellation is requested.
type TaskFunc func(ctx context.Context, report func(done, total int)) (result interface{}, err error)

// Supervisor owns the lifecycle of simulation tasks for one process instance
type Supervisor struct {
	store      TaskStore
	pool       *workerpool.Pool
	bus        *events.EventBus
	logger     *logging.Logger
	instanceID string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewSupervisor creates a supervisor; bus may be nil
func NewSupervisor(store TaskStore, pool *workerpool.Pool, bus *events.EventBus, instanceID string, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.WithComponent("simulation")
	}
	return &Supervisor{
		store:      store,
		pool:       pool,
		bus:        bus,
		logger:     logger,
		instanceID: instanceID,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// ParamHash returns the dedup key for a submission: sha256 over the task
// type and the canonical JSON of its parameters.
func ParamHash(taskType string, params interface{}) (string, []byte, error) {
	// encoding/json emits map keys sorted and struct fields in declaration
	// order, so equal parameters hash equally
	raw, err := json.Marshal(params)
	if err != nil {
		return "", nil, fmt.Errorf("marshal task params: %w", err)
	}
	sum := sha256.Sum256(append([]byte(taskType+":"), raw...))
	return hex.EncodeToString(sum[:]), raw, nil
}

// Submit registers a task and dispatches it to the pool. A PENDING or RUNNING
// task with the same parameters short-circuits to the existing id.
func (s *Supervisor) Submit(ctx context.Context, taskType string, params interface{}, total int, fn TaskFunc) (string, error) {
	hash, raw, err := ParamHash(taskType, params)
	if err != nil {
		return "", err
	}

	if existing, err := s.store.FindActiveTaskByHash(ctx, hash); err != nil {
		return "", err
	} else if existing != nil {
		s.logger.Info("duplicate submission, returning active task",
			"task_id", existing.ID, "task_type", taskType)
		return existing.ID, nil
	}

	task := &database.SimulationTask{
		ID:         uuid.NewString(),
		TaskType:   taskType,
		Status:     database.TaskPending,
		ParamHash:  hash,
		Params:     raw,
		Total:      total,
		InstanceID: s.instanceID,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", err
	}

	if err := s.pool.Submit(func() { s.run(task.ID, taskType, fn) }); err != nil {
		_ = s.store.FailTask(context.Background(), task.ID, err.Error())
		return "", err
	}
	return task.ID, nil
}

// run executes one task body and finalizes its row
func (s *Supervisor) run(taskID, taskType string, fn TaskFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.TaskContext(taskID, taskType)

	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, taskID)
		s.mu.Unlock()
	}()

	if err := s.store.MarkTaskRunning(ctx, taskID); err != nil {
		// A cancel that landed before the worker picked the task up
		logger.Info("task no longer pending, skipping", "error", err)
		return
	}
	if s.bus != nil {
		s.bus.PublishTaskStarted(taskID, taskType)
	}
	started := time.Now()

	report := func(done, total int) {
		if err := s.store.UpdateTaskProgress(ctx, taskID, done, total); err != nil {
			logger.Warn("progress update failed", "error", err)
		}
		// Cooperative cancellation: checked between units of work
		if requested, err := s.store.TaskCancelRequested(ctx, taskID); err == nil && requested {
			cancel()
		}
	}

	result, err := fn(ctx, report)

	switch {
	case ctx.Err() != nil:
		if cancelErr := s.store.CancelTask(context.Background(), taskID); cancelErr != nil {
			logger.Error("cancel finalize failed", "error", cancelErr)
		}
		logger.Info("task cancelled", "elapsed", time.Since(started).String())
		s.finishEvent(taskID, database.TaskCancelled, "")

	case err != nil:
		if failErr := s.store.FailTask(context.Background(), taskID, err.Error()); failErr != nil {
			logger.Error("fail finalize failed", "error", failErr)
		}
		logger.Error("task failed", "error", err, "elapsed", time.Since(started).String())
		s.finishEvent(taskID, database.TaskFailed, err.Error())

	default:
		payload, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			_ = s.store.FailTask(context.Background(), taskID, marshalErr.Error())
			logger.Error("result marshal failed", "error", marshalErr)
			s.finishEvent(taskID, database.TaskFailed, marshalErr.Error())
			return
		}
		if completeErr := s.store.CompleteTask(context.Background(), taskID, payload); completeErr != nil {
			logger.Error("complete finalize failed", "error", completeErr)
			return
		}
		logger.Info("task completed", "elapsed", time.Since(started).String())
		s.finishEvent(taskID, database.TaskCompleted, "")
	}
}

func (s *Supervisor) finishEvent(taskID, status, errText string) {
	if s.bus != nil {
		s.bus.PublishTaskFinished(taskID, status, errText)
	}
}

// Cancel requests cancellation of a task. Cancelling a missing or terminal
// task is a no-op; a PENDING task is finalized immediately.
func (s *Supervisor) Cancel(ctx context.Context, taskID string) error {
	task, err := s.store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.Terminal() {
		return nil
	}

	if err := s.store.RequestTaskCancel(ctx, taskID); err != nil {
		return err
	}
	if task.Status == database.TaskPending {
		if err := s.store.CancelTask(ctx, taskID); err != nil {
			return err
		}
		s.finishEvent(taskID, database.TaskCancelled, "")
		return nil
	}

	// A RUNNING task owned by this instance stops at its next checkpoint;
	// nudge the context too so pool workers free up sooner
	s.mu.Lock()
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
	}
	s.mu.Unlock()
	return nil
}

// Status loads the current task row
func (s *Supervisor) Status(ctx context.Context, taskID string) (*database.SimulationTask, error) {
	return s.store.FindTask(ctx, taskID)
}

// ReclaimInterrupted marks this instance's orphaned RUNNING rows FAILED.
// Called once on startup; jobs are not auto-resumed.
func (s *Supervisor) ReclaimInterrupted(ctx context.Context) error {
	orphans, err := s.store.FindRunningTasksByInstance(ctx, s.instanceID)
	if err != nil {
		return err
	}
	for _, task := range orphans {
		if err := s.store.FailTask(ctx, task.ID, "interrupted"); err != nil {
			return fmt.Errorf("reclaim task %s: %w", task.ID, err)
		}
		s.logger.Warn("reclaimed interrupted task",
			"task_id", task.ID, "task_type", task.TaskType)
	}
	return nil
}
