package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, task_type, status, param_hash, params, progress, total,
	result, error_text, cancel_requested, instance_id,
	created_at, started_at, finished_at, updated_at`

func scanTask(row pgx.Row) (*SimulationTask, error) {
	var t SimulationTask
	err := row.Scan(
		&t.ID, &t.TaskType, &t.Status, &t.ParamHash, &t.Params, &t.Progress, &t.Total,
		&t.Result, &t.ErrorText, &t.CancelRequested, &t.InstanceID,
		&t.CreatedAt, &t.StartedAt, &t.FinishedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a new PENDING task row
func (r *Repository) CreateTask(ctx context.Context, t *SimulationTask) error {
	query := `
		INSERT INTO simulation_tasks (
			id, task_type, status, param_hash, params, progress, total, instance_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.Pool.QueryRow(ctx, query,
		t.ID, t.TaskType, t.Status, t.ParamHash, t.Params, t.Progress, t.Total, t.InstanceID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// FindTask loads a task by id, nil when missing
func (r *Repository) FindTask(ctx context.Context, id string) (*SimulationTask, error) {
	t, err := scanTask(r.db.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM simulation_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task %s: %w", id, err)
	}
	return t, nil
}

// FindActiveTaskByHash returns a PENDING or RUNNING task with the same param
// hash, nil when there is none. Used for submission dedup.
func (r *Repository) FindActiveTaskByHash(ctx context.Context, paramHash string) (*SimulationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM simulation_tasks
		WHERE param_hash = $1 AND status IN ('PENDING', 'RUNNING')
		ORDER BY created_at
		LIMIT 1`

	t, err := scanTask(r.db.Pool.QueryRow(ctx, query, paramHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by hash: %w", err)
	}
	return t, nil
}

// FindRunningTasksByInstance returns RUNNING tasks owned by the instance.
// Called on startup to reclaim rows orphaned by a crash.
func (r *Repository) FindRunningTasksByInstance(ctx context.Context, instanceID string) ([]*SimulationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM simulation_tasks
		WHERE instance_id = $1 AND status = 'RUNNING'`

	rows, err := r.db.Pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find running tasks: %w", err)
	}
	defer rows.Close()

	var out []*SimulationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkTaskRunning moves a PENDING task to RUNNING and stamps started_at
func (r *Repository) MarkTaskRunning(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks
		SET status = 'RUNNING', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s is not PENDING", id)
	}
	return nil
}

// UpdateTaskProgress writes the progress counters
func (r *Repository) UpdateTaskProgress(ctx context.Context, id string, progress, total int) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks SET progress = $2, total = $3, updated_at = NOW()
		WHERE id = $1`, id, progress, total)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// CompleteTask finalizes a task with its result payload
func (r *Repository) CompleteTask(ctx context.Context, id string, result []byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks
		SET status = 'COMPLETED', result = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, result)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// FailTask finalizes a task with error text
func (r *Repository) FailTask(ctx context.Context, id string, errText string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks
		SET status = 'FAILED', error_text = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, errText)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return nil
}

// CancelTask finalizes a task as CANCELLED
func (r *Repository) CancelTask(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks
		SET status = 'CANCELLED', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}

// RequestTaskCancel raises the cooperative cancellation flag
func (r *Repository) RequestTaskCancel(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE simulation_tasks SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to request task cancel: %w", err)
	}
	return nil
}

// TaskCancelRequested reads the cooperative cancellation flag
func (r *Repository) TaskCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT cancel_requested FROM simulation_tasks WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

// FindStuckRunningTasks returns RUNNING tasks not updated since the cutoff,
// regardless of owner. Operator visibility for abandoned jobs.
func (r *Repository) FindStuckRunningTasks(ctx context.Context, updatedBefore time.Time) ([]*SimulationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM simulation_tasks
		WHERE status = 'RUNNING' AND updated_at < $1`

	rows, err := r.db.Pool.Query(ctx, query, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck tasks: %w", err)
	}
	defer rows.Close()

	var out []*SimulationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
