// Package review exposes the manual escalation queue reviewers work
// through. Everything ambiguous or blocked in the pipeline lands here.
package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-intel/internal/model"
	"github.com/sells-group/portfolio-intel/internal/store"
)

// Queue is the manual review queue over the shared store.
type Queue struct {
	store store.Store
}

// NewQueue creates a review queue.
func NewQueue(st store.Store) *Queue {
	return &Queue{store: st}
}

// Enqueue creates a review task for a company. It is idempotent per
// (company, task type): while a pending task of that type exists for the
// company, no second task is created and the existing task's ID is
// returned. Priority is clamped to 1-10.
func (q *Queue) Enqueue(ctx context.Context, companyID int64, taskType model.TaskType, priority int, taskCtx model.TaskContext) (int64, error) {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	task := &model.ReviewTask{
		CompanyID: companyID,
		TaskType:  taskType,
		Priority:  priority,
		Context:   taskCtx,
		Status:    model.TaskPending,
	}

	created, err := q.store.EnqueueReviewTask(ctx, task)
	if err != nil {
		return 0, eris.Wrap(err, "review: enqueue task")
	}

	if created {
		zap.L().Info("review: task queued",
			zap.Int64("company_id", companyID),
			zap.String("task_type", string(taskType)),
			zap.Int("priority", priority),
		)
	} else {
		zap.L().Debug("review: pending task already exists",
			zap.Int64("company_id", companyID),
			zap.String("task_type", string(taskType)),
		)
	}

	return task.ID, nil
}

// ListPending returns pending tasks ordered by priority descending, then
// oldest first within a priority tier. An empty taskType lists all types.
func (q *Queue) ListPending(ctx context.Context, taskType model.TaskType, limit int) ([]model.ReviewTask, error) {
	if limit <= 0 {
		limit = 50
	}
	tasks, err := q.store.ListPendingReviewTasks(ctx, taskType, limit)
	if err != nil {
		return nil, eris.Wrap(err, "review: list pending")
	}
	return tasks, nil
}

// Complete marks a task completed and, when field updates are supplied,
// applies them to the target company in the same transaction. Either
// both the status change and the field writes land, or neither does.
func (q *Queue) Complete(ctx context.Context, taskID int64, resolution string, updates []store.FieldUpdate) error {
	if err := q.store.CompleteReviewTask(ctx, taskID, resolution, updates); err != nil {
		return eris.Wrapf(err, "review: complete task %d", taskID)
	}

	zap.L().Info("review: task completed",
		zap.Int64("task_id", taskID),
		zap.String("resolution", resolution),
		zap.Int("field_updates", len(updates)),
	)
	return nil
}

// Skip terminally skips a task. No field updates, no re-queue.
func (q *Queue) Skip(ctx context.Context, taskID int64, reason string) error {
	if err := q.store.SkipReviewTask(ctx, taskID, reason); err != nil {
		return eris.Wrapf(err, "review: skip task %d", taskID)
	}

	zap.L().Info("review: task skipped",
		zap.Int64("task_id", taskID),
		zap.String("reason", reason),
	)
	return nil
}
