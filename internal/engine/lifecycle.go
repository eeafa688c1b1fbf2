package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
)

func ensureScheduledTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.SchedPlanned:
		if newStatus == domain.SchedInProgress || newStatus == domain.SchedCanceled || newStatus == domain.SchedRescheduled {
			return nil
		}
	case domain.SchedInProgress:
		if newStatus == domain.SchedCompleted || newStatus == domain.SchedCanceled || newStatus == domain.SchedRescheduled {
			return nil
		}
	}
	return &InvalidTransitionError{From: oldStatus, To: newStatus}
}

// StartTask moves a planned scheduled task into execution.
func (e Engine) StartTask(ctx context.Context, schedID, actorID string) (domain.ScheduledTask, error) {
	s, err := e.Repo.GetScheduled(ctx, schedID)
	if err != nil {
		return s, err
	}
	if err := ensureScheduledTransition(s.Status, domain.SchedInProgress); err != nil {
		return s, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.SchedInProgress
	s.StartedAt = &now
	s.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduledTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sched.started", s.UserID, "sched", s.ID, actorID, events.EventPayload{"started_at": now}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// CompleteTask finishes an in-progress scheduled task. When actualDuration
// is nil it is derived from the started timestamp, rounded to minutes with a
// floor of one. The estimate accuracy band comes from the planner config.
func (e Engine) CompleteTask(ctx context.Context, schedID string, actualDuration *int, actorID string) (domain.ScheduledTask, error) {
	if e.Config == nil {
		return domain.ScheduledTask{}, errors.New("config not loaded")
	}
	s, err := e.Repo.GetScheduled(ctx, schedID)
	if err != nil {
		return s, err
	}
	if err := ensureScheduledTransition(s.Status, domain.SchedCompleted); err != nil {
		return s, err
	}
	if actualDuration != nil && *actualDuration <= 0 {
		return s, fmt.Errorf("%w: actual duration must be positive", ErrInvalidInput)
	}
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	actual := 0
	if actualDuration != nil {
		actual = *actualDuration
	} else {
		if s.StartedAt == nil {
			return s, fmt.Errorf("%w: actual duration required, record has no start timestamp", ErrInvalidInput)
		}
		started, err := time.Parse(time.RFC3339, *s.StartedAt)
		if err != nil {
			return s, fmt.Errorf("parse started_at: %w", err)
		}
		actual = int(nowT.Sub(started).Round(time.Minute) / time.Minute)
		if actual < 1 {
			actual = 1
		}
	}
	accuracy := estimateAccuracy(s.EstimatedDuration, actual, e.Config.Planner.ToleranceBand)
	s.Status = domain.SchedCompleted
	s.ActualDuration = &actual
	s.EstimateAccuracy = &accuracy
	s.CompletedAt = &now
	s.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduledTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sched.completed", s.UserID, "sched", s.ID, actorID, events.EventPayload{
		"actual_duration":   actual,
		"estimate_accuracy": accuracy,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func estimateAccuracy(estimated, actual int, band float64) string {
	lo := float64(estimated) * (1 - band)
	hi := float64(estimated) * (1 + band)
	switch {
	case float64(actual) < lo:
		return domain.EstimateUnder
	case float64(actual) > hi:
		return domain.EstimateOver
	default:
		return domain.EstimateOn
	}
}

// CancelTask terminates a planned or in-progress scheduled task.
func (e Engine) CancelTask(ctx context.Context, schedID, actorID string) (domain.ScheduledTask, error) {
	s, err := e.Repo.GetScheduled(ctx, schedID)
	if err != nil {
		return s, err
	}
	if err := ensureScheduledTransition(s.Status, domain.SchedCanceled); err != nil {
		return s, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.SchedCanceled
	s.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduledTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sched.canceled", s.UserID, "sched", s.ID, actorID, events.EventPayload{}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// RescheduleTask terminates the record as RESCHEDULED and places a successor
// in the look-ahead window after the original date. On ErrNoCapacity nothing
// is written and the original record is unchanged. For ad hoc records with
// no backing task, placement uses the original block's context and energy.
func (e Engine) RescheduleTask(ctx context.Context, schedID, reason, actorID string) (domain.ScheduledTask, error) {
	if e.Config == nil {
		return domain.ScheduledTask{}, errors.New("config not loaded")
	}
	s, err := e.Repo.GetScheduled(ctx, schedID)
	if err != nil {
		return s, err
	}
	if err := ensureScheduledTransition(s.Status, domain.SchedRescheduled); err != nil {
		return s, err
	}
	day, err := time.Parse("2006-01-02", s.ScheduledDate)
	if err != nil {
		return s, fmt.Errorf("parse scheduled_date: %w", err)
	}

	var t domain.Task
	if s.TaskID != nil {
		t, err = e.Repo.GetTask(ctx, *s.TaskID)
		if err != nil {
			return s, err
		}
	} else {
		b, err := e.Repo.GetBlock(ctx, s.EnergyBlockID)
		if err != nil {
			return s, err
		}
		energy := b.RequiredEnergy
		t = domain.Task{RequiredContext: b.PrimaryContext, RequiredEnergy: &energy}
	}
	t.EstimatedDuration = s.EstimatedDuration

	from := day.AddDate(0, 0, 1)
	to := day.AddDate(0, 0, e.Config.Planner.RescheduleWindow)
	slots, err := e.buildSlots(ctx, s.UserID, from, to)
	if err != nil {
		return s, err
	}
	sl, compat := e.placeInSlots(t, slots)
	if sl == nil {
		return s, ErrNoCapacity
	}

	now := e.now().UTC().Format(time.RFC3339)
	successor := domain.ScheduledTask{
		ID:                uuid.New().String(),
		TaskID:            s.TaskID,
		UserID:            s.UserID,
		EnergyBlockID:     sl.block.ID,
		ScheduledDate:     sl.date,
		EstimatedDuration: s.EstimatedDuration,
		Status:            domain.SchedPlanned,
		Compatibility:     compat,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.Status = domain.SchedRescheduled
	s.WasRescheduled = true
	s.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduledTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Repo.InsertScheduledTx(ctx, tx, successor); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sched.rescheduled", s.UserID, "sched", s.ID, actorID, events.EventPayload{
		"reason":       reason,
		"successor_id": successor.ID,
		"block_id":     successor.EnergyBlockID,
		"date":         successor.ScheduledDate,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return successor, nil
}
