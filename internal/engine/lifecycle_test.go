package engine_test

import (
	"errors"
	"testing"
	"time"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

func planOne(t *testing.T, env *testEnv) domain.ScheduledTask {
	t.Helper()
	env.mustBlock(t, "Deep Work", "09:00", "11:00", "HIGH", "@computer")
	env.mustTask(t, "Write report", "HIGH", 90, "@computer", "HIGH")
	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(res.Scheduled))
	}
	return res.Scheduled[0]
}

func TestStartCompleteFlow(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)

	s, err := env.Engine.StartTask(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status != domain.SchedInProgress || s.StartedAt == nil {
		t.Fatalf("after start: %+v", s)
	}

	actual := 95
	s, err = env.Engine.CompleteTask(env.Ctx, s.ID, &actual, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Status != domain.SchedCompleted || s.ActualDuration == nil || *s.ActualDuration != 95 {
		t.Fatalf("after complete: %+v", s)
	}
	// 95 of 90 estimated is inside the 20% band
	if s.EstimateAccuracy == nil || *s.EstimateAccuracy != domain.EstimateOn {
		t.Fatalf("accuracy = %v, want ON_TARGET", s.EstimateAccuracy)
	}
}

func TestCompleteOverrun(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)
	if _, err := env.Engine.StartTask(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	actual := 150
	s, err := env.Engine.CompleteTask(env.Ctx, s.ID, &actual, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.EstimateAccuracy == nil || *s.EstimateAccuracy != domain.EstimateOver {
		t.Fatalf("accuracy = %v, want OVER", s.EstimateAccuracy)
	}
}

func TestCompleteDerivedDuration(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)
	if _, err := env.Engine.StartTask(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Engine.Now = func() time.Time { return testClock.Add(45 * time.Minute) }
	s, err := env.Engine.CompleteTask(env.Ctx, s.ID, nil, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.ActualDuration == nil || *s.ActualDuration != 45 {
		t.Fatalf("derived duration = %v, want 45", s.ActualDuration)
	}
	// 45 of 90 estimated is well under the band
	if s.EstimateAccuracy == nil || *s.EstimateAccuracy != domain.EstimateUnder {
		t.Fatalf("accuracy = %v, want UNDER", s.EstimateAccuracy)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)

	actual := 60
	_, err := env.Engine.CompleteTask(env.Ctx, s.ID, &actual, "tester")
	var tErr *engine.InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if tErr.From != domain.SchedPlanned || tErr.To != domain.SchedCompleted {
		t.Fatalf("transition = %s -> %s", tErr.From, tErr.To)
	}
	// record must be untouched
	got, err := env.Engine.Repo.GetScheduled(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.SchedPlanned || got.ActualDuration != nil {
		t.Fatalf("record mutated by failed transition: %+v", got)
	}
}

func TestCompleteRejectsNonPositiveDuration(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)
	if _, err := env.Engine.StartTask(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	zero := 0
	if _, err := env.Engine.CompleteTask(env.Ctx, s.ID, &zero, "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestCancelFromPlanned(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)
	s, err := env.Engine.CancelTask(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.Status != domain.SchedCanceled {
		t.Fatalf("status = %s, want CANCELED", s.Status)
	}
	// terminal states reject further transitions
	if _, err := env.Engine.StartTask(env.Ctx, s.ID, "tester"); err == nil {
		t.Fatalf("start after cancel should fail")
	}
}

func TestRescheduleCreatesSuccessor(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)

	successor, err := env.Engine.RescheduleTask(env.Ctx, s.ID, "meeting ran over", "tester")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if successor.ID == s.ID {
		t.Fatalf("successor reuses the original id")
	}
	if successor.Status != domain.SchedPlanned || successor.ScheduledDate != "2026-03-03" {
		t.Fatalf("successor = %+v", successor)
	}
	if successor.TaskID == nil || *successor.TaskID != *s.TaskID {
		t.Fatalf("successor lost the task link: %+v", successor)
	}

	old, err := env.Engine.Repo.GetScheduled(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if old.Status != domain.SchedRescheduled || !old.WasRescheduled {
		t.Fatalf("original = %+v", old)
	}
}

func TestRescheduleNoCapacityLeavesOriginal(t *testing.T) {
	env := newTestEnv(t)
	s := planOne(t, env)

	// disable the only block so the look-ahead window has no slots
	blocks, err := env.Engine.Repo.ListBlocks(env.Ctx, repo.BlockFilters{UserID: "u1"})
	if err != nil || len(blocks) != 1 {
		t.Fatalf("list blocks: %v (%d)", err, len(blocks))
	}
	inactive := false
	if _, err := env.Engine.UpdateBlock(env.Ctx, engine.BlockUpdateOptions{ID: blocks[0].ID, IsActive: &inactive, ActorID: "tester"}); err != nil {
		t.Fatalf("disable block: %v", err)
	}

	_, err = env.Engine.RescheduleTask(env.Ctx, s.ID, "try later", "tester")
	if !errors.Is(err, engine.ErrNoCapacity) {
		t.Fatalf("want ErrNoCapacity, got %v", err)
	}
	got, err := env.Engine.Repo.GetScheduled(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.SchedPlanned || got.WasRescheduled {
		t.Fatalf("original mutated by failed reschedule: %+v", got)
	}
}
