package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
)

// 2026-03-02 is a Monday; the fixed clock keeps workday math stable.
var testClock = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("u1"))
	eng.Now = func() time.Time { return testClock }
	ctx := context.Background()
	if _, err := eng.InitUser(ctx, "u1", "acme", "tester"); err != nil {
		t.Fatalf("init user: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx}
}

func (env *testEnv) mustBlock(t *testing.T, name, start, end, energy, primaryCtx string) domain.EnergyBlock {
	t.Helper()
	b, err := env.Engine.CreateBlock(env.Ctx, engine.BlockCreateOptions{
		UserID:            "u1",
		Name:              name,
		StartTime:         start,
		EndTime:           end,
		RequiredEnergy:    energy,
		PrimaryContext:    primaryCtx,
		AppliesOnWorkdays: true,
		ActorID:           "tester",
	})
	if err != nil {
		t.Fatalf("create block %s: %v", name, err)
	}
	return b
}

func (env *testEnv) mustTask(t *testing.T, title, priority string, minutes int, reqCtx, reqEnergy string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:            "u1",
		Title:             title,
		Priority:          priority,
		EstimatedDuration: minutes,
		RequiredContext:   reqCtx,
		RequiredEnergy:    reqEnergy,
		ActorID:           "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func TestCreateBlockValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateBlock(env.Ctx, engine.BlockCreateOptions{
		UserID: "u1", Name: "bad", StartTime: "09:00", EndTime: "11:00",
		RequiredEnergy: "EXTREME", PrimaryContext: "@desk", ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("unknown energy: want ErrInvalidInput, got %v", err)
	}
	_, err = env.Engine.CreateBlock(env.Ctx, engine.BlockCreateOptions{
		UserID: "u1", Name: "bad", StartTime: "11:00", EndTime: "09:00",
		RequiredEnergy: "HIGH", PrimaryContext: "@desk", ActorID: "tester",
	})
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("inverted window: want ErrInvalidInput, got %v", err)
	}
}

func TestPlanSingleBlockCapacity(t *testing.T) {
	env := newTestEnv(t)
	block := env.mustBlock(t, "Deep Work", "09:00", "11:00", "HIGH", "@computer")
	a := env.mustTask(t, "Write report", "HIGH", 90, "@computer", "HIGH")
	b := env.mustTask(t, "Review PRs", "HIGH", 60, "@computer", "HIGH")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(res.Scheduled))
	}
	got := res.Scheduled[0]
	if got.TaskID == nil || *got.TaskID != a.ID {
		t.Fatalf("placed task = %v, want %s", got.TaskID, a.ID)
	}
	if got.EnergyBlockID != block.ID || got.ScheduledDate != "2026-03-02" || got.Compatibility != domain.CompatExact {
		t.Fatalf("unexpected placement: %+v", got)
	}
	if len(res.Unplaced) != 1 || res.Unplaced[0].TaskID != b.ID || res.Unplaced[0].Reason != engine.ReasonNoCapacity {
		t.Fatalf("unplaced = %+v", res.Unplaced)
	}

	// widening the range places the remainder on the next day
	res, err = env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-03", "tester")
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("replan scheduled = %d, want 1", len(res.Scheduled))
	}
	got = res.Scheduled[0]
	if got.TaskID == nil || *got.TaskID != b.ID || got.ScheduledDate != "2026-03-03" {
		t.Fatalf("unexpected replan placement: %+v", got)
	}
}

func TestPlanIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Morning", "09:00", "12:00", "HIGH", "@computer")
	env.mustTask(t, "One", "MEDIUM", 60, "@computer", "")
	env.mustTask(t, "Two", "MEDIUM", 60, "@computer", "")

	first, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-06", "tester")
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	if len(first.Scheduled) != 2 {
		t.Fatalf("first scheduled = %d, want 2", len(first.Scheduled))
	}
	second, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-06", "tester")
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if len(second.Scheduled) != 0 || len(second.Unplaced) != 0 {
		t.Fatalf("second pass created work: %+v", second)
	}
}

func TestEnergyNeverUpward(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Admin", "14:00", "16:00", "LOW", "@computer")
	task := env.mustTask(t, "Design session", "HIGH", 60, "@computer", "HIGH")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-06", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 0 {
		t.Fatalf("high-energy task landed in a low block: %+v", res.Scheduled)
	}
	if len(res.Unplaced) != 1 || res.Unplaced[0].TaskID != task.ID {
		t.Fatalf("unplaced = %+v", res.Unplaced)
	}
}

func TestExactEnergyPreferred(t *testing.T) {
	env := newTestEnv(t)
	high := env.mustBlock(t, "Deep Work", "09:00", "11:00", "HIGH", "@desk")
	medium := env.mustBlock(t, "Afternoon", "13:00", "15:00", "MEDIUM", "@desk")
	env.mustTask(t, "Routine", "MEDIUM", 60, "@desk", "MEDIUM")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(res.Scheduled))
	}
	got := res.Scheduled[0]
	if got.EnergyBlockID != medium.ID {
		t.Fatalf("placed in %s, want exact-energy block %s (not %s)", got.EnergyBlockID, medium.ID, high.ID)
	}
	if got.Compatibility != domain.CompatExact {
		t.Fatalf("compatibility = %s, want EXACT", got.Compatibility)
	}
}

func TestFallbackRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Deep Work", "09:00", "11:00", "HIGH", "@desk")
	env.mustTask(t, "Routine", "MEDIUM", 60, "@desk", "MEDIUM")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 || res.Scheduled[0].Compatibility != domain.CompatFallback {
		t.Fatalf("want a single FALLBACK placement, got %+v", res.Scheduled)
	}
}

func TestContextEquivalenceFallback(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Contexts.Equivalences = [][]string{{"@computer", "@laptop"}}
	env.mustBlock(t, "Desk", "09:00", "11:00", "MEDIUM", "@computer")
	env.mustTask(t, "Portable work", "MEDIUM", 60, "@laptop", "MEDIUM")
	env.mustTask(t, "Phone calls", "MEDIUM", 30, "@phone", "MEDIUM")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 || res.Scheduled[0].Compatibility != domain.CompatFallback {
		t.Fatalf("equivalent context should place as FALLBACK, got %+v", res.Scheduled)
	}
	if len(res.Unplaced) != 1 {
		t.Fatalf("non-equivalent context should stay unplaced, got %+v", res.Unplaced)
	}
}

func TestPriorityOrdering(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Short", "09:00", "10:00", "MEDIUM", "@desk")
	low := env.mustTask(t, "Filed first", "LOW", 60, "@desk", "")
	urgent := env.mustTask(t, "Filed second", "URGENT", 60, "@desk", "")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 || *res.Scheduled[0].TaskID != urgent.ID {
		t.Fatalf("urgent task should win the only slot, got %+v", res.Scheduled)
	}
	if len(res.Unplaced) != 1 || res.Unplaced[0].TaskID != low.ID {
		t.Fatalf("unplaced = %+v", res.Unplaced)
	}
}

func TestCreationOrderBreaksTies(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Short", "09:00", "10:00", "MEDIUM", "@desk")

	// the fixed clock gives both tasks the same created_at, and the ids are
	// chosen so lexical order inverts creation order
	first, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ID: "zzzz-first", UserID: "u1", Title: "Filed first", Priority: "MEDIUM",
		EstimatedDuration: 60, RequiredContext: "@desk", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ID: "aaaa-second", UserID: "u1", Title: "Filed second", Priority: "MEDIUM",
		EstimatedDuration: 60, RequiredContext: "@desk", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 || *res.Scheduled[0].TaskID != first.ID {
		t.Fatalf("first-created task should win the slot, got %+v", res.Scheduled)
	}
	if len(res.Unplaced) != 1 || res.Unplaced[0].TaskID != second.ID {
		t.Fatalf("unplaced = %+v", res.Unplaced)
	}
}

func TestDueDateBreaksPriorityTies(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Short", "09:00", "10:00", "MEDIUM", "@desk")
	noDue := env.mustTask(t, "No deadline", "MEDIUM", 60, "@desk", "")
	due, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: "u1", Title: "Due soon", Priority: "MEDIUM",
		EstimatedDuration: 60, RequiredContext: "@desk",
		DueDate: "2026-03-02", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 1 || *res.Scheduled[0].TaskID != due.ID {
		t.Fatalf("due-dated task should win the slot over %s, got %+v", noDue.ID, res.Scheduled)
	}
}

func TestSkipInvalidDuration(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Morning", "09:00", "12:00", "MEDIUM", "@desk")
	bad := env.mustTask(t, "Unsized", "MEDIUM", 0, "@desk", "")
	good := env.mustTask(t, "Sized", "MEDIUM", 30, "@desk", "")

	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-03-02", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].TaskID != bad.ID || res.Skipped[0].Reason != engine.ReasonInvalidDuration {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
	if len(res.Scheduled) != 1 || *res.Scheduled[0].TaskID != good.ID {
		t.Fatalf("scheduled = %+v", res.Scheduled)
	}
}

func TestPlanRangeValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-05", "2026-03-02", "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("inverted range: want ErrInvalidInput, got %v", err)
	}
	if _, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-02", "2026-05-01", "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("oversized horizon: want ErrInvalidInput, got %v", err)
	}
	if _, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "yesterday", "2026-03-02", "tester"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("bad date: want ErrInvalidInput, got %v", err)
	}
}

func TestWeekendBlocksSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.mustBlock(t, "Workdays only", "09:00", "11:00", "MEDIUM", "@desk")
	task := env.mustTask(t, "Weekend attempt", "MEDIUM", 60, "@desk", "")

	// 2026-03-07/08 is a weekend
	res, err := env.Engine.ScheduleTasks(env.Ctx, "u1", "2026-03-07", "2026-03-08", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(res.Scheduled) != 0 || len(res.Unplaced) != 1 || res.Unplaced[0].TaskID != task.ID {
		t.Fatalf("workday block applied on a weekend: %+v", res)
	}
}
