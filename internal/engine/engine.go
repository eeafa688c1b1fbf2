package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ErrInvalidInput marks caller errors rejected before any record is created.
// Wrap with fmt.Errorf("%w: ...") so the reason survives.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoCapacity is returned when no compatible slot exists in the look-ahead
// window. During a planning pass it is collected per task, never returned.
var ErrNoCapacity = errors.New("no capacity in look-ahead window")

// InvalidTransitionError reports a lifecycle call against a scheduled task
// not in the required source state.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid scheduled-task transition %s -> %s", e.From, e.To)
}

// InitUser ensures the user row exists and a default planner config is
// persisted, with migrations already run.
func (e Engine) InitUser(ctx context.Context, userID, orgID, actorID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if orgID == "" {
		orgID = "default-org"
	}
	u := domain.User{ID: userID, OrgID: orgID, CreatedAt: now}
	if err := e.Repo.EnsureUser(ctx, tx, u.ID, u.OrgID, now); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Repo.UpsertUserConfigTx(ctx, tx, u.ID, config.Default(u.ID)); err != nil {
		return domain.User{}, fmt.Errorf("insert user config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.init", u.ID, "user", u.ID, actorID, events.EventPayload{"org_id": u.OrgID}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// BlockCreateOptions are parameters for registering an energy block.
type BlockCreateOptions struct {
	ID                string
	UserID            string
	OrgID             string
	Name              string
	StartTime         string
	EndTime           string
	RequiredEnergy    string
	PrimaryContext    string
	AlternateContexts []string
	IsBreak           bool
	AppliesOnWorkdays bool
	AppliesOnWeekends bool
	AppliesOnHolidays bool
	SortOrder         int
	ActorID           string
}

func (e Engine) CreateBlock(ctx context.Context, opts BlockCreateOptions) (domain.EnergyBlock, error) {
	if opts.Name == "" {
		return domain.EnergyBlock{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if opts.UserID == "" {
		return domain.EnergyBlock{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if !domain.ValidEnergy(opts.RequiredEnergy) {
		return domain.EnergyBlock{}, fmt.Errorf("%w: unknown energy level %q", ErrInvalidInput, opts.RequiredEnergy)
	}
	if opts.PrimaryContext == "" {
		return domain.EnergyBlock{}, fmt.Errorf("%w: primary context is required", ErrInvalidInput)
	}
	if err := validateWindow(opts.StartTime, opts.EndTime); err != nil {
		return domain.EnergyBlock{}, err
	}
	u, err := e.Repo.GetUser(ctx, opts.UserID)
	if err != nil {
		return domain.EnergyBlock{}, err
	}
	if opts.OrgID == "" {
		opts.OrgID = u.OrgID
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	b := domain.EnergyBlock{
		ID:                id,
		UserID:            opts.UserID,
		OrgID:             opts.OrgID,
		Name:              opts.Name,
		StartTime:         opts.StartTime,
		EndTime:           opts.EndTime,
		RequiredEnergy:    opts.RequiredEnergy,
		PrimaryContext:    opts.PrimaryContext,
		AlternateContexts: opts.AlternateContexts,
		IsBreak:           opts.IsBreak,
		AppliesOnWorkdays: opts.AppliesOnWorkdays,
		AppliesOnWeekends: opts.AppliesOnWeekends,
		AppliesOnHolidays: opts.AppliesOnHolidays,
		SortOrder:         opts.SortOrder,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EnergyBlock{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBlockTx(ctx, tx, b); err != nil {
		return domain.EnergyBlock{}, err
	}
	if err := e.Events.Append(ctx, tx, "block.created", b.UserID, "block", b.ID, opts.ActorID, events.EventPayload{
		"name": b.Name, "energy": b.RequiredEnergy, "context": b.PrimaryContext,
	}); err != nil {
		return domain.EnergyBlock{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EnergyBlock{}, err
	}
	return b, nil
}

// BlockUpdateOptions encapsulates allowed block edits. Nil means unchanged.
type BlockUpdateOptions struct {
	ID                string
	Name              *string
	StartTime         *string
	EndTime           *string
	RequiredEnergy    *string
	PrimaryContext    *string
	AlternateContexts []string
	SortOrder         *int
	IsActive          *bool
	ActorID           string
}

func (e Engine) UpdateBlock(ctx context.Context, opts BlockUpdateOptions) (domain.EnergyBlock, error) {
	b, err := e.Repo.GetBlock(ctx, opts.ID)
	if err != nil {
		return b, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return b, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		b.Name = *opts.Name
	}
	if opts.StartTime != nil {
		b.StartTime = *opts.StartTime
	}
	if opts.EndTime != nil {
		b.EndTime = *opts.EndTime
	}
	if opts.StartTime != nil || opts.EndTime != nil {
		if err := validateWindow(b.StartTime, b.EndTime); err != nil {
			return b, err
		}
	}
	if opts.RequiredEnergy != nil {
		if !domain.ValidEnergy(*opts.RequiredEnergy) {
			return b, fmt.Errorf("%w: unknown energy level %q", ErrInvalidInput, *opts.RequiredEnergy)
		}
		b.RequiredEnergy = *opts.RequiredEnergy
	}
	if opts.PrimaryContext != nil {
		if *opts.PrimaryContext == "" {
			return b, fmt.Errorf("%w: primary context cannot be empty", ErrInvalidInput)
		}
		b.PrimaryContext = *opts.PrimaryContext
	}
	if opts.AlternateContexts != nil {
		b.AlternateContexts = opts.AlternateContexts
	}
	if opts.SortOrder != nil {
		b.SortOrder = *opts.SortOrder
	}
	if opts.IsActive != nil {
		b.IsActive = *opts.IsActive
	}
	b.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBlockTx(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "block.updated", b.UserID, "block", b.ID, opts.ActorID, events.EventPayload{"is_active": b.IsActive}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

func validateWindow(start, end string) error {
	s, err := repo.ParseClock(start)
	if err != nil {
		return fmt.Errorf("%w: start time %q is not HH:MM", ErrInvalidInput, start)
	}
	t, err := repo.ParseClock(end)
	if err != nil {
		return fmt.Errorf("%w: end time %q is not HH:MM", ErrInvalidInput, end)
	}
	if t <= s {
		return fmt.Errorf("%w: window %s-%s is empty", ErrInvalidInput, start, end)
	}
	return nil
}

// TaskCreateOptions are parameters for adding a task to the pool.
type TaskCreateOptions struct {
	ID                string
	UserID            string
	OrgID             string
	Title             string
	Priority          string
	DueDate           string
	EstimatedDuration int
	RequiredContext   string
	RequiredEnergy    string
	ActorID           string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if opts.UserID == "" {
		return domain.Task{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, opts.Priority)
	}
	if opts.RequiredEnergy != "" && !domain.ValidEnergy(opts.RequiredEnergy) {
		return domain.Task{}, fmt.Errorf("%w: unknown energy level %q", ErrInvalidInput, opts.RequiredEnergy)
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", ErrInvalidInput, opts.DueDate)
		}
	}
	u, err := e.Repo.GetUser(ctx, opts.UserID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.OrgID == "" {
		opts.OrgID = u.OrgID
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:                id,
		UserID:            opts.UserID,
		OrgID:             opts.OrgID,
		Title:             opts.Title,
		Priority:          opts.Priority,
		Status:            domain.TaskNew,
		DueDate:           optionalString(opts.DueDate),
		EstimatedDuration: opts.EstimatedDuration,
		RequiredContext:   opts.RequiredContext,
		RequiredEnergy:    optionalString(opts.RequiredEnergy),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.UserID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "priority": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed task edits. Nil means unchanged.
type TaskUpdateOptions struct {
	ID                string
	Title             *string
	Priority          *string
	Status            *string
	DueDate           *string
	EstimatedDuration *int
	RequiredContext   *string
	RequiredEnergy    *string
	ActorID           string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		t.Title = *opts.Title
	}
	if opts.Priority != nil {
		if !domain.ValidPriority(*opts.Priority) {
			return t, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Status != nil {
		switch *opts.Status {
		case domain.TaskNew, domain.TaskInProgress, domain.TaskWaiting, domain.TaskCompleted, domain.TaskCanceled:
			t.Status = *opts.Status
		default:
			return t, fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, *opts.Status)
		}
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			if _, err := time.Parse("2006-01-02", *opts.DueDate); err != nil {
				return t, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", ErrInvalidInput, *opts.DueDate)
			}
			t.DueDate = opts.DueDate
		}
	}
	if opts.EstimatedDuration != nil {
		t.EstimatedDuration = *opts.EstimatedDuration
	}
	if opts.RequiredContext != nil {
		t.RequiredContext = *opts.RequiredContext
	}
	if opts.RequiredEnergy != nil {
		if *opts.RequiredEnergy == "" {
			t.RequiredEnergy = nil
		} else {
			if !domain.ValidEnergy(*opts.RequiredEnergy) {
				return t, fmt.Errorf("%w: unknown energy level %q", ErrInvalidInput, *opts.RequiredEnergy)
			}
			t.RequiredEnergy = opts.RequiredEnergy
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.UserID, "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
