package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// RecomputeDailyAnalytics rolls up scheduled-task outcomes into one
// EnergyAnalytics row per block for the given day. Recomputation overwrites;
// it never duplicates. Counting policy: CANCELED rows count toward
// tasksPlanned, RESCHEDULED rows do not (the successor is counted on its own
// date instead).
func (e Engine) RecomputeDailyAnalytics(ctx context.Context, userID, date, actorID string) ([]domain.EnergyAnalytics, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, date)
	}
	blocks, err := e.Repo.ListBlocks(ctx, repo.BlockFilters{UserID: userID, ActiveOnly: true, SkipBreaks: true})
	if err != nil {
		return nil, err
	}
	rows, err := e.Repo.ListScheduled(ctx, repo.ScheduledFilters{UserID: userID, DateFrom: date, DateTo: date})
	if err != nil {
		return nil, err
	}
	byBlock := map[string][]domain.ScheduledTask{}
	for _, s := range rows {
		byBlock[s.EnergyBlockID] = append(byBlock[s.EnergyBlockID], s)
	}

	// applicable blocks get a row even with nothing planned; blocks that
	// no longer apply but have historical rows on the date are kept too
	blockIDs := make([]string, 0, len(blocks))
	blockByID := map[string]domain.EnergyBlock{}
	for _, b := range blocks {
		blockByID[b.ID] = b
		if repo.BlockAppliesOn(b, day, e.Config) || len(byBlock[b.ID]) > 0 {
			blockIDs = append(blockIDs, b.ID)
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	band := e.Config.Planner.ToleranceBand
	var out []domain.EnergyAnalytics
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, id := range blockIDs {
		b := blockByID[id]
		a := aggregateBlockDay(b, byBlock[id], date, band)
		a.ID = uuid.New().String()
		a.UserID = userID
		a.UpdatedAt = now
		if err := e.Repo.UpsertAnalyticsTx(ctx, tx, a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := e.Events.Append(ctx, tx, "analytics.recomputed", userID, "analytics", date, actorID, events.EventPayload{
		"date":   date,
		"blocks": len(out),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func aggregateBlockDay(b domain.EnergyBlock, rows []domain.ScheduledTask, date string, band float64) domain.EnergyAnalytics {
	a := domain.EnergyAnalytics{
		EnergyBlockID: b.ID,
		Date:          date,
		PlannedEnergy: b.RequiredEnergy,
	}
	onTarget := 0
	measured := 0
	for _, s := range rows {
		if s.Status == domain.SchedRescheduled {
			continue
		}
		a.TasksPlanned++
		if s.Status != domain.SchedCompleted {
			continue
		}
		a.TasksCompleted++
		if s.ActualDuration == nil || s.EstimatedDuration <= 0 {
			continue
		}
		measured++
		lo := float64(s.EstimatedDuration) * (1 - band)
		hi := float64(s.EstimatedDuration) * (1 + band)
		if actual := float64(*s.ActualDuration); actual >= lo && actual <= hi {
			onTarget++
		}
	}
	if a.TasksPlanned > 0 {
		a.ProductivityScore = float64(a.TasksCompleted) / float64(a.TasksPlanned)
	}
	if measured > 0 {
		a.EnergyScore = float64(onTarget) / float64(measured)
	}
	if a.TasksCompleted > 0 {
		actual := b.RequiredEnergy
		if a.EnergyScore < 0.5 {
			actual = domain.DemoteEnergy(actual)
		}
		a.ActualEnergy = &actual
	}
	return a
}
