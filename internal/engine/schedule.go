package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// PlanResult is the outcome of one planning pass. Unplaced and Skipped are
// normal planning outcomes surfaced to the caller, not failures.
type PlanResult struct {
	Scheduled []domain.ScheduledTask `json:"scheduled"`
	Unplaced  []PlanIssue            `json:"unplaced,omitempty"`
	Skipped   []PlanIssue            `json:"skipped,omitempty"`
}

type PlanIssue struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Reason string `json:"reason" enum:"no_capacity,invalid_duration"`
}

const (
	ReasonNoCapacity      = "no_capacity"
	ReasonInvalidDuration = "invalid_duration"
)

// slot is one (block, date) cell of the capacity ledger. energy is the
// block's effective level after realized-energy feedback.
type slot struct {
	block     domain.EnergyBlock
	date      string
	energy    string
	remaining int
}

// ScheduleTasks plans all schedulable tasks into the date range. The pass is
// idempotent: tasks already linked to an active scheduled record are not
// candidates, so a re-run over the same range creates no duplicates. All
// inserts for one pass commit together or not at all.
func (e Engine) ScheduleTasks(ctx context.Context, userID, from, to, actorID string) (PlanResult, error) {
	var res PlanResult
	if e.Config == nil {
		return res, errors.New("config not loaded")
	}
	start, end, err := e.parseRange(from, to)
	if err != nil {
		return res, err
	}

	slots, err := e.buildSlots(ctx, userID, start, end)
	if err != nil {
		return res, err
	}
	tasks, err := e.Repo.ListSchedulableTasks(ctx, userID, to)
	if err != nil {
		return res, err
	}
	orderCandidates(tasks)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	for _, t := range tasks {
		if t.EstimatedDuration <= 0 {
			res.Skipped = append(res.Skipped, PlanIssue{TaskID: t.ID, Title: t.Title, Reason: ReasonInvalidDuration})
			continue
		}
		sl, compat := e.placeInSlots(t, slots)
		if sl == nil {
			res.Unplaced = append(res.Unplaced, PlanIssue{TaskID: t.ID, Title: t.Title, Reason: ReasonNoCapacity})
			continue
		}
		taskID := t.ID
		s := domain.ScheduledTask{
			ID:                uuid.New().String(),
			TaskID:            &taskID,
			UserID:            userID,
			EnergyBlockID:     sl.block.ID,
			ScheduledDate:     sl.date,
			EstimatedDuration: t.EstimatedDuration,
			Status:            domain.SchedPlanned,
			Compatibility:     compat,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.Repo.InsertScheduledTx(ctx, tx, s); err != nil {
			return PlanResult{}, err
		}
		sl.remaining -= t.EstimatedDuration
		if err := e.Events.Append(ctx, tx, "sched.planned", userID, "sched", s.ID, actorID, events.EventPayload{
			"task_id":       t.ID,
			"block_id":      sl.block.ID,
			"date":          sl.date,
			"compatibility": compat,
		}); err != nil {
			return PlanResult{}, err
		}
		res.Scheduled = append(res.Scheduled, s)
	}
	if err := e.Events.Append(ctx, tx, "plan.run", userID, "plan", "", actorID, events.EventPayload{
		"from":      from,
		"to":        to,
		"scheduled": len(res.Scheduled),
		"unplaced":  len(res.Unplaced),
		"skipped":   len(res.Skipped),
	}); err != nil {
		return PlanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlanResult{}, err
	}
	return res, nil
}

func (e Engine) parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range start %q is not YYYY-MM-DD", ErrInvalidInput, from)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range end %q is not YYYY-MM-DD", ErrInvalidInput, to)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range start %s after end %s", ErrInvalidInput, from, to)
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if max := e.Config.Planner.MaxHorizonDays; days > max {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range spans %d days, maximum horizon is %d", ErrInvalidInput, days, max)
	}
	return start, end, nil
}

// orderCandidates sorts: priority descending, due date ascending with nulls
// last, then intake sequence. Identical inputs always produce the same plan;
// the sequence tiebreak is creation order even for tasks created within the
// same second.
func orderCandidates(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if pa, pb := domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority); pa != pb {
			return pa > pb
		}
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && b.DueDate != nil && *a.DueDate != *b.DueDate:
			return *a.DueDate < *b.DueDate
		}
		return a.Seq < b.Seq
	})
}

// buildSlots materializes the capacity ledger: one slot per applicable
// (block, date) pair over the range, seeded with minutes already committed
// by existing active scheduled tasks. Slot order is date then block walk
// order, so placement always finds the earliest candidate.
func (e Engine) buildSlots(ctx context.Context, userID string, start, end time.Time) ([]*slot, error) {
	blocks, err := e.Repo.ListBlocks(ctx, repo.BlockFilters{UserID: userID, ActiveOnly: true, SkipBreaks: true})
	if err != nil {
		return nil, err
	}
	committed, err := e.Repo.CommittedMinutes(ctx, userID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	effective, err := e.effectiveEnergies(ctx, userID, blocks, start)
	if err != nil {
		return nil, err
	}
	var slots []*slot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		for _, b := range blocks {
			if !repo.BlockAppliesOn(b, day, e.Config) {
				continue
			}
			duration, err := repo.BlockDurationMinutes(b)
			if err != nil {
				// malformed window, nothing can be placed there
				continue
			}
			remaining := duration - committed[b.ID][date]
			if remaining < 0 {
				remaining = 0
			}
			slots = append(slots, &slot{block: b, date: date, energy: effective[b.ID], remaining: remaining})
		}
	}
	return slots, nil
}

// effectiveEnergies applies realized-energy feedback: a block whose rolling
// energy score over the trailing window stays under the configured threshold,
// with enough samples, is treated one energy rank lower for placement. The
// stored block record is never touched.
func (e Engine) effectiveEnergies(ctx context.Context, userID string, blocks []domain.EnergyBlock, ref time.Time) (map[string]string, error) {
	winFrom := ref.AddDate(0, 0, -e.Config.Planner.FeedbackWindowDays).Format("2006-01-02")
	winTo := ref.AddDate(0, 0, -1).Format("2006-01-02")
	scores, err := e.Repo.BlockEnergyScores(ctx, userID, winFrom, winTo)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(blocks))
	for _, b := range blocks {
		level := b.RequiredEnergy
		if s, ok := scores[b.ID]; ok && s.Samples >= e.Config.Planner.FeedbackMinSamples && s.Mean < e.Config.Planner.FeedbackThreshold {
			level = domain.DemoteEnergy(level)
		}
		out[b.ID] = level
	}
	return out, nil
}

// placeInSlots finds the best slot for one task. The scan runs in preference
// tiers over the whole horizon: exact context and energy first, then energy
// fallback, then context fallback, then both. Within a tier the earliest
// slot with capacity wins.
func (e Engine) placeInSlots(t domain.Task, slots []*slot) (*slot, string) {
	for tier := 0; tier <= 3; tier++ {
		for _, sl := range slots {
			ctxGrade := ContextCompatibility(t.RequiredContext, sl.block, e.Config)
			energyGrade := EnergyCompatibility(t.RequiredEnergy, sl.energy)
			if pairTier(ctxGrade, energyGrade) != tier {
				continue
			}
			if sl.remaining < t.EstimatedDuration {
				continue
			}
			return sl, recordCompatibility(ctxGrade, energyGrade)
		}
	}
	return nil, ""
}
