package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

const analyticsColumns = `id,user_id,energy_block_id,date,planned_energy,actual_energy,energy_score,tasks_planned,tasks_completed,productivity_score,updated_at`

func scanAnalytics(scan func(dest ...any) error) (domain.EnergyAnalytics, error) {
	var a domain.EnergyAnalytics
	var actual sql.NullString
	err := scan(&a.ID, &a.UserID, &a.EnergyBlockID, &a.Date, &a.PlannedEnergy, &actual,
		&a.EnergyScore, &a.TasksPlanned, &a.TasksCompleted, &a.ProductivityScore, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if actual.Valid {
		a.ActualEnergy = &actual.String
	}
	return a, nil
}

// UpsertAnalyticsTx overwrites the row for (user, block, date); recomputation
// never duplicates.
func (r Repo) UpsertAnalyticsTx(ctx context.Context, tx *sql.Tx, a domain.EnergyAnalytics) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO energy_analytics(`+analyticsColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(user_id, energy_block_id, date) DO UPDATE SET
planned_energy=excluded.planned_energy, actual_energy=excluded.actual_energy,
energy_score=excluded.energy_score, tasks_planned=excluded.tasks_planned,
tasks_completed=excluded.tasks_completed, productivity_score=excluded.productivity_score,
updated_at=excluded.updated_at`,
		a.ID, a.UserID, a.EnergyBlockID, a.Date, a.PlannedEnergy, nullableStringPtr(a.ActualEnergy),
		a.EnergyScore, a.TasksPlanned, a.TasksCompleted, a.ProductivityScore, a.UpdatedAt)
	return err
}

type AnalyticsFilters struct {
	UserID   string
	BlockID  string
	Date     string
	DateFrom string
	DateTo   string
}

func (r Repo) ListAnalytics(ctx context.Context, f AnalyticsFilters) ([]domain.EnergyAnalytics, error) {
	query := `SELECT ` + analyticsColumns + ` FROM energy_analytics WHERE user_id=?`
	args := []any{f.UserID}
	if f.BlockID != "" {
		query += ` AND energy_block_id=?`
		args = append(args, f.BlockID)
	}
	if f.Date != "" {
		query += ` AND date=?`
		args = append(args, f.Date)
	}
	if f.DateFrom != "" {
		query += ` AND date >= ?`
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		query += ` AND date <= ?`
		args = append(args, f.DateTo)
	}
	query += ` ORDER BY date ASC, energy_block_id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EnergyAnalytics
	for rows.Next() {
		a, err := scanAnalytics(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// BlockEnergyScores returns per-block mean energy score and sample count over
// a trailing window, feeding the realized-energy demotion in the planner.
func (r Repo) BlockEnergyScores(ctx context.Context, userID, dateFrom, dateTo string) (map[string]BlockScore, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT energy_block_id, AVG(energy_score), COUNT(*)
FROM energy_analytics
WHERE user_id=? AND date BETWEEN ? AND ? AND tasks_completed > 0
GROUP BY energy_block_id`, userID, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]BlockScore{}
	for rows.Next() {
		var blockID string
		var score BlockScore
		if err := rows.Scan(&blockID, &score.Mean, &score.Samples); err != nil {
			return nil, err
		}
		res[blockID] = score
	}
	return res, nil
}

type BlockScore struct {
	Mean    float64
	Samples int
}
