package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

const schedColumns = `id,task_id,user_id,energy_block_id,scheduled_date,estimated_duration,actual_duration,status,compatibility,estimate_accuracy,started_at,completed_at,was_rescheduled,created_at,updated_at`

func scanScheduled(scan func(dest ...any) error) (domain.ScheduledTask, error) {
	var s domain.ScheduledTask
	var taskID, accuracy, startedAt, completedAt sql.NullString
	var actual sql.NullInt64
	var rescheduled int
	err := scan(&s.ID, &taskID, &s.UserID, &s.EnergyBlockID, &s.ScheduledDate,
		&s.EstimatedDuration, &actual, &s.Status, &s.Compatibility, &accuracy,
		&startedAt, &completedAt, &rescheduled, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if taskID.Valid {
		s.TaskID = &taskID.String
	}
	if actual.Valid {
		v := int(actual.Int64)
		s.ActualDuration = &v
	}
	if accuracy.Valid {
		s.EstimateAccuracy = &accuracy.String
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.String
	}
	s.WasRescheduled = rescheduled != 0
	return s, nil
}

func (r Repo) InsertScheduledTx(ctx context.Context, tx *sql.Tx, s domain.ScheduledTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scheduled_tasks(`+schedColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, nullableStringPtr(s.TaskID), s.UserID, s.EnergyBlockID, s.ScheduledDate,
		s.EstimatedDuration, nullableIntPtr(s.ActualDuration), s.Status, s.Compatibility,
		nullableStringPtr(s.EstimateAccuracy), nullableStringPtr(s.StartedAt),
		nullableStringPtr(s.CompletedAt), boolToInt(s.WasRescheduled), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateScheduledTx(ctx context.Context, tx *sql.Tx, s domain.ScheduledTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET status=?, actual_duration=?, estimate_accuracy=?, started_at=?, completed_at=?, was_rescheduled=?, updated_at=? WHERE id=?`,
		s.Status, nullableIntPtr(s.ActualDuration), nullableStringPtr(s.EstimateAccuracy),
		nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt),
		boolToInt(s.WasRescheduled), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetScheduled(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+schedColumns+` FROM scheduled_tasks WHERE id=?`, id)
	return scanScheduled(row.Scan)
}

type ScheduledFilters struct {
	UserID     string
	BlockID    string
	TaskID     string
	DateFrom   string
	DateTo     string
	Status     string
	ActiveOnly bool
}

func (r Repo) ListScheduled(ctx context.Context, f ScheduledFilters) ([]domain.ScheduledTask, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.BlockID != "" {
		clauses = append(clauses, "energy_block_id=?")
		args = append(args, f.BlockID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "scheduled_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "scheduled_date <= ?")
		args = append(args, f.DateTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "status IN (?,?)")
		args = append(args, domain.SchedPlanned, domain.SchedInProgress)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + schedColumns + ` FROM scheduled_tasks ` + where +
		` ORDER BY scheduled_date ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledTask
	for rows.Next() {
		s, err := scanScheduled(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// CommittedMinutes sums estimated minutes of active rows per (block, date)
// over a range. The planning pass seeds its capacity ledger from this.
func (r Repo) CommittedMinutes(ctx context.Context, userID, dateFrom, dateTo string) (map[string]map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT energy_block_id, scheduled_date, COALESCE(SUM(estimated_duration),0)
FROM scheduled_tasks
WHERE user_id=? AND scheduled_date BETWEEN ? AND ? AND status IN (?,?)
GROUP BY energy_block_id, scheduled_date`,
		userID, dateFrom, dateTo, domain.SchedPlanned, domain.SchedInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]map[string]int{}
	for rows.Next() {
		var blockID, date string
		var minutes int
		if err := rows.Scan(&blockID, &date, &minutes); err != nil {
			return nil, err
		}
		if res[blockID] == nil {
			res[blockID] = map[string]int{}
		}
		res[blockID][date] = minutes
	}
	return res, nil
}
