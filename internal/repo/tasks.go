package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

const taskColumns = `id,user_id,org_id,title,priority,status,due_date,estimated_duration,required_context,required_energy,seq,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var dueDate, requiredEnergy sql.NullString
	var seq sql.NullInt64
	err := scan(&t.ID, &t.UserID, &t.OrgID, &t.Title, &t.Priority, &t.Status,
		&dueDate, &t.EstimatedDuration, &t.RequiredContext, &requiredEnergy,
		&seq, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if requiredEnergy.Valid {
		t.RequiredEnergy = &requiredEnergy.String
	}
	t.Seq = seq.Int64
	return t, nil
}

// InsertTaskTx assigns the next intake sequence number inside the caller's
// transaction, so creation order is total even when created_at ties.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM tasks),?,?)`,
		t.ID, t.UserID, t.OrgID, t.Title, t.Priority, t.Status,
		nullableStringPtr(t.DueDate), t.EstimatedDuration, t.RequiredContext,
		nullableStringPtr(t.RequiredEnergy), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, priority=?, status=?, due_date=?, estimated_duration=?, required_context=?, required_energy=?, updated_at=? WHERE id=?`,
		t.Title, t.Priority, t.Status, nullableStringPtr(t.DueDate), t.EstimatedDuration,
		t.RequiredContext, nullableStringPtr(t.RequiredEnergy), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	UserID          string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// ListSchedulableTasks returns NEW/IN_PROGRESS tasks with no active
// scheduled-task link and a due date absent or on/before rangeEnd, in
// intake-sequence order. This predicate is the idempotence guarantee of the
// planning pass: a re-run never sees already-placed tasks.
func (r Repo) ListSchedulableTasks(ctx context.Context, userID, rangeEnd string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
WHERE user_id=? AND status IN (?,?)
AND (due_date IS NULL OR due_date <= ?)
AND NOT EXISTS (
    SELECT 1 FROM scheduled_tasks s
    WHERE s.task_id = tasks.id AND s.status IN (?,?)
)
ORDER BY seq ASC`
	rows, err := r.DB.QueryContext(ctx, query, userID, domain.TaskNew, domain.TaskInProgress,
		rangeEnd, domain.SchedPlanned, domain.SchedInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE user_id=? GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}
