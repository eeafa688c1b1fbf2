package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
)

const blockColumns = `id,user_id,org_id,name,start_time,end_time,required_energy,primary_context,alternate_contexts_json,is_break,applies_on_workdays,applies_on_weekends,applies_on_holidays,sort_order,is_active,created_at,updated_at`

func scanBlock(scan func(dest ...any) error) (domain.EnergyBlock, error) {
	var b domain.EnergyBlock
	var alternates sql.NullString
	var isBreak, workdays, weekends, holidays, active int
	err := scan(&b.ID, &b.UserID, &b.OrgID, &b.Name, &b.StartTime, &b.EndTime, &b.RequiredEnergy,
		&b.PrimaryContext, &alternates, &isBreak, &workdays, &weekends, &holidays,
		&b.SortOrder, &active, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.AlternateContexts = unmarshalStrings(alternates)
	b.IsBreak = isBreak != 0
	b.AppliesOnWorkdays = workdays != 0
	b.AppliesOnWeekends = weekends != 0
	b.AppliesOnHolidays = holidays != 0
	b.IsActive = active != 0
	return b, nil
}

func (r Repo) InsertBlockTx(ctx context.Context, tx *sql.Tx, b domain.EnergyBlock) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO energy_blocks(`+blockColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.UserID, b.OrgID, b.Name, b.StartTime, b.EndTime, b.RequiredEnergy, b.PrimaryContext,
		marshalStrings(b.AlternateContexts), boolToInt(b.IsBreak), boolToInt(b.AppliesOnWorkdays),
		boolToInt(b.AppliesOnWeekends), boolToInt(b.AppliesOnHolidays), b.SortOrder, boolToInt(b.IsActive),
		b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) UpdateBlockTx(ctx context.Context, tx *sql.Tx, b domain.EnergyBlock) error {
	res, err := tx.ExecContext(ctx, `UPDATE energy_blocks SET name=?, start_time=?, end_time=?, required_energy=?, primary_context=?, alternate_contexts_json=?, is_break=?, applies_on_workdays=?, applies_on_weekends=?, applies_on_holidays=?, sort_order=?, is_active=?, updated_at=? WHERE id=?`,
		b.Name, b.StartTime, b.EndTime, b.RequiredEnergy, b.PrimaryContext,
		marshalStrings(b.AlternateContexts), boolToInt(b.IsBreak), boolToInt(b.AppliesOnWorkdays),
		boolToInt(b.AppliesOnWeekends), boolToInt(b.AppliesOnHolidays), b.SortOrder, boolToInt(b.IsActive),
		b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetBlock(ctx context.Context, id string) (domain.EnergyBlock, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM energy_blocks WHERE id=?`, id)
	return scanBlock(row.Scan)
}

type BlockFilters struct {
	UserID     string
	ActiveOnly bool
	SkipBreaks bool
}

// ListBlocks returns blocks ordered by (sort_order, start_time, id), the
// walk order the planning pass relies on.
func (r Repo) ListBlocks(ctx context.Context, f BlockFilters) ([]domain.EnergyBlock, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	if f.SkipBreaks {
		clauses = append(clauses, "is_break=0")
	}
	query := `SELECT ` + blockColumns + ` FROM energy_blocks WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY sort_order ASC, start_time ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EnergyBlock
	for rows.Next() {
		b, err := scanBlock(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}

// BlockDurationMinutes returns the block window length. End before start is a
// data error surfaced here rather than silently scheduled into.
func BlockDurationMinutes(b domain.EnergyBlock) (int, error) {
	start, err := ParseClock(b.StartTime)
	if err != nil {
		return 0, fmt.Errorf("block %s start: %w", b.ID, err)
	}
	end, err := ParseClock(b.EndTime)
	if err != nil {
		return 0, fmt.Errorf("block %s end: %w", b.ID, err)
	}
	if end <= start {
		return 0, fmt.Errorf("block %s window %s-%s is empty", b.ID, b.StartTime, b.EndTime)
	}
	return end - start, nil
}

// ParseClock converts "HH:MM" to minutes from midnight.
func ParseClock(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BlockAppliesOn evaluates the block's day flags against a calendar date.
// The holiday flag wins over the workday/weekend flags on holiday dates.
func BlockAppliesOn(b domain.EnergyBlock, date time.Time, cfg *config.Config) bool {
	if cfg != nil && cfg.IsHoliday(date.Format("2006-01-02")) {
		return b.AppliesOnHolidays
	}
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return b.AppliesOnWeekends
	default:
		return b.AppliesOnWorkdays
	}
}
