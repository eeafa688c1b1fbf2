package repo_test

import (
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/repo"
)

func TestParseClock(t *testing.T) {
	if m, err := repo.ParseClock("09:30"); err != nil || m != 9*60+30 {
		t.Fatalf("ParseClock(09:30) = %d, %v", m, err)
	}
	if _, err := repo.ParseClock("9am"); err == nil {
		t.Fatalf("ParseClock(9am) should fail")
	}
}

func TestBlockDurationMinutes(t *testing.T) {
	b := domain.EnergyBlock{ID: "b1", StartTime: "09:00", EndTime: "11:30"}
	if m, err := repo.BlockDurationMinutes(b); err != nil || m != 150 {
		t.Fatalf("duration = %d, %v", m, err)
	}
	b.EndTime = "09:00"
	if _, err := repo.BlockDurationMinutes(b); err == nil {
		t.Fatalf("empty window should fail")
	}
}

func TestBlockAppliesOn(t *testing.T) {
	cfg := config.Default("u1")
	cfg.Calendar.Holidays = []string{"2026-03-04"}
	b := domain.EnergyBlock{AppliesOnWorkdays: true}

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	holiday := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	if !repo.BlockAppliesOn(b, monday, cfg) {
		t.Fatalf("workday block should apply on Monday")
	}
	if repo.BlockAppliesOn(b, saturday, cfg) {
		t.Fatalf("workday block should not apply on Saturday")
	}
	// the holiday flag overrides the workday flag on holiday dates
	if repo.BlockAppliesOn(b, holiday, cfg) {
		t.Fatalf("workday block should not apply on a holiday")
	}
	b.AppliesOnHolidays = true
	if !repo.BlockAppliesOn(b, holiday, cfg) {
		t.Fatalf("holiday block should apply on a holiday")
	}
}
