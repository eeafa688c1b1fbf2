package config_test

import (
	"strings"
	"testing"

	"planline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("u1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.User.ID != "u1" {
		t.Fatalf("user id = %q", cfg.User.ID)
	}
	if cfg.Planner.MaxHorizonDays != 31 || cfg.Planner.ToleranceBand != 0.2 {
		t.Fatalf("planner defaults = %+v", cfg.Planner)
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("u1")))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.User.ID != "u1" {
		t.Fatalf("user id = %q", cfg.User.ID)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing user", func(c *config.Config) { c.User.ID = "" }, "user.id"},
		{"zero horizon", func(c *config.Config) { c.Planner.MaxHorizonDays = 0 }, "max_horizon_days"},
		{"band out of range", func(c *config.Config) { c.Planner.ToleranceBand = 1.5 }, "tolerance_band"},
		{"singleton equivalence", func(c *config.Config) {
			c.Contexts.Equivalences = [][]string{{"@lonely"}}
		}, "equivalences"},
		{"bad holiday", func(c *config.Config) {
			c.Calendar.Holidays = []string{"March 2nd"}
		}, "holidays"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default("u1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestEquivalentContexts(t *testing.T) {
	cfg := config.Default("u1")
	cfg.Contexts.Equivalences = [][]string{{"@phone", "@calls"}, {"@computer", "@desk", "@laptop"}}

	got := cfg.EquivalentContexts("@desk")
	if len(got) != 2 || got[0] != "@computer" || got[1] != "@laptop" {
		t.Fatalf("equivalents = %v", got)
	}
	if got := cfg.EquivalentContexts("@nowhere"); got != nil {
		t.Fatalf("unknown tag should have no equivalents, got %v", got)
	}
}

func TestIsHoliday(t *testing.T) {
	cfg := config.Default("u1")
	cfg.Calendar.Holidays = []string{"2026-12-25"}
	if !cfg.IsHoliday("2026-12-25") {
		t.Fatalf("expected holiday")
	}
	if cfg.IsHoliday("2026-12-24") {
		t.Fatalf("unexpected holiday")
	}
}
