package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml. The equivalence sets are the static context
// substitution table consulted by the compatibility resolver; they are
// configuration data, never inferred.
type Config struct {
	User struct {
		ID    string `yaml:"id" json:"id"`
		OrgID string `yaml:"org_id" json:"org_id"`
	} `yaml:"user" json:"user"`
	Planner struct {
		MaxHorizonDays     int     `yaml:"max_horizon_days" json:"max_horizon_days"`
		RescheduleWindow   int     `yaml:"reschedule_window_days" json:"reschedule_window_days"`
		ToleranceBand      float64 `yaml:"tolerance_band" json:"tolerance_band"`
		FeedbackWindowDays int     `yaml:"feedback_window_days" json:"feedback_window_days"`
		FeedbackMinSamples int     `yaml:"feedback_min_samples" json:"feedback_min_samples"`
		FeedbackThreshold  float64 `yaml:"feedback_threshold" json:"feedback_threshold"`
	} `yaml:"planner" json:"planner"`
	Contexts struct {
		Equivalences [][]string `yaml:"equivalences" json:"equivalences"`
	} `yaml:"contexts" json:"contexts"`
	Calendar struct {
		Holidays []string `yaml:"holidays" json:"holidays"`
	} `yaml:"calendar" json:"calendar"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("config.user.id is required")
	}
	if c.Planner.MaxHorizonDays <= 0 {
		return fmt.Errorf("config.planner.max_horizon_days must be positive")
	}
	if c.Planner.RescheduleWindow <= 0 {
		return fmt.Errorf("config.planner.reschedule_window_days must be positive")
	}
	if c.Planner.ToleranceBand <= 0 || c.Planner.ToleranceBand >= 1 {
		return fmt.Errorf("config.planner.tolerance_band must be in (0,1)")
	}
	if c.Planner.FeedbackThreshold < 0 || c.Planner.FeedbackThreshold > 1 {
		return fmt.Errorf("config.planner.feedback_threshold must be in [0,1]")
	}
	for i, set := range c.Contexts.Equivalences {
		if len(set) < 2 {
			return fmt.Errorf("contexts.equivalences[%d] needs at least two tags", i)
		}
		for _, tag := range set {
			if tag == "" {
				return fmt.Errorf("contexts.equivalences[%d] has empty tag", i)
			}
		}
	}
	for _, day := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("calendar.holidays entry %q is not YYYY-MM-DD", day)
		}
	}
	return nil
}

// IsHoliday reports whether date (YYYY-MM-DD) is in the holiday calendar.
func (c *Config) IsHoliday(date string) bool {
	for _, day := range c.Calendar.Holidays {
		if day == date {
			return true
		}
	}
	return false
}

// EquivalentContexts returns the substitution set for a tag, tag excluded.
func (c *Config) EquivalentContexts(tag string) []string {
	var out []string
	for _, set := range c.Contexts.Equivalences {
		member := false
		for _, t := range set {
			if t == tag {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		for _, t := range set {
			if t != tag {
				out = append(out, t)
			}
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a user.
func Default(userID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, userID))).Decode(&cfg)
	cfg.User.ID = userID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(userID string) string {
	return fmt.Sprintf(defaultTemplate, userID)
}

const defaultTemplate = `user:
  id: %s
  org_id: default-org

planner:
  max_horizon_days: 31
  reschedule_window_days: 14
  tolerance_band: 0.2
  feedback_window_days: 14
  feedback_min_samples: 5
  feedback_threshold: 0.4

contexts:
  equivalences:
    - ["@phone", "@calls"]
    - ["@computer", "@desk"]
    - ["@errands", "@out"]

calendar:
  holidays: []
`
