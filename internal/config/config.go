package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "hourline.yml"

// Config models hourline.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Timesheet struct {
		Tasks     []string `yaml:"tasks"`
		WeekStart string   `yaml:"week_start"`
	} `yaml:"timesheet"`
	Variance struct {
		Threshold       string `yaml:"threshold"`
		BaselinePeriods int    `yaml:"baseline_periods"`
	} `yaml:"variance"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// WebhookConfig is one outbound receiver of audit events.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	seen := map[string]bool{}
	for _, task := range c.Timesheet.Tasks {
		task = strings.TrimSpace(task)
		if task == "" {
			return fmt.Errorf("config.timesheet.tasks contains an empty task")
		}
		if seen[task] {
			return fmt.Errorf("config.timesheet.tasks lists %s twice", task)
		}
		seen[task] = true
	}
	if _, err := c.WeekStart(); err != nil {
		return err
	}
	if _, err := c.VarianceThreshold(); err != nil {
		return err
	}
	if c.Variance.BaselinePeriods < 0 {
		return fmt.Errorf("config.variance.baseline_periods must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// WeekStart parses timesheet.week_start, defaulting to Monday.
func (c *Config) WeekStart() (time.Weekday, error) {
	name := strings.TrimSpace(c.Timesheet.WeekStart)
	if name == "" {
		return time.Monday, nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), name) {
			return wd, nil
		}
	}
	return time.Monday, fmt.Errorf("config.timesheet.week_start %q is not a weekday", name)
}

// VarianceThreshold parses variance.threshold as a percent, defaulting to 10.
func (c *Config) VarianceThreshold() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Variance.Threshold)
	if raw == "" {
		return decimal.NewFromInt(10), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("config.variance.threshold %q must be a positive number", raw)
	}
	return d, nil
}

// BaselinePeriods is the number of prior periods averaged for variance, at least one.
func (c *Config) BaselinePeriods() int {
	if c.Variance.BaselinePeriods <= 0 {
		return 1
	}
	return c.Variance.BaselinePeriods
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
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

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspaceID))).Decode(&cfg)
	cfg.Workspace.ID = workspaceID
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

const defaultTemplate = `workspace:
  id: %s

timesheet:
  tasks: [Development, Design, Review, Meeting, Planning, Testing]
  week_start: Monday

variance:
  threshold: "10"
  baseline_periods: 1

rbac:
  roles:
    owner:
      description: "Full access, sees rates and costs"
      permissions: [rates.view, entries.write, entries.review, contributors.write, apikeys.write]
    reviewer:
      description: "Approves and rejects submitted time, sees rates"
      permissions: [rates.view, entries.review]
    contributor:
      description: "Records and submits own time"
      permissions: [entries.write]
`
