package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"signflow/internal/domain"
)

// Config models signflow.yml.
type Config struct {
	Account struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"account"`
	Pages struct {
		Width  float64 `yaml:"width"`
		Height float64 `yaml:"height"`
	} `yaml:"pages"`
	Documents struct {
		WorkflowType string `yaml:"workflow_type"`
		ExpiryDays   int    `yaml:"expiry_days"`
		Reminders    struct {
			Enabled    bool  `yaml:"enabled"`
			DayOffsets []int `yaml:"day_offsets"`
		} `yaml:"reminders"`
	} `yaml:"documents"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sf config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("config.account.id is required")
	}
	if c.Pages.Width <= 0 || c.Pages.Height <= 0 {
		return fmt.Errorf("config.pages.width and height must be positive")
	}
	switch c.Documents.WorkflowType {
	case domain.WorkflowSingle, domain.WorkflowSequential, domain.WorkflowParallel:
	default:
		return fmt.Errorf("config.documents.workflow_type must be single, sequential or parallel")
	}
	if c.Documents.ExpiryDays < 0 {
		return fmt.Errorf("config.documents.expiry_days must be >= 0")
	}
	prev := 0
	for _, d := range c.Documents.Reminders.DayOffsets {
		if d <= 0 {
			return fmt.Errorf("reminder day offsets must be positive, got %d", d)
		}
		if d <= prev {
			return fmt.Errorf("reminder day offsets must be strictly increasing")
		}
		prev = d
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// PageDimensions returns the configured page size. One size for the whole
// document until a PDF renderer supplies per-page geometry.
func (c *Config) PageDimensions() (width, height float64) {
	return c.Pages.Width, c.Pages.Height
}

// ReminderDefaults returns the configured default reminder settings.
func (c *Config) ReminderDefaults() domain.ReminderSettings {
	return domain.ReminderSettings{
		Enabled:    c.Documents.Reminders.Enabled,
		DayOffsets: append([]int(nil), c.Documents.Reminders.DayOffsets...),
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "signflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(accountID string) string {
	return fmt.Sprintf(defaultTemplate, accountID)
}

// Default returns the default Config struct for an account.
func Default(accountID string) *Config {
	var cfg Config
	cfg.Account.ID = accountID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, accountID))).Decode(&cfg)
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

const defaultTemplate = `account:
  id: %s
  name: Default Account

pages:
  # US letter at 72 dpi; replace when a renderer supplies real geometry.
  width: 612
  height: 792

documents:
  workflow_type: parallel
  expiry_days: 30
  reminders:
    enabled: true
    day_offsets: [3, 7, 14]

webhooks: []
`
