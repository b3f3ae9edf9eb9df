// Package pipeline sequences one design QA run: resolve the design
// document, fetch reference renders, capture the live page, compare,
// validate, and optionally dispatch tickets.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration. It is built once (file plus
// environment) and passed into the orchestrator; nothing reads the
// environment at call time.
type Config struct {
	Figma   FigmaConfig   `yaml:"figma"`
	Capture CaptureConfig `yaml:"capture"`
	Compare CompareConfig `yaml:"compare"`
	Tracker TrackerConfig `yaml:"tracker"`
	History HistoryConfig `yaml:"history"`

	// MaxFrames bounds how many document frames get reference renders
	// in one run.
	MaxFrames int `yaml:"max_frames"`

	// ScratchRoot is where per-run scratch directories are created.
	// Empty means the system temp directory.
	ScratchRoot string `yaml:"scratch_root"`

	// KeepArtifacts leaves the scratch directory in place after the run
	// instead of removing it on teardown.
	KeepArtifacts bool `yaml:"keep_artifacts"`
}

// FigmaConfig configures the design-document service client.
type FigmaConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// CaptureConfig configures the browser session.
type CaptureConfig struct {
	RemoteURL   string        `yaml:"remote_url"`
	NavTimeout  time.Duration `yaml:"nav_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// CompareConfig configures image comparison.
type CompareConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// TrackerConfig configures ticket dispatch. Dispatch is skipped when
// BaseURL is empty.
type TrackerConfig struct {
	BaseURL     string        `yaml:"base_url"`
	User        string        `yaml:"user"`
	Token       string        `yaml:"token"`
	ProjectKey  string        `yaml:"project_key"`
	Assignee    string        `yaml:"assignee"`
	SubmitDelay time.Duration `yaml:"submit_delay"`
}

// HistoryConfig configures the run-history database. Empty path disables
// persistence.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

func (c *Config) applyDefaults() {
	if c.Compare.Threshold <= 0 || c.Compare.Threshold > 1 {
		c.Compare.Threshold = 0.95
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = 5
	}
	if c.Capture.NavTimeout <= 0 {
		c.Capture.NavTimeout = 30 * time.Second
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 3 * time.Second
	}
	if c.Tracker.SubmitDelay <= 0 {
		c.Tracker.SubmitDelay = 500 * time.Millisecond
	}
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("pipeline: parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv fills credential fields from the environment where the file
// left them empty. The CLI loads .env via godotenv before calling this.
func (c *Config) FromEnv() {
	envOr := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	envOr(&c.Figma.Token, "FIGMA_TOKEN")
	envOr(&c.Tracker.BaseURL, "JIRA_SERVER")
	envOr(&c.Tracker.User, "JIRA_USER")
	envOr(&c.Tracker.Token, "JIRA_API_TOKEN")
	envOr(&c.Tracker.ProjectKey, "JIRA_PROJECT_KEY")
}
