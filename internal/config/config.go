// Package config loads stepshot settings: defaults, then stepshot.yaml, then STEPSHOT_*
// environment variables. Command-line flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v0xg/stepshot/internal/ai"
	"github.com/v0xg/stepshot/internal/browser"
	"github.com/v0xg/stepshot/internal/gifgen"
	"github.com/v0xg/stepshot/internal/logging"
	"github.com/v0xg/stepshot/internal/runner"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "stepshot.yaml"

// Config is the decoded settings file. Durations are Go duration strings ("10m", "500ms").
type Config struct {
	OutputDir string        `yaml:"output_dir"`
	History   string        `yaml:"history"` // SQLite path; empty disables the ledger
	Budget    time.Duration `yaml:"budget"`
	Parallel  int           `yaml:"parallel"`

	Executor Executor `yaml:"executor"`
	Browser  Browser  `yaml:"browser"`
	AI       AI       `yaml:"ai"`
	GIF      GIF      `yaml:"gif"`
	Log      Log      `yaml:"log"`
}

type Executor struct {
	MaxVisits      int           `yaml:"max_visits"`
	Backoff        time.Duration `yaml:"backoff"`
	Settle         time.Duration `yaml:"settle"` // negative disables the pre-capture delay
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

type Browser struct {
	Engine     string `yaml:"engine"`
	Headless   bool   `yaml:"headless"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	BinPath    string `yaml:"bin"`
	ProfileDir string `yaml:"profile"`
	NoSandbox  bool   `yaml:"no_sandbox"`
}

type AI struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

type GIF struct {
	Enabled    bool          `yaml:"enabled"`
	FrameDelay time.Duration `yaml:"frame_delay"`
	MaxWidth   uint          `yaml:"max_width"`
}

type Log struct {
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

// Default returns the built-in settings.
func Default() *Config {
	b := browser.DefaultOptions()
	return &Config{
		OutputDir: "runs",
		History:   "stepshot.db",
		Budget:    runner.DefaultBudget,
		Parallel:  2,
		Executor: Executor{
			MaxVisits:      3,
			Backoff:        500 * time.Millisecond,
			Settle:         300 * time.Millisecond,
			CaptureTimeout: 30 * time.Second,
		},
		Browser: Browser{
			Engine:   string(b.Engine),
			Headless: b.Headless,
			Width:    b.Width,
			Height:   b.Height,
		},
		AI: AI{Provider: "claude"},
		GIF: GIF{
			FrameDelay: 1500 * time.Millisecond,
			MaxWidth:   800,
		},
		Log: Log{Format: string(logging.FormatText)},
	}
}

// Load reads path over the defaults and applies environment overrides. An empty path reads
// DefaultFile if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := loadFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadFile decodes over the values already in cfg, so absent keys keep their defaults.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("STEPSHOT_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("STEPSHOT_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("STEPSHOT_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("STEPSHOT_BROWSER"); v != "" {
		cfg.Browser.Engine = v
	}
	if v := strings.TrimSpace(os.Getenv("STEPSHOT_HEADLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STEPSHOT_HEADLESS: %w", err)
		}
		cfg.Browser.Headless = b
	}
	return nil
}

// Validate rejects settings the runner cannot work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output_dir is empty")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %s", c.Budget)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.Executor.MaxVisits < 1 {
		return fmt.Errorf("executor.max_visits must be at least 1, got %d", c.Executor.MaxVisits)
	}
	switch browser.Engine(strings.ToLower(c.Browser.Engine)) {
	case browser.EngineRod, browser.EngineChromedp:
	default:
		return fmt.Errorf("unknown browser engine %q (supported: rod, chromedp)", c.Browser.Engine)
	}
	if c.Browser.Width < 0 || c.Browser.Height < 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Browser.Width, c.Browser.Height)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return err
	}
	return nil
}

// BrowserOptions converts the browser section for browser.Open.
func (c *Config) BrowserOptions(log *slog.Logger) browser.Options {
	return browser.Options{
		Engine:     browser.Engine(strings.ToLower(c.Browser.Engine)),
		Headless:   c.Browser.Headless,
		Width:      c.Browser.Width,
		Height:     c.Browser.Height,
		BinPath:    c.Browser.BinPath,
		ProfileDir: c.Browser.ProfileDir,
		NoSandbox:  c.Browser.NoSandbox,
		Logger:     log,
	}
}

// AIConfig converts the ai section for ai.NewGenerator. Keys come from the environment.
func (c *Config) AIConfig() ai.Config {
	return ai.Config{
		Provider:  c.AI.Provider,
		Model:     c.AI.Model,
		BaseURL:   c.AI.BaseURL,
		MaxTokens: c.AI.MaxTokens,
	}
}

// RunnerOptions converts the run settings. Sessions, History and OnStep are left to the caller.
func (c *Config) RunnerOptions(log *slog.Logger) runner.Options {
	opts := runner.Options{
		OutputDir:      c.OutputDir,
		Budget:         c.Budget,
		MaxVisits:      c.Executor.MaxVisits,
		Backoff:        c.Executor.Backoff,
		Settle:         c.Executor.Settle,
		CaptureTimeout: c.Executor.CaptureTimeout,
		Logger:         log,
	}
	if c.GIF.Enabled {
		opts.GIF = &gifgen.Options{FrameDelay: c.GIF.FrameDelay, MaxWidth: c.GIF.MaxWidth}
	}
	return opts
}
