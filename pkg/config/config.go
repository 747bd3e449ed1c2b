package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the feed archiver
type Config struct {
	// Target site endpoints and markup
	Site SiteConfig `yaml:"site" json:"site"`

	// Headless browser settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Feed traversal limits
	Feed FeedConfig `yaml:"feed" json:"feed"`

	// Image download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Download history database
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SiteConfig describes the single feed being archived
type SiteConfig struct {
	LoginURL        string         `yaml:"login_url" json:"login_url"`
	HomeURL         string         `yaml:"home_url" json:"home_url"`
	ImageHostPrefix string         `yaml:"image_host_prefix" json:"image_host_prefix"`
	CookieDomain    string         `yaml:"cookie_domain" json:"cookie_domain"`
	Selectors       SelectorConfig `yaml:"selectors" json:"selectors"`
}

// SelectorConfig lists the CSS selectors used to read the feed and post views.
// List fields are tried in order, first match wins.
type SelectorConfig struct {
	Card        string   `yaml:"card" json:"card"`
	CardDate    string   `yaml:"card_date" json:"card_date"`
	CardTitle   string   `yaml:"card_title" json:"card_title"`
	Feed        string   `yaml:"feed" json:"feed"`
	DetailRoots []string `yaml:"detail_roots" json:"detail_roots"`
	DetailDates []string `yaml:"detail_dates" json:"detail_dates"`
	BackButtons []string `yaml:"back_buttons" json:"back_buttons"`
}

// BrowserConfig holds headless browser options
type BrowserConfig struct {
	Headless     bool          `yaml:"headless" json:"headless"`
	BinaryPath   string        `yaml:"binary_path" json:"binary_path"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	WindowWidth  int           `yaml:"window_width" json:"window_width"`
	WindowHeight int           `yaml:"window_height" json:"window_height"`
	Language     string        `yaml:"language" json:"language"`
	PageTimeout  time.Duration `yaml:"page_timeout" json:"page_timeout"`
}

// FeedConfig holds traversal limits
type FeedConfig struct {
	LookbackHours int           `yaml:"lookback_hours" json:"lookback_hours"`
	ScrollSteps   int           `yaml:"scroll_steps" json:"scroll_steps"`
	ScrollWait    time.Duration `yaml:"scroll_wait" json:"scroll_wait"`
	DetailWait    time.Duration `yaml:"detail_wait" json:"detail_wait"`
	ReturnTimeout time.Duration `yaml:"return_timeout" json:"return_timeout"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	BaseDirectory     string        `yaml:"base_directory" json:"base_directory"`
	MaxOriginalBytes  int64         `yaml:"max_original_bytes" json:"max_original_bytes"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts     int           `yaml:"retry_attempts" json:"retry_attempts"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// LedgerConfig holds the download history settings
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// LookbackWindow returns the lookback as a duration
func (f FeedConfig) LookbackWindow() time.Duration {
	return time.Duration(f.LookbackHours) * time.Hour
}

// LedgerPath returns the configured ledger path, defaulting to a file inside
// the base download directory. The leading underscore keeps it out of the
// per-day skip sets.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Download.BaseDirectory, "_ledger.db")
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			LoginURL:        "https://parents.codmon.com/menu",
			HomeURL:         "https://parents.codmon.com/home",
			ImageHostPrefix: "https://image.codmon.com/",
			CookieDomain:    "codmon.com",
			Selectors: SelectorConfig{
				Card:      "div.homeCard",
				CardDate:  "div.homeCard_date span",
				CardTitle: "div.homeCard__title",
				Feed:      "div.homeCard",
				DetailRoots: []string{
					"ons-page.diaryDetail",
					"div.diaryDetail",
					"div.notebookPreview",
					"ons-carousel",
				},
				DetailDates: []string{
					"div.diaryDetailTitle",
					"div.diaryDetail__date",
					"div.notebookPreview_date",
					"time",
				},
				BackButtons: []string{
					"ons-back-button",
					".back-button",
					"ons-toolbar .left ons-toolbar-button",
					"[aria-label='戻る']",
					"[aria-label='閉じる']",
				},
			},
		},
		Browser: BrowserConfig{
			Headless:     true,
			UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			WindowWidth:  1280,
			WindowHeight: 2000,
			Language:     "ja-JP",
			PageTimeout:  10 * time.Second,
		},
		Feed: FeedConfig{
			LookbackHours: 72,
			ScrollSteps:   15,
			ScrollWait:    time.Second,
			DetailWait:    3 * time.Second,
			ReturnTimeout: 5 * time.Second,
		},
		Download: DownloadConfig{
			BaseDirectory:     "./downloads",
			MaxOriginalBytes:  40_000_000,
			Timeout:           30 * time.Second,
			RetryAttempts:     2,
			RequestsPerMinute: 60,
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if dir := os.Getenv("FEEDARCHIVER_OUTPUT_DIR"); dir != "" {
		c.Download.BaseDirectory = dir
	}
	if v := os.Getenv("FEEDARCHIVER_LOOKBACK_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDARCHIVER_LOOKBACK_HOURS: %w", err))
		} else {
			c.Feed.LookbackHours = n
		}
	}
	if v := os.Getenv("FEEDARCHIVER_SCROLL_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDARCHIVER_SCROLL_STEPS: %w", err))
		} else {
			c.Feed.ScrollSteps = n
		}
	}
	if v := os.Getenv("FEEDARCHIVER_SCROLL_WAIT_SEC"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDARCHIVER_SCROLL_WAIT_SEC: %w", err))
		} else {
			c.Feed.ScrollWait = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv("FEEDARCHIVER_MAX_ORIGINAL_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDARCHIVER_MAX_ORIGINAL_BYTES: %w", err))
		} else {
			c.Download.MaxOriginalBytes = n
		}
	}
	if v := os.Getenv("FEEDARCHIVER_HEADLESS"); v != "" {
		c.Browser.Headless = strings.ToLower(v) != "false" && v != "0"
	}
	if bin := os.Getenv("FEEDARCHIVER_BROWSER_BIN"); bin != "" {
		c.Browser.BinaryPath = bin
	}
	if logLevel := os.Getenv("FEEDARCHIVER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".feedarchiver.yaml",
		".feedarchiver.yml",
		filepath.Join(home, ".config", "feedarchiver", "config.yaml"),
		filepath.Join(home, ".config", "feedarchiver", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.Site.HomeURL, "http") {
		errs = append(errs, errors.New("site home URL must be an http(s) URL"))
	}
	if !strings.HasPrefix(c.Site.LoginURL, "http") {
		errs = append(errs, errors.New("site login URL must be an http(s) URL"))
	}
	if !strings.HasPrefix(c.Site.ImageHostPrefix, "https://") {
		errs = append(errs, errors.New("image host prefix must start with https://"))
	}
	if c.Site.Selectors.Card == "" {
		errs = append(errs, errors.New("card selector is required"))
	}

	if c.Feed.LookbackHours <= 0 {
		errs = append(errs, errors.New("lookback hours must be positive"))
	}
	if c.Feed.ScrollSteps <= 0 {
		errs = append(errs, errors.New("scroll steps must be positive"))
	}
	if c.Feed.ScrollWait < 0 {
		errs = append(errs, errors.New("scroll wait cannot be negative"))
	}

	if c.Download.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Download.MaxOriginalBytes <= 0 {
		errs = append(errs, errors.New("max original bytes must be positive"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.Download.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Download.BaseDirectory = outputDir
	}
	if hours, ok := flags["lookback-hours"].(int); ok && hours > 0 {
		c.Feed.LookbackHours = hours
	}
	if steps, ok := flags["scroll-steps"].(int); ok && steps > 0 {
		c.Feed.ScrollSteps = steps
	}
	if wait, ok := flags["scroll-wait"].(time.Duration); ok && wait >= 0 {
		c.Feed.ScrollWait = wait
	}
	if limit, ok := flags["max-original-bytes"].(int64); ok && limit > 0 {
		c.Download.MaxOriginalBytes = limit
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment (.env included) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".feedarchiver.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
