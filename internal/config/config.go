// Package config resolves the complete configuration before anything runs:
// defaults first, then the optional yaml file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/dealskyr/internal/fetch"
	"github.com/jakopako/dealskyr/internal/output"
	"github.com/jakopako/dealskyr/internal/parse"
	"github.com/jakopako/dealskyr/internal/scraper"
	"github.com/jakopako/dealskyr/internal/store"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

type BrowserConfig struct {
	Headless        bool   `yaml:"headless" env:"PUPPETEER_HEADLESS,HEADLESS" env-description:"run chrome without a window"`
	TimeoutMs       int    `yaml:"timeout_ms" env:"TIMEOUT_MS" env-description:"timeout of a single browser step"`
	LaunchTimeoutMs int    `yaml:"launch_timeout_ms" env:"LAUNCH_TIMEOUT" env-description:"timeout for starting chrome"`
	UserAgent       string `yaml:"user_agent" env:"USER_AGENT"`
	AcceptLanguage  string `yaml:"accept_language" env:"ACCEPT_LANGUAGE"`
}

type PaginationConfig struct {
	PageSize      int    `yaml:"page_size" env:"AMAZON_PAGE_SIZE" env-description:"items per indexed page"`
	MaxPageChecks int    `yaml:"max_page_checks" env:"AMAZON_MAX_PAGE_CHECKS"`
	SweepSteps    int    `yaml:"sweep_steps" env:"AMAZON_SWEEP_STEPS" env-description:"scroll steps per page to render lazy cards"`
	PageParam     string `yaml:"page_param" env:"AMAZON_PAGE_PARAM"`
	LastIDParam   string `yaml:"last_id_param" env:"AMAZON_LAST_ID_PARAM" env-description:"query parameter for the last id hint, empty to disable"`
}

type ScrollConfig struct {
	MaxScrollAttempts int `yaml:"max_scroll_attempts" env:"AMAZON_MAX_SCROLL_ATTEMPTS"`
	MaxNoNew          int `yaml:"max_no_new" env:"AMAZON_MAX_NO_NEW" env-description:"consecutive scroll cycles without new items before giving up"`
	MaxReloads        int `yaml:"max_reloads" env:"AMAZON_MAX_RELOADS"`
	ScrollDelayMs     int `yaml:"scroll_delay_ms" env:"AMAZON_SCROLL_DELAY_MS"`
}

type StateConfig struct {
	SeenIDsPath      string `yaml:"seen_ids_path" env:"SEEN_IDS_PATH"`
	LastPositionPath string `yaml:"last_position_path" env:"LAST_POSITION_PATH"`
	CookiesPath      string `yaml:"cookies_path" env:"COOKIES_PATH"`
	SeenThreshold    int    `yaml:"seen_threshold" env:"SEEN_THRESHOLD" env-description:"reset all state once more ids were seen"`
}

// Config defines the overall structure of the configuration.
// Values will be taken from a config yml file or environment variables
// or both.
type Config struct {
	ListingURL    string `yaml:"listing_url" env:"AMAZON_DEALS_URL" env-description:"deals listing page, required"`
	Source        string `yaml:"source" env:"DEALS_SOURCE"`
	AffiliateTag  string `yaml:"affiliate_tag" env:"AMAZON_TAG"`
	Limit         int    `yaml:"limit" env:"DEALS_LIMIT"`
	OnlyDiscounts bool   `yaml:"only_discounts" env:"AMAZON_ONLY_DISCOUNTS,ONLY_DISCOUNTS"`

	Retries          int `yaml:"retries" env:"LAUNCH_RETRIES"`
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms" env:"RETRY_BASE_DELAY_MS"`

	Browser    BrowserConfig    `yaml:"browser"`
	Pagination PaginationConfig `yaml:"pagination"`
	Scroll     ScrollConfig     `yaml:"scroll"`
	State      StateConfig      `yaml:"state"`

	DebugDir    string `yaml:"debug_dir" env:"DEBUG_DIR"`
	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE" env-description:"prometheus textfile written after each run"`

	Writer output.WriterConfig `yaml:"writer"`
}

// DefaultConfig returns the defaults every other source overrides.
func DefaultConfig() *Config {
	return &Config{
		Source:           "amazon",
		Limit:            10,
		OnlyDiscounts:    true,
		Retries:          2,
		RetryBaseDelayMs: 1000,
		Browser: BrowserConfig{
			Headless:        true,
			TimeoutMs:       30000,
			LaunchTimeoutMs: 30000,
			UserAgent:       fetch.DefaultUserAgent,
			AcceptLanguage:  fetch.DefaultAcceptLanguage,
		},
		Pagination: PaginationConfig{
			PageSize:      60,
			MaxPageChecks: 5,
			SweepSteps:    8,
			PageParam:     "startIndex",
		},
		Scroll: ScrollConfig{
			MaxScrollAttempts: 120,
			MaxNoNew:          12,
			MaxReloads:        3,
			ScrollDelayMs:     1500,
		},
		State: StateConfig{
			SeenIDsPath:      store.DefaultSeenIDsPath,
			LastPositionPath: store.DefaultPositionPath,
			CookiesPath:      store.DefaultCookiesPath,
			SeenThreshold:    300,
		},
		Writer: output.WriterConfig{Type: output.STDOUT_WRITER_TYPE},
	}
}

// NewConfig reads and validates the configuration.
func NewConfig(configPath, envFile string) (*Config, error) {
	c, err := Read(configPath, envFile)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Read resolves the configuration without validating it. envFile and
// configPath are optional; missing files are skipped. Variables from
// envFile are exported to the process environment before the environment
// is read.
func Read(configPath, envFile string) (*Config, error) {
	c := DefaultConfig()

	if ok, err := exists(envFile); err != nil {
		return nil, err
	} else if ok {
		if err := cleanenv.ReadConfig(envFile, c); err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	ok, err := exists(configPath)
	if err != nil {
		return nil, err
	}
	if ok {
		err = cleanenv.ReadConfig(configPath, c)
	} else {
		err = cleanenv.ReadEnv(c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return c, nil
}

func exists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty, set AMAZON_DEALS_URL")
	}
	parsedURL, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("invalid listing URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("listing URL must include a host")
	}
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}
	if c.RetryBaseDelayMs < 0 {
		return fmt.Errorf("retry base delay cannot be negative")
	}
	if c.Browser.TimeoutMs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Browser.LaunchTimeoutMs <= 0 {
		return fmt.Errorf("launch timeout must be positive")
	}
	if c.Pagination.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Pagination.MaxPageChecks <= 0 {
		return fmt.Errorf("max page checks must be positive")
	}
	if c.Pagination.SweepSteps < 0 {
		return fmt.Errorf("sweep steps cannot be negative")
	}
	if c.Pagination.PageParam == "" {
		return fmt.Errorf("page param cannot be empty")
	}
	if c.Scroll.MaxScrollAttempts <= 0 {
		return fmt.Errorf("max scroll attempts must be positive")
	}
	if c.Scroll.MaxNoNew <= 0 {
		return fmt.Errorf("max no new must be positive")
	}
	if c.Scroll.MaxReloads < 0 {
		return fmt.Errorf("max reloads cannot be negative")
	}
	if c.Scroll.ScrollDelayMs < 0 {
		return fmt.Errorf("scroll delay cannot be negative")
	}
	if c.State.SeenIDsPath == "" || c.State.LastPositionPath == "" || c.State.CookiesPath == "" {
		return fmt.Errorf("state file paths cannot be empty")
	}
	if c.State.SeenThreshold < 0 {
		return fmt.Errorf("seen threshold cannot be negative")
	}
	if err := c.Writer.Validate(); err != nil {
		return fmt.Errorf("invalid writer configuration: %w", err)
	}
	return nil
}

// ScraperOptions converts the configuration into scraper options.
func (c *Config) ScraperOptions() scraper.Options {
	return scraper.Options{
		ListingURL:        c.ListingURL,
		Source:            c.Source,
		AffiliateTag:      c.AffiliateTag,
		OnlyDiscounts:     c.OnlyDiscounts,
		PageSize:          c.Pagination.PageSize,
		MaxPageChecks:     c.Pagination.MaxPageChecks,
		SweepSteps:        c.Pagination.SweepSteps,
		PageParam:         c.Pagination.PageParam,
		LastIDParam:       c.Pagination.LastIDParam,
		MaxScrollAttempts: c.Scroll.MaxScrollAttempts,
		MaxNoNew:          c.Scroll.MaxNoNew,
		MaxReloads:        c.Scroll.MaxReloads,
		ScrollDelay:       ms(c.Scroll.ScrollDelayMs),
		Retries:           c.Retries,
		RetryBaseDelay:    ms(c.RetryBaseDelayMs),
		SeenThreshold:     c.State.SeenThreshold,
		DebugDir:          c.DebugDir,
	}
}

// FetcherConfig converts the configuration into browser settings.
func (c *Config) FetcherConfig() *fetch.FetcherConfig {
	return &fetch.FetcherConfig{
		Headless:       c.Browser.Headless,
		UserAgent:      c.Browser.UserAgent,
		AcceptLanguage: c.Browser.AcceptLanguage,
		Timeout:        ms(c.Browser.TimeoutMs),
		LaunchTimeout:  ms(c.Browser.LaunchTimeoutMs),
		WaitSelector:   parse.ItemSelector,
		DebugDir:       c.DebugDir,
	}
}

// NewState returns the stores backed by the configured files.
func (c *Config) NewState() *store.State {
	return store.NewState(c.State.SeenIDsPath, c.State.LastPositionPath, c.State.CookiesPath)
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	cp := *c
	if cp.Writer.Password != "" {
		cp.Writer.Password = redacted
	}
	if cp.Writer.Credentials != "" {
		cp.Writer.Credentials = redacted
	}
	return yaml.Marshal(&cp)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
