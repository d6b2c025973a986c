package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jakopako/dealskyr/internal/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const listingURL = "https://www.amazon.com/deals"

func validConfig() *Config {
	c := DefaultConfig()
	c.ListingURL = listingURL
	return c
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.True(t, c.Browser.Headless)
	assert.True(t, c.OnlyDiscounts)
	assert.Equal(t, 2, c.Retries)
	assert.Equal(t, 60, c.Pagination.PageSize)
	assert.Equal(t, 120, c.Scroll.MaxScrollAttempts)
	assert.Equal(t, 12, c.Scroll.MaxNoNew)
	assert.Equal(t, 3, c.Scroll.MaxReloads)
	assert.Equal(t, 1500, c.Scroll.ScrollDelayMs)
	assert.Equal(t, "seen_ids.json", c.State.SeenIDsPath)
	assert.Equal(t, "lastPosition.json", c.State.LastPositionPath)
	assert.Equal(t, "cookies.json", c.State.CookiesPath)
	assert.Equal(t, 300, c.State.SeenThreshold)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing listing url", mutate: func(c *Config) { c.ListingURL = "" }, wantErr: "AMAZON_DEALS_URL"},
		{name: "listing url without host", mutate: func(c *Config) { c.ListingURL = "http://" }, wantErr: "host"},
		{name: "zero limit", mutate: func(c *Config) { c.Limit = 0 }, wantErr: "limit"},
		{name: "negative retries", mutate: func(c *Config) { c.Retries = -1 }, wantErr: "retries"},
		{name: "zero page size", mutate: func(c *Config) { c.Pagination.PageSize = 0 }, wantErr: "page size"},
		{name: "zero max no new", mutate: func(c *Config) { c.Scroll.MaxNoNew = 0 }, wantErr: "max no new"},
		{name: "negative reloads", mutate: func(c *Config) { c.Scroll.MaxReloads = -1 }, wantErr: "max reloads"},
		{name: "zero timeout", mutate: func(c *Config) { c.Browser.TimeoutMs = 0 }, wantErr: "timeout"},
		{name: "empty state path", mutate: func(c *Config) { c.State.CookiesPath = "" }, wantErr: "state file"},
		{name: "bad writer", mutate: func(c *Config) { c.Writer.Type = output.FILE_WRITER_TYPE }, wantErr: "writer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected default config with listing url to be valid, got %v", err)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("AMAZON_DEALS_URL", listingURL)
	t.Setenv("AMAZON_TAG", "deals-21")
	t.Setenv("PUPPETEER_HEADLESS", "false")
	t.Setenv("AMAZON_MAX_NO_NEW", "4")
	t.Setenv("ONLY_DISCOUNTS", "false")

	c, err := NewConfig(filepath.Join(t.TempDir(), "missing.yml"), "")
	require.NoError(t, err)
	assert.Equal(t, listingURL, c.ListingURL)
	assert.Equal(t, "deals-21", c.AffiliateTag)
	assert.False(t, c.Browser.Headless)
	assert.False(t, c.OnlyDiscounts)
	assert.Equal(t, 4, c.Scroll.MaxNoNew)
	assert.Equal(t, 3, c.Scroll.MaxReloads)
	assert.Equal(t, output.STDOUT_WRITER_TYPE, c.Writer.Type)
}

func TestNewConfigFromFile(t *testing.T) {
	t.Setenv("AMAZON_MAX_RELOADS", "1")
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
listing_url: https://www.amazon.de/deals
limit: 20
scroll:
  max_no_new: 6
writer:
  type: file
  filedir: out
`), 0644))

	c, err := NewConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.de/deals", c.ListingURL)
	assert.Equal(t, 20, c.Limit)
	assert.Equal(t, 6, c.Scroll.MaxNoNew)
	// env wins over the file
	assert.Equal(t, 1, c.Scroll.MaxReloads)
	// untouched defaults survive
	assert.Equal(t, 120, c.Scroll.MaxScrollAttempts)
	assert.True(t, c.Browser.Headless)
	assert.Equal(t, output.FILE_WRITER_TYPE, c.Writer.Type)
}

func TestNewConfigMissingListingURL(t *testing.T) {
	t.Setenv("AMAZON_DEALS_URL", "")
	_, err := NewConfig("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing URL")
}

func TestReadSkipsValidation(t *testing.T) {
	t.Setenv("AMAZON_DEALS_URL", "")
	t.Setenv("SEEN_IDS_PATH", "state/seen.json")
	c, err := Read("", "")
	require.NoError(t, err)
	assert.Empty(t, c.ListingURL)
	assert.Equal(t, "state/seen.json", c.NewState().Seen.Path())
}

func TestNewConfigEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AMAZON_DEALS_URL="+listingURL+"\nAMAZON_PAGE_SIZE=24\n"), 0644))
	// t.Setenv restores the variables the env file exports
	t.Setenv("AMAZON_DEALS_URL", "")
	t.Setenv("AMAZON_PAGE_SIZE", "")
	os.Unsetenv("AMAZON_DEALS_URL")
	os.Unsetenv("AMAZON_PAGE_SIZE")

	c, err := NewConfig("", envFile)
	require.NoError(t, err)
	assert.Equal(t, listingURL, c.ListingURL)
	assert.Equal(t, 24, c.Pagination.PageSize)
}

func TestScraperOptions(t *testing.T) {
	c := validConfig()
	c.Scroll.ScrollDelayMs = 250
	opts := c.ScraperOptions()
	assert.Equal(t, listingURL, opts.ListingURL)
	assert.Equal(t, 250*time.Millisecond, opts.ScrollDelay)
	assert.Equal(t, time.Second, opts.RetryBaseDelay)
	assert.Equal(t, 60, opts.PageSize)

	fc := c.FetcherConfig()
	assert.Equal(t, 30*time.Second, fc.Timeout)
	assert.NotEmpty(t, fc.WaitSelector)
}

func TestYAMLRedactsSecrets(t *testing.T) {
	c := validConfig()
	c.Writer.Password = "hunter2"
	c.Writer.Credentials = `{"private_key":"secret"}`

	b, err := c.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
	assert.NotContains(t, string(b), "secret")
	assert.Equal(t, "hunter2", c.Writer.Password)

	var back Config
	require.NoError(t, yaml.Unmarshal(b, &back))
	assert.Equal(t, listingURL, back.ListingURL)
	assert.Equal(t, redacted, back.Writer.Password)
}
