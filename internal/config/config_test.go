package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://portal.cfm.org.br/busca-medicos/", cfg.Site.URL)
	assert.Equal(t, "CRM", cfg.Site.KeyField)
	assert.Equal(t, "Nome", cfg.Site.NameField)
	assert.Equal(t, ".resultado-item", cfg.Site.Selectors.ResultItem)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Operation)
	assert.Equal(t, time.Second, cfg.Captcha.PollInterval)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crmcrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  headless: true
timeouts:
  operation: 30s
crawl:
  page_rate: 0.5
output:
  dir: /tmp/crm
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Operation)
	assert.Equal(t, 0.5, cfg.Crawl.PageRate)
	assert.Equal(t, "/tmp/crm", cfg.Output.Dir)
	assert.Equal(t, "CRM", cfg.Site.KeyField)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CRMCRAWL_OUTPUT_DIR", "elsewhere")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", cfg.Output.Dir)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty url", func(c *Config) { c.Site.URL = "" }, "site.url"},
		{"empty key field", func(c *Config) { c.Site.KeyField = "" }, "site.key_field"},
		{"page link without verb", func(c *Config) { c.Site.Selectors.PageLink = ".page a" }, "page_link"},
		{"zero timeout", func(c *Config) { c.Timeouts.Operation = 0 }, "timeouts.operation"},
		{"zero captcha interval", func(c *Config) { c.Captcha.PollInterval = 0 }, "captcha.poll_interval"},
		{"negative rate", func(c *Config) { c.Crawl.PageRate = -1 }, "crawl.page_rate"},
		{"empty output", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
