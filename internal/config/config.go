package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for one crawl run. The defaults target the live
// CFM search portal, so running without a config file needs no setup.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Output   OutputConfig   `mapstructure:"output"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// SiteConfig describes the search page and its result-card markup.
type SiteConfig struct {
	URL           string          `mapstructure:"url"`
	KeyField      string          `mapstructure:"key_field"`
	NameField     string          `mapstructure:"name_field"`
	PageField     string          `mapstructure:"page_field"`
	FilterPrompt  string          `mapstructure:"filter_prompt"`
	CaptchaPrompt string          `mapstructure:"captcha_prompt"`
	Selectors     SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig are the CSS selectors the scraper relies on.
type SelectorsConfig struct {
	ResultItem   string `mapstructure:"result_item"`
	StaleClass   string `mapstructure:"stale_class"`
	ItemName     string `mapstructure:"item_name"`
	ItemLabel    string `mapstructure:"item_label"`
	PageLink     string `mapstructure:"page_link"`
	NextPageLink string `mapstructure:"next_page_link"`
	LastPage     string `mapstructure:"last_page"`
	SearchButton string `mapstructure:"search_button"`
	FilterForm   string `mapstructure:"filter_form"`
	AddressRow   string `mapstructure:"address_row"`
	PhoneRow     string `mapstructure:"phone_row"`
}

type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	DevTools       bool   `mapstructure:"devtools"`
	StartMaximized bool   `mapstructure:"start_maximized"`
	ExecPath       string `mapstructure:"exec_path"`
	UserAgent      string `mapstructure:"user_agent"`
}

type TimeoutsConfig struct {
	Operation   time.Duration `mapstructure:"operation"`
	NetworkIdle time.Duration `mapstructure:"network_idle"`
}

type CaptchaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CrawlConfig tunes the paging loop. PageRate limits page advances per
// second; zero disables the limit.
type CrawlConfig struct {
	PageRate float64 `mapstructure:"page_rate"`
}

type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	JSON      string `mapstructure:"json"`
	CSV       string `mapstructure:"csv"`
	StdoutLog string `mapstructure:"stdout_log"`
	StderrLog string `mapstructure:"stderr_log"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	MirrorPage bool   `mapstructure:"mirror_page"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type DebugConfig struct {
	ScreenshotSkipped bool   `mapstructure:"screenshot_skipped"`
	ScreenshotDir     string `mapstructure:"screenshot_dir"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.url", "https://portal.cfm.org.br/busca-medicos/")
	v.SetDefault("site.key_field", "CRM")
	v.SetDefault("site.name_field", "Nome")
	v.SetDefault("site.page_field", "Página")
	v.SetDefault("site.filter_prompt", "Escolha seus filtros e clique em buscar")
	v.SetDefault("site.captcha_prompt", "Resolva o recaptcha")
	v.SetDefault("site.selectors.result_item", ".resultado-item")
	v.SetDefault("site.selectors.stale_class", "stale")
	v.SetDefault("site.selectors.item_name", "h4")
	v.SetDefault("site.selectors.item_label", "b")
	v.SetDefault("site.selectors.page_link", ".paginationjs-page[data-num='%d'] a[href]")
	v.SetDefault("site.selectors.next_page_link", ".paginationjs-page.active + .paginationjs-page[data-num] a[href]")
	v.SetDefault("site.selectors.last_page", ".paginationjs-page.paginationjs-last")
	v.SetDefault("site.selectors.search_button", ".site-content form button[type=submit]")
	v.SetDefault("site.selectors.filter_form", "form#buscaForm")
	v.SetDefault("site.selectors.address_row", ".row.endereco")
	v.SetDefault("site.selectors.phone_row", ".row.telefone")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.devtools", true)
	v.SetDefault("browser.start_maximized", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")

	v.SetDefault("timeouts.operation", "2m")
	v.SetDefault("timeouts.network_idle", "500ms")

	v.SetDefault("captcha.enabled", true)
	v.SetDefault("captcha.poll_interval", "1s")

	v.SetDefault("crawl.page_rate", 0)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.json", "data.json")
	v.SetDefault("output.csv", "data.csv")
	v.SetDefault("output.stdout_log", "stdout.log")
	v.SetDefault("output.stderr_log", "stderr.log")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mirror_page", true)
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)

	v.SetDefault("debug.screenshot_skipped", false)
	v.SetDefault("debug.screenshot_dir", "screenshots")
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads configuration from path (optional) and CRMCRAWL_* environment
// variables on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("CRMCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crmcrawl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the crawl cannot run without.
func (c *Config) Validate() error {
	if c.Site.URL == "" {
		return errors.New("site.url must be set")
	}
	if c.Site.KeyField == "" {
		return errors.New("site.key_field must be set")
	}
	if c.Site.Selectors.ResultItem == "" {
		return errors.New("site.selectors.result_item must be set")
	}
	if !strings.Contains(c.Site.Selectors.PageLink, "%d") {
		return errors.New("site.selectors.page_link must contain a %d verb for the page number")
	}
	if c.Timeouts.Operation <= 0 {
		return errors.New("timeouts.operation must be positive")
	}
	if c.Captcha.Enabled && c.Captcha.PollInterval <= 0 {
		return errors.New("captcha.poll_interval must be positive")
	}
	if c.Crawl.PageRate < 0 {
		return errors.New("crawl.page_rate must not be negative")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir must be set")
	}
	return nil
}
