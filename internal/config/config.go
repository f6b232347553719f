package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "DIGEST_CURATOR_CONFIG"

	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	llmAPIKeysEnv     = "LLM_API_KEYS"
	llmModelEnv       = "LLM_MODEL"
	llmBaseURLEnv     = "LLM_BASE_URL"
	lookbackHoursEnv  = "LOOKBACK_HOURS"
	ingestCooldownEnv = "INGEST_COOLDOWN_MINUTES"
	sendLimitEnv      = "SEND_LIMIT"
	userDelayEnv      = "USER_DELAY_SECONDS"
	cronSecretEnv     = "CRON_SECRET"
	listenAddrEnv     = "LISTEN_ADDR"
	smtpHostEnv       = "SMTP_HOST"
	smtpPortEnv       = "SMTP_PORT"
	smtpUsernameEnv   = "SMTP_USERNAME"
	smtpPasswordEnv   = "SMTP_PASSWORD"
	smtpFromEnv       = "SMTP_FROM"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
	logFormatEnv      = "LOG_FORMAT"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	LLM           LLMConfig          `yaml:"llm"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Server        ServerConfig       `yaml:"server"`
	SMTP          SMTPConfig         `yaml:"smtp"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sites         []SiteConfig       `yaml:"sites" validate:"dive"`
}

// DatabaseConfig selects the SQL driver and its connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	BaseURL           string   `yaml:"baseUrl" validate:"omitempty,url"`
	Model             string   `yaml:"model" validate:"required"`
	APIKeys           []string `yaml:"apiKeys"`
	Temperature       float64  `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxAttempts       int      `yaml:"maxAttempts" validate:"gte=1,lte=10"`
	MinBackoffSeconds int      `yaml:"minBackoffSeconds" validate:"gte=0"`
	MaxBackoffSeconds int      `yaml:"maxBackoffSeconds" validate:"gtefield=MinBackoffSeconds"`
	TimeoutSeconds    int      `yaml:"timeoutSeconds" validate:"gte=1"`
}

// MinBackoff is the first retry wait.
func (l LLMConfig) MinBackoff() time.Duration {
	return time.Duration(l.MinBackoffSeconds) * time.Second
}

// MaxBackoff caps every retry wait.
func (l LLMConfig) MaxBackoff() time.Duration {
	return time.Duration(l.MaxBackoffSeconds) * time.Second
}

// Timeout bounds a single provider request.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// PipelineConfig tunes the delivery cycle.
type PipelineConfig struct {
	LookbackHours         int `yaml:"lookbackHours" validate:"gte=1"`
	IngestCooldownMinutes int `yaml:"ingestCooldownMinutes" validate:"gte=0"`
	SendLimit             int `yaml:"sendLimit" validate:"gte=1"`
	UserDelaySeconds      int `yaml:"userDelaySeconds" validate:"gte=0"`
	EnrichBatchSize       int `yaml:"enrichBatchSize" validate:"gte=1"`
	SummarizeBatchSize    int `yaml:"summarizeBatchSize" validate:"gte=1"`
}

// Lookback is the recent-digest window.
func (p PipelineConfig) Lookback() time.Duration {
	return time.Duration(p.LookbackHours) * time.Hour
}

// IngestCooldown is the minimum spacing between two ingests.
func (p PipelineConfig) IngestCooldown() time.Duration {
	return time.Duration(p.IngestCooldownMinutes) * time.Minute
}

// UserDelay is the pause between two users.
func (p PipelineConfig) UserDelay() time.Duration {
	return time.Duration(p.UserDelaySeconds) * time.Second
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	Enabled   bool           `yaml:"enabled"`
	DailyTime string         `yaml:"dailyTime" validate:"omitempty,datetime=15:04"`
	Timezone  string         `yaml:"timezone"`
	location  *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ServerConfig configures the trigger/status HTTP surface.
type ServerConfig struct {
	ListenAddress   string `yaml:"listenAddress" validate:"required"`
	TriggerSecret   string `yaml:"triggerSecret"`
	TriggerPerMin   int    `yaml:"triggerPerMinute" validate:"gte=1"`
	ShutdownSeconds int    `yaml:"shutdownSeconds" validate:"gte=1"`
}

// SMTPConfig describes the outbound mail relay.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=1,lte=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
	FromName string `yaml:"fromName"`
	UseTLS   bool   `yaml:"useTls"`
}

// NotificationConfig encapsulates operator channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   int64  `yaml:"chatId"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// SiteConfig is a news source: which scanner reads it and from which feeds.
type SiteConfig struct {
	Name    string            `yaml:"name" validate:"required"`
	Scanner string            `yaml:"scanner" validate:"required"`
	Feeds   []FeedConfig      `yaml:"feeds" validate:"min=1,dive"`
	Options map[string]string `yaml:"options"`
}

// FeedConfig is one listing URL of a site.
type FeedConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// Load reads defaults, the YAML file named by DIGEST_CURATOR_CONFIG and env overrides.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks struct-level constraints.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Database.Driver, databaseDriverEnv)
	setString(&c.Database.DSN, databaseDSNEnv)
	setString(&c.LLM.Model, llmModelEnv)
	setString(&c.LLM.BaseURL, llmBaseURLEnv)
	setString(&c.Server.TriggerSecret, cronSecretEnv)
	setString(&c.Server.ListenAddress, listenAddrEnv)
	setString(&c.SMTP.Host, smtpHostEnv)
	setString(&c.SMTP.Username, smtpUsernameEnv)
	setString(&c.SMTP.Password, smtpPasswordEnv)
	setString(&c.SMTP.From, smtpFromEnv)
	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Logging.Level, logLevelEnv)
	setString(&c.Logging.Format, logFormatEnv)

	if v := os.Getenv(llmAPIKeysEnv); v != "" {
		c.LLM.APIKeys = splitList(v)
	}

	ints := []struct {
		env string
		dst *int
	}{
		{lookbackHoursEnv, &c.Pipeline.LookbackHours},
		{ingestCooldownEnv, &c.Pipeline.IngestCooldownMinutes},
		{sendLimitEnv, &c.Pipeline.SendLimit},
		{userDelayEnv, &c.Pipeline.UserDelaySeconds},
		{smtpPortEnv, &c.SMTP.Port},
	}
	for _, item := range ints {
		v := os.Getenv(item.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", item.env, err)
		}
		*item.dst = n
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("env %s: %w", telegramChatIDEnv, err)
		}
		c.Notifications.Telegram.ChatID = id
	}

	return nil
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("unknown timezone %s: %w", tz, err)
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "digestcurator.db"},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Temperature:       0.3,
			MaxAttempts:       5,
			MinBackoffSeconds: 4,
			MaxBackoffSeconds: 60,
			TimeoutSeconds:    60,
		},
		Pipeline: PipelineConfig{
			LookbackHours:         24,
			IngestCooldownMinutes: 60,
			SendLimit:             10,
			UserDelaySeconds:      10,
			EnrichBatchSize:       50,
			SummarizeBatchSize:    50,
		},
		Scheduler: SchedulerConfig{Enabled: true, DailyTime: "07:00", Timezone: defaultTimezone, location: tz},
		Server: ServerConfig{
			ListenAddress:   ":8000",
			TriggerPerMin:   5,
			ShutdownSeconds: 10,
		},
		SMTP:    SMTPConfig{Port: 587, FromName: "AI News Digest", UseTLS: true},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Sites: []SiteConfig{
			{
				Name:    "arxiv",
				Scanner: "arxiv",
				Feeds: []FeedConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/pastweek"},
				},
			},
			{
				Name:    "techcrunch",
				Scanner: "rss",
				Feeds: []FeedConfig{
					{Name: "ai", URL: "https://techcrunch.com/category/artificial-intelligence/feed/"},
				},
			},
			{
				Name:    "youtube",
				Scanner: "youtube",
				Feeds: []FeedConfig{
					{Name: "matthew-berman", URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UCawZsQWqfGSbCI5yjkdVkTA"},
					{Name: "ai-explained", URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UCcnwPBHHX1C7yJ1h734_q-A"},
				},
			},
		},
	}
}
