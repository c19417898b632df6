package config

import (
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "SPECTRUM_RANKER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	openAIKeyEnv      = "OPENAI_API_KEY"
	huggingFaceKeyEnv = "HUGGINGFACE_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
	httpAddrEnv       = "HTTP_ADDR"
	humanModel        = "human"
)

// Model kinds accepted in ModelConfig.Kind.
const (
	KindEmbedding = "embedding"
	KindZeroShot  = "zeroshot"
	KindChat      = "chat"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Logging        LoggingConfig        `yaml:"logging"`
	Ranking        RankingConfig        `yaml:"ranking"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	OpenAI         OpenAIConfig         `yaml:"openai"`
	HuggingFace    HuggingFaceConfig    `yaml:"huggingface"`
	Models         []ModelConfig        `yaml:"models"`
	Classification ClassificationConfig `yaml:"classification"`
	Notifications  NotificationConfig   `yaml:"notifications"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig selects the driver (postgres or sqlite) and DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig sets the slog level (debug, info, warn, error) and format (text, json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RankingConfig tunes ranking runs.
type RankingConfig struct {
	// Strategy is insert, merge or auto.
	Strategy          string `yaml:"strategy"`
	MaxSpliceAttempts int    `yaml:"maxSpliceAttempts"`
	PublishReports    bool   `yaml:"publishReports"`
	// RunHistory is how many finished run reports are kept in memory.
	RunHistory        int    `yaml:"runHistory"`
}

// GatewayConfig controls retries and throttling of comparator calls.
type GatewayConfig struct {
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialInterval   time.Duration `yaml:"initialInterval"`
	MaxInterval       time.Duration `yaml:"maxInterval"`
	Multiplier        float64       `yaml:"multiplier"`
	Jitter            float64       `yaml:"jitter"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	AttemptTimeout    time.Duration `yaml:"attemptTimeout"`
}

// OpenAIConfig defines how to contact OpenAI-compatible APIs.
type OpenAIConfig struct {
	APIKey      string        `yaml:"apiKey"`
	BaseURL     string        `yaml:"baseUrl"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HuggingFaceConfig describes the hosted inference API.
type HuggingFaceConfig struct {
	APIKey         string        `yaml:"apiKey"`
	BaseURL        string        `yaml:"baseUrl"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxLoadingWait time.Duration `yaml:"maxLoadingWait"`
}

// ModelConfig registers one comparator under Name.
type ModelConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Backend     string `yaml:"backend"`
	PromptStyle string `yaml:"promptStyle"`
	TieBreak    string `yaml:"tieBreak"`
}

// ClassificationConfig names the two criteria items are classified between.
type ClassificationConfig struct {
	ActionableCriterion    int64  `yaml:"actionableCriterion"`
	NonActionableCriterion int64  `yaml:"nonActionableCriterion"`
	Model                  string `yaml:"model"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	BaseURL  string `yaml:"baseUrl"`
}

// SchedulerConfig lists ranking runs started on cron expressions.
type SchedulerConfig struct {
	Timezone string         `yaml:"timezone"`
	Jobs     []JobConfig    `yaml:"jobs"`
	location *time.Location `yaml:"-"`
}

// JobConfig is one scheduled ranking run.
type JobConfig struct {
	Cron        string `yaml:"cron"`
	ContainerID int64  `yaml:"containerId"`
	CriterionID int64  `yaml:"criterionId"`
	Model       string `yaml:"model"`
	Actionable  *bool  `yaml:"actionable"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Validate reports settings the application cannot start with.
func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("config: model without name")
		}
		if m.Name == humanModel {
			return fmt.Errorf("config: model name %q is reserved", humanModel)
		}
		if seen[m.Name] {
			return fmt.Errorf("config: model %q declared twice", m.Name)
		}
		seen[m.Name] = true
		switch m.Kind {
		case KindEmbedding, KindZeroShot, KindChat:
		default:
			return fmt.Errorf("config: model %q has unknown kind %q", m.Name, m.Kind)
		}
	}
	for _, j := range c.Scheduler.Jobs {
		if j.Cron == "" || j.CriterionID == 0 || j.Model == "" {
			return fmt.Errorf("config: scheduled job needs cron, criterionId and model")
		}
	}
	if c.Ranking.MaxSpliceAttempts < 1 {
		return fmt.Errorf("config: ranking.maxSpliceAttempts must be positive")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv(huggingFaceKeyEnv); v != "" {
		c.HuggingFace.APIKey = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	mergeString(&base.Server.Addr, override.Server.Addr)
	mergeDuration(&base.Server.ReadTimeout, override.Server.ReadTimeout)
	mergeDuration(&base.Server.ShutdownTimeout, override.Server.ShutdownTimeout)

	mergeString(&base.Database.Driver, override.Database.Driver)
	mergeString(&base.Database.DSN, override.Database.DSN)
	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	mergeString(&base.Ranking.Strategy, override.Ranking.Strategy)
	if override.Ranking.MaxSpliceAttempts > 0 {
		base.Ranking.MaxSpliceAttempts = override.Ranking.MaxSpliceAttempts
	}
	base.Ranking.PublishReports = base.Ranking.PublishReports || override.Ranking.PublishReports
	if override.Ranking.RunHistory > 0 {
		base.Ranking.RunHistory = override.Ranking.RunHistory
	}

	g, og := &base.Gateway, override.Gateway
	if og.MaxAttempts > 0 {
		g.MaxAttempts = og.MaxAttempts
	}
	mergeDuration(&g.InitialInterval, og.InitialInterval)
	mergeDuration(&g.MaxInterval, og.MaxInterval)
	mergeFloat(&g.Multiplier, og.Multiplier)
	mergeFloat(&g.Jitter, og.Jitter)
	mergeFloat(&g.RequestsPerSecond, og.RequestsPerSecond)
	if og.Burst > 0 {
		g.Burst = og.Burst
	}
	mergeDuration(&g.AttemptTimeout, og.AttemptTimeout)

	mergeString(&base.OpenAI.APIKey, override.OpenAI.APIKey)
	mergeString(&base.OpenAI.BaseURL, override.OpenAI.BaseURL)
	if override.OpenAI.Temperature != 0 {
		base.OpenAI.Temperature = override.OpenAI.Temperature
	}
	mergeDuration(&base.OpenAI.Timeout, override.OpenAI.Timeout)

	mergeString(&base.HuggingFace.APIKey, override.HuggingFace.APIKey)
	mergeString(&base.HuggingFace.BaseURL, override.HuggingFace.BaseURL)
	mergeDuration(&base.HuggingFace.Timeout, override.HuggingFace.Timeout)
	mergeDuration(&base.HuggingFace.MaxLoadingWait, override.HuggingFace.MaxLoadingWait)

	if len(override.Models) > 0 {
		base.Models = override.Models
	}

	if override.Classification.ActionableCriterion != 0 {
		base.Classification.ActionableCriterion = override.Classification.ActionableCriterion
	}
	if override.Classification.NonActionableCriterion != 0 {
		base.Classification.NonActionableCriterion = override.Classification.NonActionableCriterion
	}
	mergeString(&base.Classification.Model, override.Classification.Model)

	mergeString(&base.Notifications.Telegram.BotToken, override.Notifications.Telegram.BotToken)
	mergeString(&base.Notifications.Telegram.ChatID, override.Notifications.Telegram.ChatID)
	mergeString(&base.Notifications.Telegram.BaseURL, override.Notifications.Telegram.BaseURL)

	mergeString(&base.Scheduler.Timezone, override.Scheduler.Timezone)
	if len(override.Scheduler.Jobs) > 0 {
		base.Scheduler.Jobs = override.Scheduler.Jobs
	}

	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Server:   ServerConfig{Addr: ":8080", ReadTimeout: 10 * time.Second, ShutdownTimeout: 15 * time.Second},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "spectrum.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Ranking:  RankingConfig{Strategy: "insert", MaxSpliceAttempts: 5, RunHistory: 100},
		Gateway: GatewayConfig{
			MaxAttempts:       3,
			InitialInterval:   500 * time.Millisecond,
			MaxInterval:       10 * time.Second,
			Multiplier:        2,
			Jitter:            0.2,
			RequestsPerSecond: 5,
			Burst:             1,
			AttemptTimeout:    60 * time.Second,
		},
		OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1", Timeout: 30 * time.Second},
		HuggingFace: HuggingFaceConfig{
			BaseURL:        "https://api-inference.huggingface.co/models",
			Timeout:        30 * time.Second,
			MaxLoadingWait: 30 * time.Second,
		},
		Models: []ModelConfig{
			{Name: "embedding", Kind: KindEmbedding, Backend: "text-embedding-3-small", TieBreak: "left"},
			{Name: "bart-large-mnli", Kind: KindZeroShot, Backend: "facebook/bart-large-mnli"},
			{Name: "gpt-4o-mini", Kind: KindChat, Backend: "gpt-4o-mini", PromptStyle: "verbatim"},
		},
		Classification: ClassificationConfig{Model: "bart-large-mnli"},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BaseURL: "https://api.telegram.org"},
		},
		Scheduler: SchedulerConfig{Timezone: defaultTimezone, location: tz},
	}
}
