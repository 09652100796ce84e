package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
	_ "time/tzdata"

	"zapys/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Google     GoogleConfig     `yaml:"google"`
	Booking    BookingConfig    `yaml:"booking"`
	Reminders  ReminderConfig   `yaml:"reminders"`
	Sync       SyncConfig       `yaml:"sync"`
	Bot        BotConfig        `yaml:"bot"`
	API        APIConfig        `yaml:"api"`
	Operators  []int64          `yaml:"operators"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token" validate:"required"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output   string `yaml:"output" validate:"omitempty,oneof=stdout stderr file"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

// BookingConfig holds the business rules of the slot grid.
type BookingConfig struct {
	Timezone             string `yaml:"timezone"`
	Open                 string `yaml:"open" validate:"required,datetime=15:04"`
	Close                string `yaml:"close" validate:"required,datetime=15:04"`
	StepMinutes          int    `yaml:"step_minutes" validate:"gt=0"`
	SlotMinutes          int    `yaml:"slot_minutes" validate:"gt=0"`
	MarginMinutes        int    `yaml:"margin_minutes" validate:"gte=0"`
	MaxDaysAhead         int    `yaml:"max_days_ahead" validate:"gt=0"`
	CacheTTLSeconds      int    `yaml:"cache_ttl_seconds" validate:"gt=0"`
	RemoteTimeoutSeconds int    `yaml:"remote_timeout_seconds" validate:"gt=0"`
	RemoteWorkers        int    `yaml:"remote_workers" validate:"gt=0"`
	SessionTTLHours      int    `yaml:"session_ttl_hours" validate:"gt=0"`
}

type ReminderConfig struct {
	Enabled         bool  `yaml:"enabled"`
	IntervalSeconds int   `yaml:"interval_seconds" validate:"gt=0"`
	LeadMinutes     []int `yaml:"lead_minutes" validate:"dive,gt=0"`
}

// SyncConfig tunes redelivery of reservation rows to the spreadsheet log.
type SyncConfig struct {
	MaxAttempts         int     `yaml:"max_attempts" validate:"gte=0"`
	InitialDelaySeconds int     `yaml:"initial_delay_seconds" validate:"gte=0"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds" validate:"gte=0"`
	BackoffFactor       float64 `yaml:"backoff_factor" validate:"gte=0"`
}

type BotConfig struct {
	RateLimitMessages int     `yaml:"rate_limit_messages"`
	RateLimitWindow   int     `yaml:"rate_limit_window"`
	NotifyQueueSize   int     `yaml:"notify_queue_size"`
	SendRPS           float64 `yaml:"send_rps"`
}

// APIConfig controls the read-only HTTP API.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys" validate:"dive"`
}

type APIClientKey struct {
	Key         string   `yaml:"key" validate:"required"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is required")
	}

	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	open, _ := c.Booking.OpenOffset()
	closing, _ := c.Booking.CloseOffset()
	if closing <= open {
		return errors.New("booking.close must be after booking.open")
	}
	if c.Booking.Slot() > closing-open {
		return errors.New("booking.slot_minutes does not fit business hours")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "X-API-Key"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Records"
	}

	// Booking defaults
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Europe/Kyiv"
	}
	if c.Booking.Open == "" {
		c.Booking.Open = "09:00"
	}
	if c.Booking.Close == "" {
		c.Booking.Close = "18:00"
	}
	if c.Booking.StepMinutes == 0 {
		c.Booking.StepMinutes = 60
	}
	if c.Booking.SlotMinutes == 0 {
		c.Booking.SlotMinutes = 60
	}
	if c.Booking.MarginMinutes == 0 {
		c.Booking.MarginMinutes = 60
	}
	if c.Booking.MaxDaysAhead == 0 {
		c.Booking.MaxDaysAhead = 60
	}
	if c.Booking.CacheTTLSeconds == 0 {
		c.Booking.CacheTTLSeconds = models.DefaultCacheTTL
	}
	if c.Booking.RemoteTimeoutSeconds == 0 {
		c.Booking.RemoteTimeoutSeconds = models.DefaultRemoteTimeout
	}
	if c.Booking.RemoteWorkers == 0 {
		c.Booking.RemoteWorkers = models.DefaultRemoteWorkers
	}
	if c.Booking.SessionTTLHours == 0 {
		c.Booking.SessionTTLHours = models.DefaultSessionTTL / 3600
	}

	// Reminder defaults
	if c.Reminders.IntervalSeconds == 0 {
		c.Reminders.IntervalSeconds = models.DefaultReminderInterval
	}
	if len(c.Reminders.LeadMinutes) == 0 {
		c.Reminders.LeadMinutes = append([]int(nil), models.DefaultLeadMinutes...)
	}

	// Sheet sync defaults
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.InitialDelaySeconds == 0 {
		c.Sync.InitialDelaySeconds = 2
	}
	if c.Sync.MaxDelaySeconds == 0 {
		c.Sync.MaxDelaySeconds = 60
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}

	// Bot defaults
	if c.Bot.RateLimitMessages == 0 {
		c.Bot.RateLimitMessages = models.RateLimitMessages
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = models.RateLimitWindow
	}
	if c.Bot.NotifyQueueSize == 0 {
		c.Bot.NotifyQueueSize = models.DefaultNotifyQueueSize
	}
	if c.Bot.SendRPS == 0 {
		c.Bot.SendRPS = 25
	}
}

// Location returns the business time zone.
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// OpenOffset is the business-day start as an offset from midnight.
func (b BookingConfig) OpenOffset() (time.Duration, error) {
	return clockOffset(b.Open)
}

// CloseOffset is the business-day end as an offset from midnight.
func (b BookingConfig) CloseOffset() (time.Duration, error) {
	return clockOffset(b.Close)
}

func (b BookingConfig) Step() time.Duration   { return time.Duration(b.StepMinutes) * time.Minute }
func (b BookingConfig) Slot() time.Duration   { return time.Duration(b.SlotMinutes) * time.Minute }
func (b BookingConfig) Margin() time.Duration { return time.Duration(b.MarginMinutes) * time.Minute }

func (b BookingConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLSeconds) * time.Second
}

func (b BookingConfig) RemoteTimeout() time.Duration {
	return time.Duration(b.RemoteTimeoutSeconds) * time.Second
}

func (b BookingConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLHours) * time.Hour
}

func (r ReminderConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (s SyncConfig) InitialDelay() time.Duration {
	return time.Duration(s.InitialDelaySeconds) * time.Second
}

func (s SyncConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelaySeconds) * time.Second
}

func clockOffset(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", value, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
