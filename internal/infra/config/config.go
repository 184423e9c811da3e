package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken string // optional; in-app channel and bot commands are disabled without it
	DatabaseURL   string
	StoreDriver   string
	AutoMigrate   bool
	LogLevel      string
	Environment   string
	Timezone      string
	Location      *time.Location
	SweepInterval time.Duration
	Notify        NotifyConfig
	SMTP          SMTPConfig
	Policy        PolicyConfig

	// AdminTelegramID seeds an admin user on startup when no user holds it yet.
	AdminTelegramID int64
	AdminName       string
	AdminEmail      string
}

// NotifyConfig tunes the notification dispatcher and the outbound transport.
type NotifyConfig struct {
	MaxAttempts      int
	RetryBackoff     time.Duration
	ClaimLease       time.Duration
	TransportTimeout time.Duration
	RatePerSecond    float64
	Burst            int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether an SMTP relay is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

// PolicyConfig is the scheduling policy. Defaults live in DefaultPolicy and
// may be overridden by the YAML file named in POLICY_FILE.
type PolicyConfig struct {
	BusinessHours       BusinessHours    `yaml:"business_hours"`
	WeekendBlockedTypes []string         `yaml:"weekend_blocked_types"`
	Invitation          InvitationConfig `yaml:"invitation"`
	Reminders           ReminderConfig   `yaml:"reminders"`
}

// BusinessHours bounds the start hour of an appointment: Start <= hour < End.
type BusinessHours struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// InvitationConfig is the participant response aggregation rule.
type InvitationConfig struct {
	Window             time.Duration `yaml:"window"`
	Approval           string        `yaml:"approval"` // "all" or "quorum"
	Quorum             int           `yaml:"quorum"`
	RejectionThreshold int           `yaml:"rejection_threshold"`
	OnRejection        string        `yaml:"on_rejection"` // "alert" or "reject"
}

type ReminderConfig struct {
	HourlyBandMin time.Duration `yaml:"hourly_band_min"`
	HourlyBandMax time.Duration `yaml:"hourly_band_max"`
}

// DefaultPolicy returns the built-in scheduling policy.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		BusinessHours:       BusinessHours{Start: 8, End: 18},
		WeekendBlockedTypes: []string{"hearing"},
		Invitation: InvitationConfig{
			Window:             24 * time.Hour,
			Approval:           "all",
			RejectionThreshold: 2,
			OnRejection:        "alert",
		},
		Reminders: ReminderConfig{
			HourlyBandMin: 45 * time.Minute,
			HourlyBandMax: 75 * time.Minute,
		},
	}
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	cfg.AdminName = getEnvOrDefault("ADMIN_NAME", "Administrador")
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")

	cfg.StoreDriver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", StorePostgres))
	switch cfg.StoreDriver {
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	cfg.AutoMigrate = os.Getenv("AUTO_MIGRATE") == "1"

	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnvOrDefault("ENVIRONMENT", "development"))

	cfg.Timezone = getEnvOrDefault("TIMEZONE", "America/Sao_Paulo")
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	if cfg.Notify.MaxAttempts, err = intEnv("NOTIFY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.Notify.RetryBackoff, err = durationEnv("NOTIFY_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.Notify.ClaimLease, err = durationEnv("NOTIFY_CLAIM_LEASE", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Notify.TransportTimeout, err = durationEnv("TRANSPORT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Notify.RatePerSecond, err = floatEnv("TRANSPORT_RATE_PER_SEC", 5); err != nil {
		return nil, err
	}
	if cfg.Notify.Burst, err = intEnv("TRANSPORT_BURST", 10); err != nil {
		return nil, err
	}

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = os.Getenv("SMTP_FROM")

	cfg.Policy = DefaultPolicy()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		if err := LoadPolicyFile(path, &cfg.Policy); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPolicyFile overlays the YAML policy at path onto p. Keys missing from
// the file keep their current value.
func LoadPolicyFile(path string, p *PolicyConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	bh := c.Policy.BusinessHours
	if bh.Start < 0 || bh.End > 24 || bh.Start >= bh.End {
		return fmt.Errorf("invalid business hours %d-%d", bh.Start, bh.End)
	}
	r := c.Policy.Reminders
	if r.HourlyBandMin <= 0 || r.HourlyBandMax <= r.HourlyBandMin {
		return fmt.Errorf("invalid hourly reminder band %s-%s", r.HourlyBandMin, r.HourlyBandMax)
	}
	// A sweep interval at least as wide as the band could step over an appointment.
	if c.SweepInterval <= 0 || c.SweepInterval >= r.HourlyBandMax-r.HourlyBandMin {
		return fmt.Errorf("SWEEP_INTERVAL %s must be positive and shorter than the reminder band (%s)",
			c.SweepInterval, r.HourlyBandMax-r.HourlyBandMin)
	}
	inv := c.Policy.Invitation
	if inv.Window <= 0 {
		return fmt.Errorf("invitation window must be positive")
	}
	switch inv.Approval {
	case "all":
	case "quorum":
		if inv.Quorum <= 0 {
			return fmt.Errorf("invitation quorum must be positive")
		}
	default:
		return fmt.Errorf("unknown invitation approval rule %q", inv.Approval)
	}
	if inv.OnRejection != "alert" && inv.OnRejection != "reject" {
		return fmt.Errorf("unknown invitation on_rejection %q", inv.OnRejection)
	}
	if inv.RejectionThreshold <= 0 {
		return fmt.Errorf("invitation rejection_threshold must be positive")
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be positive")
	}
	if c.Notify.TransportTimeout <= 0 {
		return fmt.Errorf("TRANSPORT_TIMEOUT must be positive")
	}
	// A claim must outlive every send and backoff of a dispatch, or a sweep
	// could take over a notification that is still being delivered.
	if hold := c.Notify.MaxHold(); c.Notify.ClaimLease <= hold {
		return fmt.Errorf("NOTIFY_CLAIM_LEASE %s must exceed the longest dispatch (%s)", c.Notify.ClaimLease, hold)
	}
	return nil
}

// MaxHold is the longest a dispatch may run between claiming an entry and
// finishing it: every attempt timing out plus the doubled backoffs between them.
func (n NotifyConfig) MaxHold() time.Duration {
	hold := time.Duration(n.MaxAttempts) * n.TransportTimeout
	backoff := n.RetryBackoff
	for i := 1; i < n.MaxAttempts; i++ {
		hold += backoff
		backoff *= 2
		if hold > 24*time.Hour {
			break
		}
	}
	return hold
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
