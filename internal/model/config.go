package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// MailboxConfig holds the IMAP connection and OTP polling settings.
type MailboxConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     string `mapstructure:"port" yaml:"port" validate:"required"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Username string `mapstructure:"username" yaml:"username" validate:"required"`

	// Password may be left empty; it is then read from the keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// Mailbox is the folder searched for OTP messages.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox" validate:"required"`

	// Sender is the From address of OTP messages.
	Sender string `mapstructure:"sender" yaml:"sender" validate:"required"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`

	// MaxPolls bounds the OTP wait. Zero waits until the run is cancelled.
	MaxPolls int `mapstructure:"max_polls" yaml:"max_polls" validate:"gte=0"`

	// DateSkew widens the not-before bound to absorb clock drift with the
	// mail server. Zero keeps the bound at the OTP request instant; any
	// positive value lets messages sent just before the request qualify.
	DateSkew time.Duration `mapstructure:"date_skew" yaml:"date_skew" validate:"gte=0"`
}

// FormProfile holds the static values entered alongside the phone numbers.
type FormProfile struct {
	Category        string `mapstructure:"category" yaml:"category" validate:"required"`
	ContactName     string `mapstructure:"contact_name" yaml:"contact_name"`
	ContactPhone    string `mapstructure:"contact_phone" yaml:"contact_phone"`
	ContactEmail    string `mapstructure:"contact_email" yaml:"contact_email"`
	CompanyName     string `mapstructure:"company_name" yaml:"company_name"`
	CompanyAddress  string `mapstructure:"company_address" yaml:"company_address"`
	City            string `mapstructure:"city" yaml:"city"`
	State           string `mapstructure:"state" yaml:"state"`
	Zip             string `mapstructure:"zip" yaml:"zip"`
	CompanyURL      string `mapstructure:"company_url" yaml:"company_url"`
	ServiceProvider string `mapstructure:"service_provider" yaml:"service_provider"`
	CallCount       string `mapstructure:"call_count" yaml:"call_count"`
	Note            string `mapstructure:"note" yaml:"note"`
}

// FormConfig describes the registration form and its timing.
type FormConfig struct {
	URL string `mapstructure:"url" yaml:"url" validate:"required,url"`

	// PageLoadTimeout bounds each navigation and reload of the form.
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout" validate:"gt=0"`

	// FieldTimeout bounds each wait for a control to become ready.
	FieldTimeout time.Duration `mapstructure:"field_timeout" yaml:"field_timeout" validate:"gt=0"`

	// FeedbackTimeout bounds the wait for the confirmation after submit.
	FeedbackTimeout time.Duration `mapstructure:"feedback_timeout" yaml:"feedback_timeout" validate:"gt=0"`

	Profile FormProfile `mapstructure:"profile" yaml:"profile"`
}

// SheetConfig locates the input and output ranges in Google Sheets.
type SheetConfig struct {
	SpreadsheetID string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id" validate:"required"`
	InputRange    string `mapstructure:"input_range" yaml:"input_range" validate:"required"`
	OutputRange   string `mapstructure:"output_range" yaml:"output_range" validate:"required"`

	// APIKey grants read-only access; writes need CredentialsFile or a
	// service-account JSON stored in the keyring.
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// BrowserConfig controls the Chrome instance driving the form.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
}

// RunConfig holds batch sequencing settings.
type RunConfig struct {
	BatchSize           int           `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0,lte=20"`
	PauseBetweenBatches time.Duration `mapstructure:"pause_between_batches" yaml:"pause_between_batches" validate:"gte=0"`
	LockFile            string        `mapstructure:"lock_file" yaml:"lock_file" validate:"required"`

	// PersistTimeout bounds the final result write, including after an abort.
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout" validate:"gte=0"`
}

// StoreConfig locates the local run ledger.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// LogConfig controls log verbosity and the per-day log folder.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig enables the Prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	Form    FormConfig    `mapstructure:"form" yaml:"form"`
	Sheet   SheetConfig   `mapstructure:"sheet" yaml:"sheet"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// envPrefix namespaces environment overrides, e.g. REGSUBMIT_MAILBOX_PASSWORD.
const envPrefix = "REGSUBMIT"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/regsubmit/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "regsubmit", "config.yaml")
}

// DefaultDataDir returns the directory holding the ledger and lock file.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "regsubmit")
}

func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	v.SetDefault("mailbox.port", "993")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.mailbox", "INBOX")
	v.SetDefault("mailbox.sender", "no-reply@tnsi.com")
	v.SetDefault("mailbox.poll_interval", 5*time.Second)
	v.SetDefault("mailbox.max_polls", 3)
	
	v.SetDefault("form.page_load_timeout", 30*time.Second)
	v.SetDefault("form.field_timeout", 10*time.Second)
	v.SetDefault("form.feedback_timeout", 30*time.Second)
	v.SetDefault("form.profile.category", "telemarketing")

	v.SetDefault("sheet.input_range", "!A1:Z")
	v.SetDefault("sheet.output_range", "Results!A1:D")

	v.SetDefault("run.batch_size", MaxBatchSize)
	v.SetDefault("run.pause_between_batches", 500*time.Millisecond)
	v.SetDefault("run.lock_file", filepath.Join(dataDir, "regsubmit.lock"))
	v.SetDefault("run.persist_timeout", time.Minute)

	v.SetDefault("store.path", filepath.Join(dataDir, "ledger.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// and applies REGSUBMIT_* environment overrides. Call Validate before use.
// A missing file is not an error; defaults and environment still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// bindEnv registers keys that have no default so AutomaticEnv can see them
// during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"mailbox.host", "mailbox.username", "mailbox.password", "mailbox.date_skew",
		"form.url",
		"form.profile.contact_name", "form.profile.contact_phone",
		"form.profile.contact_email", "form.profile.company_name",
		"form.profile.company_address", "form.profile.city",
		"form.profile.state", "form.profile.zip",
		"form.profile.company_url", "form.profile.service_provider",
		"form.profile.call_count", "form.profile.note",
		"sheet.spreadsheet_id", "sheet.api_key", "sheet.credentials_file",
		"browser.headless", "browser.exec_path",
		"metrics.addr",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks required fields and ranges.
func (c *AppConfig) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Secrets are never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	mailbox := cfg.Mailbox
	mailbox.Password = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailbox", mailbox)
	v.Set("form", cfg.Form)
	v.Set("sheet", cfg.Sheet)
	v.Set("browser", cfg.Browser)
	v.Set("run", cfg.Run)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
