package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the application configuration
type Config struct {
	// Store settings
	StoreDriver string `yaml:"storeDriver"`
	CachePath   string `yaml:"cachePath"`
	DatabaseURL string `yaml:"databaseURL"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`
	HTTPPort int    `yaml:"httpPort"`

	Timeline TimelineConfig `yaml:"timeline"`
	NATS     NATSConfig     `yaml:"nats"`

	DeliveryInterval time.Duration `yaml:"deliveryInterval"`
	SyncInterval     time.Duration `yaml:"syncInterval"`

	// Accounts
	Accounts []AccountConfig `yaml:"accounts"`
}

// TimelineConfig holds the timeline pipeline settings
type TimelineConfig struct {
	Channel         string `yaml:"channel"`
	Dedup           string `yaml:"dedup"`
	EmailPreviewCap int    `yaml:"emailPreviewCap"`
	FormPreviewCap  int    `yaml:"formPreviewCap"`
	QuoteMinOffset  int    `yaml:"quoteMinOffset"`
	SenderName      string `yaml:"senderName"`
	SenderEmail     string `yaml:"senderEmail"`
}

// NATSConfig holds the event bus connection. An empty URL disables events.
type NATSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name string `yaml:"name"`

	// IMAP settings
	IMAPHost     string `yaml:"imapHost"`
	IMAPPort     int    `yaml:"imapPort"`
	IMAPUsername string `yaml:"imapUsername"`
	IMAPPassword string `yaml:"imapPassword"`
	Mailbox      string `yaml:"mailbox"`

	// SMTP settings
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		StoreDriver: "sqlite",
		CachePath:   "/data/timeline.db",
		LogLevel:    "info",
		LogJSON:     true,
		HTTPPort:    8080,
		Timeline: TimelineConfig{
			Channel:         "email",
			Dedup:           "raw",
			EmailPreviewCap: 300,
			FormPreviewCap:  500,
			QuoteMinOffset:  50,
		},
		DeliveryInterval: 30 * time.Second,
		SyncInterval:     5 * time.Minute,
	}
}

// LoadConfig loads the optional CONFIG_FILE and then applies environment
// variables on top of it
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.CachePath = getEnv("CACHE_PATH", cfg.CachePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("LOG_JSON", cfg.LogJSON)
	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)

	cfg.Timeline.Channel = getEnv("TIMELINE_CHANNEL", cfg.Timeline.Channel)
	cfg.Timeline.Dedup = getEnv("TIMELINE_DEDUP", cfg.Timeline.Dedup)
	cfg.Timeline.EmailPreviewCap = getEnvInt("EMAIL_PREVIEW_CAP", cfg.Timeline.EmailPreviewCap)
	cfg.Timeline.FormPreviewCap = getEnvInt("FORM_PREVIEW_CAP", cfg.Timeline.FormPreviewCap)
	cfg.Timeline.QuoteMinOffset = getEnvInt("QUOTE_MIN_OFFSET", cfg.Timeline.QuoteMinOffset)
	cfg.Timeline.SenderName = getEnv("SENDER_NAME", cfg.Timeline.SenderName)
	cfg.Timeline.SenderEmail = getEnv("SENDER_EMAIL", cfg.Timeline.SenderEmail)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Token = getEnv("NATS_TOKEN", cfg.NATS.Token)

	cfg.DeliveryInterval = getEnvDuration("DELIVERY_INTERVAL", cfg.DeliveryInterval)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", cfg.SyncInterval)

	// Environment accounts replace file accounts
	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	if len(accounts) > 0 {
		cfg.Accounts = accounts
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].applyDefaults()
	}

	if cfg.Timeline.SenderEmail == "" {
		if acc := cfg.GetDefaultAccount(); acc != nil {
			cfg.Timeline.SenderEmail = acc.SMTPUsername
		}
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (a *AccountConfig) applyDefaults() {
	if a.IMAPPort == 0 {
		a.IMAPPort = 993
	}
	if a.SMTPPort == 0 {
		a.SMTPPort = 587
	}
	if a.Mailbox == "" {
		a.Mailbox = "INBOX"
	}
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	// Single account configuration first
	if hasSingleAccount() {
		account, err := loadAccount("", getEnv("ACCOUNT_NAME", "default"))
		if err != nil {
			return nil, err
		}
		return []AccountConfig{*account}, nil
	}

	// Numbered accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getEnv(prefix+"NAME", "")
		if name == "" {
			break
		}
		account, err := loadAccount(prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

// hasSingleAccount checks if single account configuration exists
func hasSingleAccount() bool {
	return getEnv("IMAP_HOST", "") != "" || getEnv("SMTP_HOST", "") != ""
}

func loadAccount(prefix, name string) (*AccountConfig, error) {
	acc := &AccountConfig{
		Name:         name,
		IMAPHost:     getEnv(prefix+"IMAP_HOST", ""),
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPUsername: getEnv(prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getEnv(prefix+"IMAP_PASSWORD", ""),
		Mailbox:      getEnv(prefix+"IMAP_MAILBOX", "INBOX"),
		SMTPHost:     getEnv(prefix+"SMTP_HOST", ""),
		SMTPPort:     getEnvInt(prefix+"SMTP_PORT", 587),
		SMTPUsername: getEnv(prefix+"SMTP_USERNAME", ""),
		SMTPPassword: getEnv(prefix+"SMTP_PASSWORD", ""),
	}

	if acc.IMAPHost != "" && (acc.IMAPUsername == "" || acc.IMAPPassword == "") {
		return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required with IMAP_HOST")
	}
	if acc.SMTPHost != "" && (acc.SMTPUsername == "" || acc.SMTPPassword == "") {
		return nil, fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD are required with SMTP_HOST")
	}
	return acc, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration ("30s", "5m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the account named "default", else the first one
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}
	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}
	return &c.Accounts[0]
}

// SyncAccounts returns the accounts with IMAP configured
func (c *Config) SyncAccounts() []AccountConfig {
	var out []AccountConfig
	for _, acc := range c.Accounts {
		if acc.IMAPHost != "" {
			out = append(out, acc)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.CachePath == "" {
			return fmt.Errorf("CACHE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", c.StoreDriver)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}

	if c.Timeline.Dedup != "raw" && c.Timeline.Dedup != "namespaced" {
		return fmt.Errorf("TIMELINE_DEDUP must be raw or namespaced, got %q", c.Timeline.Dedup)
	}
	if c.Timeline.Channel == "" {
		return fmt.Errorf("TIMELINE_CHANNEL is required")
	}
	if c.Timeline.EmailPreviewCap < 1 || c.Timeline.FormPreviewCap < 1 {
		return fmt.Errorf("preview caps must be positive")
	}
	if c.Timeline.QuoteMinOffset < 0 {
		return fmt.Errorf("QUOTE_MIN_OFFSET must not be negative")
	}

	if c.DeliveryInterval <= 0 || c.SyncInterval <= 0 {
		return fmt.Errorf("DELIVERY_INTERVAL and SYNC_INTERVAL must be positive")
	}

	// Validate each account
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" && acc.SMTPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST or SMTP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
