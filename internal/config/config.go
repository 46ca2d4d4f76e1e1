// Package config loads analyzer settings from the environment, an optional
// .env file and command-line flags.
package config

import (
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/olegiv/dmesg-ai-go/internal/ai"
	"github.com/spf13/viper"
)

// CLIOptions holds command-line argument overrides
type CLIOptions struct {
	Backends    string // -backends: comma list overriding ENABLED_BACKENDS
	ImagePath   string // -image: image attached to every request
	History     int    // -history: print the last N stored cycles and exit
	RunID       string // -run: print the stored cycles of one run and exit
	ShowHelp    bool   // -help: show usage
	ShowVersion bool   // -version: show version
}

// ParseCLI parses os.Args and exits on a malformed command line.
func ParseCLI() *CLIOptions {
	opts, err := ParseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	return opts
}

// ParseArgs parses args into CLIOptions. Usage and errors go to output.
func ParseArgs(args []string, output io.Writer) (*CLIOptions, error) {
	opts := &CLIOptions{}
	fs := flag.NewFlagSet("dmesg-analyzer", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.Backends, "backends", "", "Comma-separated backends to run: openai, google, anthropic, ollama, lmstudio (overrides ENABLED_BACKENDS)")
	fs.StringVar(&opts.ImagePath, "image", "", "Image to attach to every request (overrides IMAGE_PATH)")
	fs.IntVar(&opts.History, "history", 0, "Print the last N stored analysis cycles as YAML and exit")
	fs.StringVar(&opts.RunID, "run", "", "Print the stored cycles of one run ID as YAML and exit")
	fs.BoolVar(&opts.ShowHelp, "help", false, "Show usage information")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "Dmesg AI Analyzer - kernel log summaries by language models\n\n")
		_, _ = fmt.Fprintf(output, "Usage: %s [options]\n\n", fs.Name())
		_, _ = fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(output, "\nExamples:\n")
		_, _ = fmt.Fprintf(output, "  %s\n", fs.Name())
		_, _ = fmt.Fprintf(output, "  %s -backends openai,google\n", fs.Name())
		_, _ = fmt.Fprintf(output, "  %s -backends ollama -image ./graph.png\n", fs.Name())
		_, _ = fmt.Fprintf(output, "  %s -history 10\n", fs.Name())
		_, _ = fmt.Fprintf(output, "  %s -run 0b7e2f4c-9c1d-4a8e-b3f5-2d6a1c9e7f30\n", fs.Name())
		_, _ = fmt.Fprintf(output, "\nEnvironment variables can be set in .env file or exported directly.\n")
		_, _ = fmt.Fprintf(output, "CLI arguments override environment variables.\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.ShowHelp {
		fs.Usage()
	}
	if opts.History < 0 {
		return nil, fmt.Errorf("-history must not be negative")
	}
	if opts.History > 0 && opts.RunID != "" {
		return nil, fmt.Errorf("-history and -run cannot be combined")
	}

	return opts, nil
}

// Config holds all application configuration
type Config struct {
	// Backends, in the order their cycles run. Unknown ids are kept and
	// abort their own cycle at run time.
	EnabledBackends []string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GoogleAPIKey  string
	GoogleModel   string
	GoogleBaseURL string

	AnthropicAPIKey string
	ClaudeModel     string

	OllamaBaseURL string
	OllamaModel   string

	LMStudioBaseURL string
	LMStudioModel   string

	// Request settings shared by every backend
	AITemperature    float64
	AITimeoutSeconds int
	AIMaxTokens      int
	AIMaxAttempts    int

	// Report
	ReportLanguage    string
	ExtraInstructions string
	ImagePath         string
	Hostname          string

	// Kernel log
	NoisePrefixes       []string
	NoisePrefixScope    string // "line" or "message"
	DmesgFormat         string // "text" or "json"
	DmesgUseSudo        bool
	DmesgTimeoutSeconds int
	UptimePath          string

	// Email delivery
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPTLS           string
	MailFrom          string
	MailTo            []string
	MailSubjectPrefix string

	// Telegram mirror (optional)
	TelegramBotToken  string
	TelegramChannelID int64

	// Application
	LogLevel       string
	LogDir         string
	EnableDatabase bool
	DatabasePath   string
	RetentionDays  int

	// Preprocessing
	EnablePreprocessing    bool
	MaxPreprocessingTokens int

	// Proxy
	HTTPProxy  string
	HTTPSProxy string
}

// Load loads configuration from .env file and environment variables
// Priority: .env file > OS environment variables
// For CLI overrides, use LoadWithCLI instead
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI loads configuration with CLI argument overrides
// Priority: CLI args > .env file > OS environment variables
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// godotenv sets OS env vars from .env, which viper then reads
	_ = godotenv.Load()

	setDefaults()

	config := &Config{
		EnabledBackends: splitList(viper.GetString("ENABLED_BACKENDS")),

		OpenAIAPIKey:    viper.GetString("OPENAI_API_KEY"),
		OpenAIModel:     viper.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:   viper.GetString("OPENAI_BASE_URL"),
		GoogleAPIKey:    viper.GetString("GOOGLE_API_KEY"),
		GoogleModel:     viper.GetString("GOOGLE_MODEL"),
		GoogleBaseURL:   viper.GetString("GOOGLE_BASE_URL"),
		AnthropicAPIKey: viper.GetString("ANTHROPIC_API_KEY"),
		ClaudeModel:     viper.GetString("CLAUDE_MODEL"),
		OllamaBaseURL:   viper.GetString("OLLAMA_BASE_URL"),
		OllamaModel:     viper.GetString("OLLAMA_MODEL"),
		LMStudioBaseURL: viper.GetString("LMSTUDIO_BASE_URL"),
		LMStudioModel:   viper.GetString("LMSTUDIO_MODEL"),

		AITemperature:    viper.GetFloat64("AI_TEMPERATURE"),
		AITimeoutSeconds: viper.GetInt("AI_TIMEOUT_SECONDS"),
		AIMaxTokens:      viper.GetInt("AI_MAX_TOKENS"),
		AIMaxAttempts:    viper.GetInt("AI_MAX_ATTEMPTS"),

		ReportLanguage:    viper.GetString("REPORT_LANGUAGE"),
		ExtraInstructions: viper.GetString("EXTRA_INSTRUCTIONS"),
		ImagePath:         viper.GetString("IMAGE_PATH"),
		Hostname:          viper.GetString("REPORT_HOSTNAME"),

		NoisePrefixes:       splitList(viper.GetString("NOISE_PREFIXES")),
		NoisePrefixScope:    strings.ToLower(viper.GetString("NOISE_PREFIX_SCOPE")),
		DmesgFormat:         strings.ToLower(viper.GetString("DMESG_FORMAT")),
		DmesgUseSudo:        viper.GetBool("DMESG_USE_SUDO"),
		DmesgTimeoutSeconds: viper.GetInt("DMESG_TIMEOUT_SECONDS"),
		UptimePath:          viper.GetString("UPTIME_PATH"),

		SMTPHost:          viper.GetString("SMTP_HOST"),
		SMTPPort:          viper.GetInt("SMTP_PORT"),
		SMTPUsername:      viper.GetString("SMTP_USERNAME"),
		SMTPPassword:      viper.GetString("SMTP_PASSWORD"),
		SMTPTLS:           strings.ToLower(viper.GetString("SMTP_TLS")),
		MailFrom:          viper.GetString("MAIL_FROM"),
		MailTo:            splitList(viper.GetString("MAIL_TO")),
		MailSubjectPrefix: viper.GetString("MAIL_SUBJECT_PREFIX"),

		TelegramBotToken:  viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannelID: viper.GetInt64("TELEGRAM_CHANNEL_ID"),

		LogLevel:               viper.GetString("LOG_LEVEL"),
		LogDir:                 viper.GetString("LOG_DIR"),
		EnableDatabase:         viper.GetBool("ENABLE_DATABASE"),
		DatabasePath:           viper.GetString("DATABASE_PATH"),
		RetentionDays:          viper.GetInt("RETENTION_DAYS"),
		EnablePreprocessing:    viper.GetBool("ENABLE_PREPROCESSING"),
		MaxPreprocessingTokens: viper.GetInt("MAX_PREPROCESSING_TOKENS"),
		HTTPProxy:              viper.GetString("HTTP_PROXY"),
		HTTPSProxy:             viper.GetString("HTTPS_PROXY"),
	}

	if cli != nil {
		if cli.Backends != "" {
			config.EnabledBackends = splitList(cli.Backends)
		}
		if cli.ImagePath != "" {
			config.ImagePath = cli.ImagePath
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("ENABLED_BACKENDS", "openai")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o")
	viper.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	viper.SetDefault("GOOGLE_MODEL", "gemini-1.5-flash")
	viper.SetDefault("GOOGLE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("CLAUDE_MODEL", "claude-sonnet-4-5-20250929")
	viper.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	viper.SetDefault("OLLAMA_MODEL", "llama3.3:latest")
	viper.SetDefault("LMSTUDIO_BASE_URL", "http://localhost:1234")
	viper.SetDefault("LMSTUDIO_MODEL", "local-model")

	viper.SetDefault("AI_TEMPERATURE", ai.DefaultTemperature)
	viper.SetDefault("AI_TIMEOUT_SECONDS", 120)
	viper.SetDefault("AI_MAX_TOKENS", 4000)
	viper.SetDefault("AI_MAX_ATTEMPTS", 1)

	viper.SetDefault("REPORT_LANGUAGE", "English")
	viper.SetDefault("EXTRA_INSTRUCTIONS", "You can ignore lines related to audit and nextcloud. ")

	viper.SetDefault("NOISE_PREFIX_SCOPE", "line")
	viper.SetDefault("DMESG_FORMAT", "text")
	viper.SetDefault("DMESG_USE_SUDO", true)
	viper.SetDefault("DMESG_TIMEOUT_SECONDS", 30)
	viper.SetDefault("UPTIME_PATH", "/proc/uptime")

	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("SMTP_TLS", "mandatory")
	viper.SetDefault("MAIL_SUBJECT_PREFIX", "Kernel log summary for host")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DIR", "./logs")
	viper.SetDefault("ENABLE_DATABASE", true)
	viper.SetDefault("DATABASE_PATH", "./data/reports.db")
	viper.SetDefault("RETENTION_DAYS", 90)
	viper.SetDefault("ENABLE_PREPROCESSING", true)
	viper.SetDefault("MAX_PREPROCESSING_TOKENS", 150000)
}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.EnabledBackends) == 0 {
		return fmt.Errorf("ENABLED_BACKENDS must list at least one backend")
	}
	for _, backend := range c.EnabledBackends {
		if err := c.validateBackend(backend); err != nil {
			return err
		}
	}

	if err := c.validateDelivery(); err != nil {
		return err
	}

	switch c.DmesgFormat {
	case "text", "json":
	default:
		return fmt.Errorf("DMESG_FORMAT must be 'text' or 'json' (got: %s)", c.DmesgFormat)
	}
	switch c.NoisePrefixScope {
	case "line", "message":
	default:
		return fmt.Errorf("NOISE_PREFIX_SCOPE must be 'line' or 'message' (got: %s)", c.NoisePrefixScope)
	}
	if c.DmesgTimeoutSeconds < 1 || c.DmesgTimeoutSeconds > 600 {
		return fmt.Errorf("DMESG_TIMEOUT_SECONDS must be between 1 and 600")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.EnablePreprocessing && c.MaxPreprocessingTokens < 10000 {
		return fmt.Errorf("MAX_PREPROCESSING_TOKENS must be at least 10000")
	}
	if c.EnableDatabase && c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1")
	}

	if c.AITemperature < 0 || c.AITemperature > 1 {
		return fmt.Errorf("AI_TEMPERATURE must be between 0 and 1")
	}
	if c.AITimeoutSeconds < 30 || c.AITimeoutSeconds > 600 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be between 30 and 600")
	}
	if c.AIMaxTokens < 500 || c.AIMaxTokens > 16000 {
		return fmt.Errorf("AI_MAX_TOKENS must be between 500 and 16000")
	}
	if c.AIMaxAttempts < 1 || c.AIMaxAttempts > 5 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be between 1 and 5")
	}

	return nil
}

// validateBackend checks the credentials of a known backend. Unknown ids
// pass: they are reported when their cycle runs.
func (c *Config) validateBackend(backend string) error {
	switch ai.BackendID(backend) {
	case ai.BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when openai is enabled")
		}
		if c.OpenAIModel == "" {
			return fmt.Errorf("OPENAI_MODEL is required when openai is enabled")
		}
		return validateURL("OPENAI_BASE_URL", c.OpenAIBaseURL)

	case ai.BackendGoogle:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required when google is enabled")
		}
		if c.GoogleModel == "" {
			return fmt.Errorf("GOOGLE_MODEL is required when google is enabled")
		}
		return validateURL("GOOGLE_BASE_URL", c.GoogleBaseURL)

	case ai.BackendAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when anthropic is enabled")
		}
		if !constantTimePrefixMatch(c.AnthropicAPIKey, "sk-ant-") {
			return fmt.Errorf("ANTHROPIC_API_KEY must start with 'sk-ant-'")
		}
		if c.ClaudeModel == "" {
			return fmt.Errorf("CLAUDE_MODEL is required when anthropic is enabled")
		}

	case ai.BackendOllama:
		if c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_MODEL is required when ollama is enabled")
		}
		return validateURL("OLLAMA_BASE_URL", c.OllamaBaseURL)

	case ai.BackendLMStudio:
		// Model is optional for LM Studio (defaults to "local-model")
		return validateURL("LMSTUDIO_BASE_URL", c.LMStudioBaseURL)
	}

	return nil
}

func validateURL(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return fmt.Errorf("%s must start with 'http://' or 'https://'", key)
	}
	return nil
}

// validateDelivery requires at least one complete delivery channel and
// rejects half-configured ones.
func (c *Config) validateDelivery() error {
	if c.SMTPHost != "" || c.MailFrom != "" || len(c.MailTo) > 0 {
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for email delivery")
		}
		if c.MailFrom == "" {
			return fmt.Errorf("MAIL_FROM is required for email delivery")
		}
		if len(c.MailTo) == 0 {
			return fmt.Errorf("MAIL_TO is required for email delivery")
		}
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			return fmt.Errorf("SMTP_PORT must be between 1 and 65535")
		}
		switch c.SMTPTLS {
		case "mandatory", "opportunistic", "none":
		default:
			return fmt.Errorf("SMTP_TLS must be 'mandatory', 'opportunistic' or 'none' (got: %s)", c.SMTPTLS)
		}
		if c.SMTPPassword != "" && c.SMTPUsername == "" {
			return fmt.Errorf("SMTP_USERNAME is required when SMTP_PASSWORD is set")
		}
	}

	if c.TelegramBotToken != "" || c.TelegramChannelID != 0 {
		if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
		}
		if c.TelegramChannelID == 0 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
		}
		if c.TelegramChannelID > -100 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ID must be a supergroup/channel ID (starts with -100)")
		}
	}

	if !c.HasEmail() && !c.HasTelegram() {
		return fmt.Errorf("no delivery channel configured: set SMTP_HOST, MAIL_FROM and MAIL_TO, or TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID")
	}

	return nil
}

// HasEmail returns true if SMTP delivery is configured
func (c *Config) HasEmail() bool {
	return c.SMTPHost != "" && c.MailFrom != "" && len(c.MailTo) > 0
}

// HasTelegram returns true if the Telegram mirror is configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChannelID != 0
}

// GetProxyURL returns the appropriate proxy URL for HTTP/HTTPS requests
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}

// Backends returns the enabled backends as identifiers.
func (c *Config) Backends() []ai.BackendID {
	ids := make([]ai.BackendID, 0, len(c.EnabledBackends))
	for _, b := range c.EnabledBackends {
		ids = append(ids, ai.BackendID(b))
	}
	return ids
}

// UnknownBackends lists enabled ids this build cannot construct.
func (c *Config) UnknownBackends() []string {
	var unknown []string
	for _, b := range c.EnabledBackends {
		if !ai.IsKnownBackend(b) {
			unknown = append(unknown, b)
		}
	}
	return unknown
}

// splitList splits a comma-separated value, trimming blanks and dropping
// empty items.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// constantTimePrefixMatch checks if s starts with prefix using constant-time comparison.
// Returns false if s is shorter than prefix.
func constantTimePrefixMatch(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s[:len(prefix)]), []byte(prefix)) == 1
}
