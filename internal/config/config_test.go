package config

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/olegiv/dmesg-ai-go/internal/ai"
)

// checkError is a helper to verify error expectations in tests
func checkError(t *testing.T, err error, expectError bool, errorContains string) {
	t.Helper()
	if expectError {
		if err == nil {
			t.Error("Expected an error but got none")
			return
		}
		if errorContains != "" && !strings.Contains(err.Error(), errorContains) {
			t.Errorf("Expected error to contain '%s', got '%s'", errorContains, err.Error())
		}
	} else {
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
}

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		EnabledBackends:        []string{"openai"},
		OpenAIAPIKey:           "sk-test-openai-key-1234567890",
		OpenAIModel:            "gpt-4o",
		OpenAIBaseURL:          "https://api.openai.com/v1",
		GoogleModel:            "gemini-1.5-flash",
		GoogleBaseURL:          "https://generativelanguage.googleapis.com/v1beta",
		ClaudeModel:            "claude-sonnet-4-5-20250929",
		OllamaBaseURL:          "http://localhost:11434",
		OllamaModel:            "llama3.3:latest",
		LMStudioBaseURL:        "http://localhost:1234",
		AITemperature:          0.4,
		AITimeoutSeconds:       120,
		AIMaxTokens:            4000,
		AIMaxAttempts:          1,
		NoisePrefixScope:       "line",
		DmesgFormat:            "text",
		DmesgTimeoutSeconds:    30,
		SMTPHost:               "smtp.example.com",
		SMTPPort:               587,
		SMTPTLS:                "mandatory",
		MailFrom:               "kernel@example.com",
		MailTo:                 []string{"ops@example.com"},
		LogLevel:               "info",
		EnableDatabase:         true,
		RetentionDays:          90,
		EnablePreprocessing:    true,
		MaxPreprocessingTokens: 150000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		expectError   bool
		errorContains string
	}{
		{
			name:   "Valid config",
			mutate: func(c *Config) {},
		},
		{
			name:          "No backends",
			mutate:        func(c *Config) { c.EnabledBackends = nil },
			expectError:   true,
			errorContains: "ENABLED_BACKENDS",
		},
		{
			name:          "Missing OpenAI key",
			mutate:        func(c *Config) { c.OpenAIAPIKey = "" },
			expectError:   true,
			errorContains: "OPENAI_API_KEY is required",
		},
		{
			name: "Missing Google key",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"google"}
			},
			expectError:   true,
			errorContains: "GOOGLE_API_KEY is required",
		},
		{
			name: "Valid Google",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"google"}
				c.GoogleAPIKey = "AIzaTestKey"
			},
		},
		{
			name: "Missing Anthropic key",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"openai", "anthropic"}
			},
			expectError:   true,
			errorContains: "ANTHROPIC_API_KEY is required",
		},
		{
			name: "Invalid Anthropic key format",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"anthropic"}
				c.AnthropicAPIKey = "invalid-key"
			},
			expectError:   true,
			errorContains: "must start with 'sk-ant-'",
		},
		{
			name: "Ollama URL without scheme",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"ollama"}
				c.OllamaBaseURL = "localhost:11434"
			},
			expectError:   true,
			errorContains: "OLLAMA_BASE_URL must start with",
		},
		{
			name: "LM Studio needs no key",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"lmstudio"}
			},
		},
		{
			name: "Unknown backend is kept",
			mutate: func(c *Config) {
				c.EnabledBackends = []string{"openai", "mistral"}
			},
		},
		{
			name: "No delivery channel",
			mutate: func(c *Config) {
				c.SMTPHost, c.MailFrom, c.MailTo = "", "", nil
			},
			expectError:   true,
			errorContains: "no delivery channel configured",
		},
		{
			name:          "Email without recipients",
			mutate:        func(c *Config) { c.MailTo = nil },
			expectError:   true,
			errorContains: "MAIL_TO is required",
		},
		{
			name:          "Email without sender",
			mutate:        func(c *Config) { c.MailFrom = "" },
			expectError:   true,
			errorContains: "MAIL_FROM is required",
		},
		{
			name:          "Invalid SMTP TLS",
			mutate:        func(c *Config) { c.SMTPTLS = "sometimes" },
			expectError:   true,
			errorContains: "SMTP_TLS must be",
		},
		{
			name:          "Invalid SMTP port",
			mutate:        func(c *Config) { c.SMTPPort = 70000 },
			expectError:   true,
			errorContains: "SMTP_PORT must be between",
		},
		{
			name:          "SMTP password without username",
			mutate:        func(c *Config) { c.SMTPPassword = "secret" },
			expectError:   true,
			errorContains: "SMTP_USERNAME is required",
		},
		{
			name: "Telegram only",
			mutate: func(c *Config) {
				c.SMTPHost, c.MailFrom, c.MailTo = "", "", nil
				c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
				c.TelegramChannelID = -1001234567890
			},
		},
		{
			name: "Invalid Telegram token",
			mutate: func(c *Config) {
				c.TelegramBotToken = "not-a-token"
				c.TelegramChannelID = -1001234567890
			},
			expectError:   true,
			errorContains: "TELEGRAM_BOT_TOKEN has invalid format",
		},
		{
			name: "Telegram token without channel",
			mutate: func(c *Config) {
				c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
			},
			expectError:   true,
			errorContains: "TELEGRAM_CHANNEL_ID is required",
		},
		{
			name: "Telegram channel is not a supergroup",
			mutate: func(c *Config) {
				c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
				c.TelegramChannelID = 12345
			},
			expectError:   true,
			errorContains: "starts with -100",
		},
		{
			name:          "Invalid dmesg format",
			mutate:        func(c *Config) { c.DmesgFormat = "xml" },
			expectError:   true,
			errorContains: "DMESG_FORMAT",
		},
		{
			name:          "Invalid noise prefix scope",
			mutate:        func(c *Config) { c.NoisePrefixScope = "anywhere" },
			expectError:   true,
			errorContains: "NOISE_PREFIX_SCOPE",
		},
		{
			name:          "Dmesg timeout too small",
			mutate:        func(c *Config) { c.DmesgTimeoutSeconds = 0 },
			expectError:   true,
			errorContains: "DMESG_TIMEOUT_SECONDS",
		},
		{
			name:          "Invalid log level",
			mutate:        func(c *Config) { c.LogLevel = "verbose" },
			expectError:   true,
			errorContains: "LOG_LEVEL must be one of",
		},
		{
			name:          "Preprocessing budget too small",
			mutate:        func(c *Config) { c.MaxPreprocessingTokens = 500 },
			expectError:   true,
			errorContains: "MAX_PREPROCESSING_TOKENS",
		},
		{
			name: "Preprocessing budget ignored when disabled",
			mutate: func(c *Config) {
				c.EnablePreprocessing = false
				c.MaxPreprocessingTokens = 0
			},
		},
		{
			name:          "Retention too small",
			mutate:        func(c *Config) { c.RetentionDays = 0 },
			expectError:   true,
			errorContains: "RETENTION_DAYS",
		},
		{
			name:          "Temperature out of range",
			mutate:        func(c *Config) { c.AITemperature = 1.5 },
			expectError:   true,
			errorContains: "AI_TEMPERATURE",
		},
		{
			name:          "AI timeout out of range",
			mutate:        func(c *Config) { c.AITimeoutSeconds = 10 },
			expectError:   true,
			errorContains: "AI_TIMEOUT_SECONDS",
		},
		{
			name:          "AI max tokens out of range",
			mutate:        func(c *Config) { c.AIMaxTokens = 20000 },
			expectError:   true,
			errorContains: "AI_MAX_TOKENS",
		},
		{
			name:          "AI max attempts out of range",
			mutate:        func(c *Config) { c.AIMaxAttempts = 0 },
			expectError:   true,
			errorContains: "AI_MAX_ATTEMPTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			checkError(t, c.Validate(), tt.expectError, tt.errorContains)
		})
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	for _, level := range []string{"DEBUG", "Info", "WARN", "error"} {
		c := validConfig()
		c.LogLevel = level
		if err := c.Validate(); err != nil {
			t.Errorf("LOG_LEVEL %q should be valid: %v", level, err)
		}
	}
}

func TestHasChannels(t *testing.T) {
	c := validConfig()
	if !c.HasEmail() {
		t.Error("HasEmail() should be true")
	}
	if c.HasTelegram() {
		t.Error("HasTelegram() should be false")
	}

	c.TelegramBotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
	c.TelegramChannelID = -1001234567890
	if !c.HasTelegram() {
		t.Error("HasTelegram() should be true")
	}

	c.MailTo = nil
	if c.HasEmail() {
		t.Error("HasEmail() should be false without recipients")
	}
}

func TestGetProxyURL(t *testing.T) {
	tests := []struct {
		name       string
		httpProxy  string
		httpsProxy string
		isHTTPS    bool
		want       string
	}{
		{"HTTPS proxy for HTTPS", "http://proxy:8080", "https://proxy:8443", true, "https://proxy:8443"},
		{"HTTP proxy fallback for HTTPS", "http://proxy:8080", "", true, "http://proxy:8080"},
		{"HTTP proxy for HTTP", "http://proxy:8080", "https://proxy:8443", false, "http://proxy:8080"},
		{"No proxy", "", "", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{HTTPProxy: tt.httpProxy, HTTPSProxy: tt.httpsProxy}
			if got := c.GetProxyURL(tt.isHTTPS); got != tt.want {
				t.Errorf("GetProxyURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	c := &Config{EnabledBackends: []string{"google", "mistral", "openai"}}

	want := []ai.BackendID{ai.BackendGoogle, "mistral", ai.BackendOpenAI}
	if got := c.Backends(); !reflect.DeepEqual(got, want) {
		t.Errorf("Backends() = %v, want %v", got, want)
	}
	if got := c.UnknownBackends(); !reflect.DeepEqual(got, []string{"mistral"}) {
		t.Errorf("UnknownBackends() = %v", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"openai", []string{"openai"}},
		{"openai, google ,ollama", []string{"openai", "google", "ollama"}},
		{"a,,b,", []string{"a", "b"}},
		{"[UFW BLOCK],audit: type=1400", []string{"[UFW BLOCK]", "audit: type=1400"}},
	}

	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConstantTimePrefixMatch(t *testing.T) {
	tests := []struct {
		s, prefix string
		want      bool
	}{
		{"sk-ant-api03-abc", "sk-ant-", true},
		{"sk-ant-", "sk-ant-", true},
		{"sk-an", "sk-ant-", false},
		{"sk-proj-abc", "sk-ant-", false},
		{"", "sk-ant-", false},
		{"anything", "", true},
	}

	for _, tt := range tests {
		if got := constantTimePrefixMatch(tt.s, tt.prefix); got != tt.want {
			t.Errorf("constantTimePrefixMatch(%q, %q) = %v, want %v", tt.s, tt.prefix, got, tt.want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	var out bytes.Buffer
	opts, err := ParseArgs([]string{"-backends", "openai,google", "-image", "/tmp/graph.png", "-history", "5"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if opts.Backends != "openai,google" || opts.ImagePath != "/tmp/graph.png" || opts.History != 5 {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.ShowHelp || opts.ShowVersion {
		t.Error("help and version should default to false")
	}

	opts, err = ParseArgs([]string{"-run", "0b7e2f4c-9c1d-4a8e-b3f5-2d6a1c9e7f30"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs(-run) error = %v", err)
	}
	if opts.RunID != "0b7e2f4c-9c1d-4a8e-b3f5-2d6a1c9e7f30" {
		t.Errorf("RunID = %q", opts.RunID)
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	opts, err := ParseArgs([]string{"-help"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if !opts.ShowHelp {
		t.Error("ShowHelp should be set")
	}
	if !strings.Contains(out.String(), "-backends") {
		t.Errorf("usage should list flags, got %q", out.String())
	}
}

func TestParseArgs_Errors(t *testing.T) {
	var out bytes.Buffer

	if _, err := ParseArgs([]string{"-unknown"}, &out); err == nil {
		t.Error("expected error for unknown flag")
	}
	if _, err := ParseArgs([]string{"-history", "-1"}, &out); err == nil {
		t.Error("expected error for negative history")
	}
	if _, err := ParseArgs([]string{"-history", "3", "-run", "abc"}, &out); err == nil {
		t.Error("expected error for -history combined with -run")
	}
	if _, err := ParseArgs([]string{"-h"}, &out); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h should yield flag.ErrHelp, got %v", err)
	}
}

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENABLED_BACKENDS", "openai, google")
	t.Setenv("OPENAI_API_KEY", "sk-test-openai-key-1234567890")
	t.Setenv("GOOGLE_API_KEY", "AIzaTestKey")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("MAIL_FROM", "kernel@example.com")
	t.Setenv("MAIL_TO", "ops@example.com, oncall@example.com")
	t.Setenv("NOISE_PREFIXES", "[UFW BLOCK],audit:")
}

func TestLoad(t *testing.T) {
	setValidEnv(t)

	config, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !reflect.DeepEqual(config.EnabledBackends, []string{"openai", "google"}) {
		t.Errorf("EnabledBackends = %v", config.EnabledBackends)
	}
	if !reflect.DeepEqual(config.MailTo, []string{"ops@example.com", "oncall@example.com"}) {
		t.Errorf("MailTo = %v", config.MailTo)
	}
	if !reflect.DeepEqual(config.NoisePrefixes, []string{"[UFW BLOCK]", "audit:"}) {
		t.Errorf("NoisePrefixes = %v", config.NoisePrefixes)
	}

	// Defaults
	if config.OpenAIModel != "gpt-4o" {
		t.Errorf("OpenAIModel = %q, want gpt-4o", config.OpenAIModel)
	}
	if config.AITemperature != 0.4 {
		t.Errorf("AITemperature = %v, want 0.4", config.AITemperature)
	}
	if config.AIMaxAttempts != 1 {
		t.Errorf("AIMaxAttempts = %d, want 1", config.AIMaxAttempts)
	}
	if config.SMTPPort != 587 || config.SMTPTLS != "mandatory" {
		t.Errorf("SMTP defaults = %d/%s", config.SMTPPort, config.SMTPTLS)
	}
	if config.DmesgFormat != "text" || !config.DmesgUseSudo || config.UptimePath != "/proc/uptime" {
		t.Errorf("dmesg defaults = %s/%v/%s", config.DmesgFormat, config.DmesgUseSudo, config.UptimePath)
	}
	if config.NoisePrefixScope != "line" {
		t.Errorf("NoisePrefixScope = %q, want line", config.NoisePrefixScope)
	}
	if config.MailSubjectPrefix != "Kernel log summary for host" {
		t.Errorf("MailSubjectPrefix = %q", config.MailSubjectPrefix)
	}
	if !strings.HasPrefix(config.ExtraInstructions, "You can ignore lines related to audit") {
		t.Errorf("ExtraInstructions = %q", config.ExtraInstructions)
	}
}

func TestLoadWithCLI_Overrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("IMAGE_PATH", "/etc/dmesg/env.png")
	t.Setenv("OLLAMA_MODEL", "llama3.3:latest")

	config, err := LoadWithCLI(&CLIOptions{Backends: "ollama", ImagePath: "/tmp/cli.png"})
	if err != nil {
		t.Fatalf("LoadWithCLI() error = %v", err)
	}

	if !reflect.DeepEqual(config.EnabledBackends, []string{"ollama"}) {
		t.Errorf("EnabledBackends = %v, want [ollama]", config.EnabledBackends)
	}
	if config.ImagePath != "/tmp/cli.png" {
		t.Errorf("ImagePath = %q, want /tmp/cli.png", config.ImagePath)
	}
}

func TestLoad_ValidationFails(t *testing.T) {
	os.Clearenv()

	_, err := Load()
	if err == nil {
		t.Error("Expected Load to fail when required env vars are missing")
	}
}
