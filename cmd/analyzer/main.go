package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olegiv/dmesg-ai-go/internal/ai"
	"github.com/olegiv/dmesg-ai-go/internal/analyzer"
	"github.com/olegiv/dmesg-ai-go/internal/config"
	"github.com/olegiv/dmesg-ai-go/internal/dmesg"
	"github.com/olegiv/dmesg-ai-go/internal/logging"
	"github.com/olegiv/dmesg-ai-go/internal/notification"
	"github.com/olegiv/dmesg-ai-go/internal/report"
	"github.com/olegiv/dmesg-ai-go/internal/storage"
	"github.com/olegiv/dmesg-ai-go/pkg/logger"
	"gopkg.in/yaml.v3"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli := config.ParseCLI()

	// Usage was already printed by the parser
	if cli.ShowHelp {
		return exitSuccess
	}

	if cli.ShowVersion {
		fmt.Printf("dmesg-analyzer %s\n", version)
		if gitCommit != "unknown" {
			fmt.Printf("  commit: %s\n", gitCommit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
		return exitSuccess
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.LoadWithCLI(cli)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     cfg.LogDir,
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	})
	log := logging.NewSecure(baseLog)
	defer func() {
		if err := log.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	if cli.History > 0 || cli.RunID != "" {
		if err := printHistory(cfg, cli.History, cli.RunID); err != nil {
			log.Error().Err(err).Msg("Failed to read history")
			return exitFailure
		}
		return exitSuccess
	}

	log.Info().Strs("backends", cfg.EnabledBackends).Msg("Starting Dmesg AI Analyzer")

	if err := runAnalyzer(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Initialization failed")
		return exitFailure
	}

	return exitSuccess
}

// runAnalyzer returns an error only when a component cannot be initialized.
// Failures inside a run end the affected cycle and are only logged.
func runAnalyzer(ctx context.Context, cfg *config.Config, log *logging.SecureLogger) error {
	startTime := time.Now()

	log.Info().Msg("Initializing components...")

	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	// History is optional: a broken database never blocks the report.
	var store *storage.Storage
	if cfg.EnableDatabase {
		store, err = storage.New(cfg.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open history database, continuing without it")
			store = nil
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close database")
				}
			}()
			log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized")
		}
	}

	hostname := cfg.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Cannot determine hostname")
			hostname = "unknown"
		}
	}

	deps := analyzer.Deps{
		Source: dmesg.NewCommandSource(
			cfg.DmesgUseSudo,
			dmesg.Format(cfg.DmesgFormat),
			time.Duration(cfg.DmesgTimeoutSeconds)*time.Second,
		),
		Filter:    dmesg.NewFilter(cfg.NoisePrefixes, dmesg.MatchScope(cfg.NoisePrefixScope)),
		Generator: report.NewGenerator(registry, report.NewSystemInstruction(cfg.ReportLanguage), cfg.ImagePath),
		Notifier:  notifier,
		Log:       log,
	}
	if cfg.EnablePreprocessing {
		deps.Preprocessor = dmesg.NewPreprocessor(cfg.MaxPreprocessingTokens)
	}
	if store != nil {
		deps.Store = store
	}

	runner := analyzer.NewRunner(analyzer.Config{
		Backends:          cfg.Backends(),
		ExtraInstructions: cfg.ExtraInstructions,
		Hostname:          hostname,
		UptimePath:        cfg.UptimePath,
	}, deps)

	results := runner.Run(ctx)
	for _, res := range results {
		ev := log.Info().
			Str("backend", string(res.Backend)).
			Str("state", string(res.State)).
			Dur("duration", res.Duration)
		if res.Err != nil {
			ev = ev.Err(res.Err)
		}
		ev.Msg("Cycle finished")
	}

	if store != nil {
		deleted, err := store.CleanupOldRecords(cfg.RetentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to cleanup old records")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Old records cleaned up")
		}
	}

	log.Info().
		Float64("total_duration_s", time.Since(startTime).Seconds()).
		Int("cycles", len(results)).
		Msg("Run completed")

	return nil
}

// buildRegistry constructs a provider for every enabled backend this build
// knows. Unknown ids are left out so their cycle ends without a response.
func buildRegistry(ctx context.Context, cfg *config.Config, log *logging.SecureLogger) (*ai.Registry, error) {
	registry := ai.NewRegistry()
	proxyURL := cfg.GetProxyURL(true)

	if unknown := cfg.UnknownBackends(); len(unknown) > 0 {
		log.Warn().Strs("backends", unknown).Msg("Unsupported backends, their cycles will end without a response")
	}

	for _, id := range cfg.Backends() {
		var (
			provider ai.Provider
			err      error
		)

		switch id {
		case ai.BackendOpenAI:
			provider, err = ai.NewOpenAIClient(ai.OpenAIConfig{
				BaseURL:        cfg.OpenAIBaseURL,
				APIKey:         cfg.OpenAIAPIKey,
				Model:          cfg.OpenAIModel,
				TimeoutSeconds: cfg.AITimeoutSeconds,
				MaxTokens:      cfg.AIMaxTokens,
				Temperature:    cfg.AITemperature,
				MaxAttempts:    cfg.AIMaxAttempts,
				ProxyURL:       proxyURL,
			})
		case ai.BackendGoogle:
			provider, err = ai.NewGeminiClient(ai.GeminiConfig{
				BaseURL:        cfg.GoogleBaseURL,
				APIKey:         cfg.GoogleAPIKey,
				Model:          cfg.GoogleModel,
				TimeoutSeconds: cfg.AITimeoutSeconds,
				MaxTokens:      cfg.AIMaxTokens,
				Temperature:    cfg.AITemperature,
				MaxAttempts:    cfg.AIMaxAttempts,
				ProxyURL:       proxyURL,
			})
		case ai.BackendAnthropic:
			provider, err = ai.NewAnthropicClient(ai.AnthropicConfig{
				APIKey:         cfg.AnthropicAPIKey,
				Model:          cfg.ClaudeModel,
				TimeoutSeconds: cfg.AITimeoutSeconds,
				MaxTokens:      cfg.AIMaxTokens,
				Temperature:    cfg.AITemperature,
				MaxAttempts:    cfg.AIMaxAttempts,
				ProxyURL:       proxyURL,
			})
		case ai.BackendOllama:
			var ollama *ai.OllamaClient
			ollama, err = ai.NewOllamaClient(ai.OllamaConfig{
				BaseURL:        cfg.OllamaBaseURL,
				Model:          cfg.OllamaModel,
				TimeoutSeconds: cfg.AITimeoutSeconds,
				MaxTokens:      cfg.AIMaxTokens,
				Temperature:    cfg.AITemperature,
				MaxAttempts:    cfg.AIMaxAttempts,
			})
			if err == nil {
				if connErr := ollama.CheckConnection(ctx); connErr != nil {
					log.Warn().Err(connErr).Msg("Ollama is not reachable, its cycle will likely fail")
				}
				provider = ollama
			}
		case ai.BackendLMStudio:
			// Local server: no key and no proxy.
			provider, err = ai.NewLMStudioClient(ai.OpenAIConfig{
				BaseURL:        cfg.LMStudioBaseURL,
				Model:          cfg.LMStudioModel,
				TimeoutSeconds: cfg.AITimeoutSeconds,
				MaxTokens:      cfg.AIMaxTokens,
				Temperature:    cfg.AITemperature,
				MaxAttempts:    cfg.AIMaxAttempts,
			})
		default:
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s backend: %w", id, err)
		}
		if err := registry.Register(id, provider); err != nil {
			return nil, err
		}

		ev := log.Info().Str("backend", string(id)).Str("provider", provider.GetProviderName())
		if model, ok := provider.GetModelInfo()["model"].(string); ok {
			ev = ev.Str("model", model)
		}
		ev.Msg("Backend initialized")
	}

	ready := registry.List()
	names := make([]string, len(ready))
	for i, id := range ready {
		names[i] = string(id)
	}
	log.Info().Strs("backends", names).Msg("Backends ready")

	return registry, nil
}

// buildNotifier combines the configured delivery channels. The Telegram
// mirror is best effort: if the bot cannot be reached at startup it is
// dropped as long as email remains.
func buildNotifier(cfg *config.Config, log *logging.SecureLogger) (notification.Notifier, error) {
	var channels notification.Multi

	if cfg.HasEmail() {
		email, err := notification.NewEmailClient(notification.EmailConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			TLS:           cfg.SMTPTLS,
			From:          cfg.MailFrom,
			To:            cfg.MailTo,
			SubjectPrefix: cfg.MailSubjectPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email delivery: %w", err)
		}
		channels = append(channels, email)
		log.Info().Str("host", cfg.SMTPHost).Strs("to", cfg.MailTo).Msg("Email delivery initialized")
	}

	if cfg.HasTelegram() {
		telegram, err := notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChannelID, cfg.MailSubjectPrefix)
		if err != nil {
			if len(channels) == 0 {
				return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
			}
			log.Warn().Err(err).Msg("Telegram mirror unavailable, continuing with email only")
		} else {
			channels = append(channels, telegram)
			if username, ok := telegram.GetBotInfo()["username"].(string); ok {
				log.Info().Str("username", username).Msg("Telegram bot initialized")
			}
		}
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("no delivery channel configured")
	}
	if len(channels) == 1 {
		return channels[0], nil
	}
	return channels, nil
}

// historyReader is the read side of the history store.
type historyReader interface {
	GetRecent(limit int) ([]*storage.Record, error)
	GetRun(runID string) ([]*storage.Record, error)
	GetStatistics() (map[string]interface{}, error)
}

type historyDocument struct {
	Statistics map[string]interface{} `yaml:"statistics,omitempty"`
	Records    []*storage.Record      `yaml:"records"`
}

// printHistory opens the database and writes the requested records to stdout.
func printHistory(cfg *config.Config, limit int, runID string) error {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return writeHistory(os.Stdout, store, limit, runID)
}

// writeHistory writes one run's records when runID is set, otherwise the
// newest limit records preceded by the store statistics. Output is YAML.
func writeHistory(w io.Writer, store historyReader, limit int, runID string) error {
	var doc historyDocument

	if runID != "" {
		records, err := store.GetRun(runID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no records for run %q", runID)
		}
		doc.Records = records
	} else {
		stats, err := store.GetStatistics()
		if err != nil {
			return err
		}
		records, err := store.GetRecent(limit)
		if err != nil {
			return err
		}
		doc.Statistics = stats
		doc.Records = records
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return enc.Close()
}
