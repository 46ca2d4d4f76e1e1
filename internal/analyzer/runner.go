// Package analyzer runs the analysis cycle: select the log window, fetch and
// filter the kernel log once, then for every enabled backend request a
// report, classify it and deliver it when it is actionable.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olegiv/dmesg-ai-go/internal/ai"
	"github.com/olegiv/dmesg-ai-go/internal/dmesg"
	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
	"github.com/olegiv/dmesg-ai-go/internal/logging"
	"github.com/olegiv/dmesg-ai-go/internal/notification"
	"github.com/olegiv/dmesg-ai-go/internal/report"
	"github.com/olegiv/dmesg-ai-go/internal/storage"
)

// State is a step of the per-backend cycle. Every ABORT_ and DONE_ state,
// and NOTIFIED, is terminal.
type State string

const (
	StateWindowSelected     State = "WINDOW_SELECTED"
	StateLogFetched         State = "LOG_FETCHED"
	StateAbortNoLog         State = "ABORT_NO_LOG"
	StateFiltered           State = "FILTERED"
	StateReportRequested    State = "REPORT_REQUESTED"
	StateAbortNoResponse    State = "ABORT_NO_RESPONSE"
	StateClassified         State = "CLASSIFIED"
	StateDoneNoOp           State = "DONE_NO_OP"
	StateNotified           State = "NOTIFIED"
	StateDoneDeliveryFailed State = "DONE_DELIVERY_FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateAbortNoLog, StateAbortNoResponse, StateDoneNoOp, StateNotified, StateDoneDeliveryFailed:
		return true
	}
	return false
}

// CycleResult is how one backend's cycle ended.
type CycleResult struct {
	RunID    string
	Backend  ai.BackendID
	State    State
	Window   dmesg.Window
	Report   *report.Report
	Err      error
	Started  time.Time
	Duration time.Duration
}

// RecordStore persists finished cycles. *storage.Storage satisfies it.
type RecordStore interface {
	SaveRecord(rec *storage.Record) error
}

// Config is the static part of a run.
type Config struct {
	Backends          []ai.BackendID
	ExtraInstructions string
	Hostname          string
	// UptimePath defaults to /proc/uptime.
	UptimePath string
}

// Deps are the collaborators of a run. Preprocessor and Store are optional;
// a nil Notifier turns every actionable report into a delivery failure.
type Deps struct {
	Source       dmesg.Source
	Filter       *dmesg.Filter
	Preprocessor *dmesg.Preprocessor
	Generator    *report.Generator
	Notifier     notification.Notifier
	Store        RecordStore
	Log          *logging.SecureLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes analysis runs. It holds no state between runs.
type Runner struct {
	cfg  Config
	deps Deps
}

// NewRunner creates a runner.
func NewRunner(cfg Config, deps Deps) *Runner {
	if cfg.UptimePath == "" {
		cfg.UptimePath = dmesg.DefaultUptimePath
	}
	if deps.Filter == nil {
		deps.Filter = dmesg.NewFilter(nil, dmesg.ScopeLine)
	}
	if deps.Log == nil {
		deps.Log = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run performs one run and returns one result per configured backend, in
// configuration order. Failures end the affected cycle only; Run itself
// never fails.
func (r *Runner) Run(ctx context.Context) []CycleResult {
	runID := uuid.NewString()
	log := r.deps.Log.With("run_id", runID)
	now := r.deps.Now()

	window := r.selectWindow(log, now)
	log.Info().
		Str("state", string(StateWindowSelected)).
		Str("since", window.String()).
		Dur("exclusion", window.Exclusion).
		Msg("Log window selected")

	filtered, fetchErr := r.fetch(ctx, log, window)
	empty := fetchErr == nil && strings.TrimSpace(filtered) == ""
	if empty {
		log.Info().Str("state", string(StateDoneNoOp)).Msg("Kernel log is empty, nothing to report")
	}

	results := make([]CycleResult, 0, len(r.cfg.Backends))
	for _, backend := range r.cfg.Backends {
		res := CycleResult{
			RunID:   runID,
			Backend: backend,
			Window:  window,
			Started: r.deps.Now(),
		}

		switch {
		case fetchErr != nil:
			res.State = StateAbortNoLog
			res.Err = fetchErr
		case empty:
			res.State = StateDoneNoOp
		default:
			r.runCycle(ctx, log.With("backend", string(backend)), &res, filtered, now)
		}

		res.Duration = r.deps.Now().Sub(res.Started)
		r.persist(log, &res)
		results = append(results, res)
	}

	return results
}

func (r *Runner) selectWindow(log *logging.SecureLogger, now time.Time) dmesg.Window {
	uptime, err := dmesg.ReadUptime(r.cfg.UptimePath)
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", r.cfg.UptimePath).
			Msg("Cannot read uptime, falling back to the last 24 hours")
		return dmesg.DefaultWindow()
	}
	return dmesg.SelectWindow(uptime, now)
}

// fetch retrieves and filters the log. The log is shared by every backend.
func (r *Runner) fetch(ctx context.Context, log *logging.SecureLogger, window dmesg.Window) (string, error) {
	if r.deps.Source == nil {
		err := errors.New("no log source configured")
		log.Error().Str("state", string(StateAbortNoLog)).Err(err).Msg("Failed to fetch kernel log")
		return "", err
	}

	raw, err := r.deps.Source.Fetch(ctx, window.String())
	if err != nil {
		ev := log.Error().Str("state", string(StateAbortNoLog)).Err(err)
		var cmdErr *dmesg.CommandError
		if errors.As(err, &cmdErr) {
			ev = ev.Str("command", cmdErr.Command).
				Int("exit_code", cmdErr.ExitCode).
				Str("stderr", cmdErr.Stderr).
				Str("stdout", cmdErr.Stdout)
		}
		ev.Msg("Failed to fetch kernel log")
		return "", err
	}
	log.Info().
		Str("state", string(StateLogFetched)).
		Int("bytes", len(raw)).
		Msg("Kernel log fetched")

	filtered := r.deps.Filter.Apply(raw)
	if p := r.deps.Preprocessor; p != nil && p.ShouldProcess(filtered) {
		before := dmesg.EstimateTokens(filtered)
		filtered = p.Process(filtered)
		log.Info().
			Int("tokens_before", before).
			Int("tokens_after", dmesg.EstimateTokens(filtered)).
			Msg("Kernel log trimmed to fit the token budget")
	}
	log.Info().
		Str("state", string(StateFiltered)).
		Int("bytes", len(filtered)).
		Int("prefixes", len(r.deps.Filter.Prefixes)).
		Msg("Kernel log filtered")

	return filtered, nil
}

func (r *Runner) runCycle(ctx context.Context, log *logging.SecureLogger, res *CycleResult, filtered string, now time.Time) {
	log.Info().Str("state", string(StateReportRequested)).Msg("Requesting report")

	rep, err := r.deps.Generator.Generate(ctx, res.Backend, r.cfg.ExtraInstructions, filtered)
	if err != nil {
		res.State = StateAbortNoResponse
		res.Err = err
		ev := log.Error().Str("state", string(res.State)).Err(err)
		switch {
		case errors.Is(err, ai.ErrUnsupportedBackend):
			ev = ev.Str("reason", "unsupported backend")
		case errors.Is(err, ai.ErrImage):
			ev = ev.Str("reason", "image")
		}
		ev.Msg("No response from backend")
		return
	}
	res.Report = rep

	ev := log.Info().
		Str("state", string(StateClassified)).
		Str("outcome", string(rep.Outcome))
	if rep.Stats != nil {
		ev = ev.Str("model", rep.Stats.Model).
			Int("input_tokens", rep.Stats.InputTokens).
			Int("output_tokens", rep.Stats.OutputTokens).
			Float64("cost_usd", rep.Stats.CostUSD).
			Float64("duration_s", rep.Stats.DurationSeconds)
	}
	ev.Msg("Report classified")

	result, err := notification.MaybeNotify(ctx, r.deps.Notifier, rep, r.cfg.Hostname, now, log)
	res.Err = err
	switch result {
	case notification.ResultSent:
		res.State = StateNotified
	case notification.ResultFailed:
		res.State = StateDoneDeliveryFailed
	default:
		res.State = StateDoneNoOp
	}
}

func (r *Runner) persist(log *logging.SecureLogger, res *CycleResult) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.SaveRecord(NewRecord(res, r.cfg.Hostname)); err != nil {
		log.Warn().Err(err).Str("backend", string(res.Backend)).Msg("Failed to save cycle to history")
	}
}

// NewRecord flattens a cycle result for the history store.
func NewRecord(res *CycleResult, hostname string) *storage.Record {
	rec := &storage.Record{
		RunID:           res.RunID,
		Timestamp:       res.Started,
		Hostname:        hostname,
		Backend:         string(res.Backend),
		Window:          res.Window.String(),
		State:           string(res.State),
		DurationSeconds: res.Duration.Seconds(),
	}
	if res.Err != nil {
		rec.Error = internalerrors.SanitizeString(res.Err.Error())
	}
	if res.Report != nil {
		rec.Outcome = string(res.Report.Outcome)
		rec.Content = res.Report.Content
		if s := res.Report.Stats; s != nil {
			rec.InputTokens = s.InputTokens
			rec.OutputTokens = s.OutputTokens
			rec.CostUSD = s.CostUSD
		}
	}
	return rec
}
