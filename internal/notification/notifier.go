// Package notification decides whether a report warrants a human's attention
// and delivers it over email and, optionally, Telegram.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/dmesg-ai-go/internal/logging"
	"github.com/olegiv/dmesg-ai-go/internal/report"
)

// DefaultSubjectPrefix starts every notification title.
const DefaultSubjectPrefix = "Kernel log summary for host"

// Notification is the payload handed to a delivery channel.
type Notification struct {
	Backend  string
	Hostname string
	Date     time.Time
	// HTML is the stripped backend answer.
	HTML string
}

// Title returns "<prefix> <hostname> <dd-mm-yyyy> (<backend>)".
func (n *Notification) Title(prefix string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s %s %s (%s)", prefix, n.Hostname, n.Date.Format("02-01-2006"), n.Backend)
}

// Notifier delivers a notification over one channel.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
	Name() string
}

// Result is what MaybeNotify did with a report.
type Result string

const (
	// ResultSkipped: nothing to deliver (no issue, empty answer or no report).
	ResultSkipped Result = "skipped"
	// ResultSent: the notifier accepted the payload.
	ResultSent Result = "sent"
	// ResultFailed: delivery was attempted and failed. Not retried.
	ResultFailed Result = "failed"
)

// MaybeNotify hands an actionable report to notifier exactly once. Every
// other outcome, and a nil report, is a logged no-op.
func MaybeNotify(ctx context.Context, notifier Notifier, rep *report.Report, hostname string, now time.Time, log *logging.SecureLogger) (Result, error) {
	if rep == nil {
		log.Info().Msg("No report to deliver")
		return ResultSkipped, nil
	}

	if !rep.Outcome.ShouldNotify() {
		log.Info().
			Str("backend", string(rep.Backend)).
			Str("outcome", string(rep.Outcome)).
			Msg("Nothing actionable, no notification sent")
		return ResultSkipped, nil
	}

	if notifier == nil {
		err := errors.New("no delivery channel configured")
		log.Error().Str("backend", string(rep.Backend)).Err(err).Msg("Failed to deliver report")
		return ResultFailed, err
	}

	n := &Notification{
		Backend:  string(rep.Backend),
		Hostname: hostname,
		Date:     now,
		HTML:     rep.Content,
	}

	if err := notifier.Notify(ctx, n); err != nil {
		log.Error().
			Str("backend", string(rep.Backend)).
			Str("channel", notifier.Name()).
			Err(err).
			Msg("Failed to deliver report")
		return ResultFailed, err
	}

	log.Info().
		Str("backend", string(rep.Backend)).
		Str("channel", notifier.Name()).
		Msg("Report delivered")
	return ResultSent, nil
}

// Multi fans a notification out to several channels. Every channel is
// attempted; the joined error reports each failure.
type Multi []Notifier

// Notify sends n to every channel.
func (m Multi) Notify(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name lists the member channels.
func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, notifier := range m {
		names = append(names, notifier.Name())
	}
	return strings.Join(names, ",")
}

var _ Notifier = Multi(nil)
