package dmesg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Format selects the dmesg output mode.
type Format string

const (
	// FormatText is dmesg -T: human-readable timestamps.
	FormatText Format = "text"
	// FormatJSON is dmesg -J, rendered back to text without the priority field.
	FormatJSON Format = "json"
)

// ErrMalformedOutput is returned when dmesg -J output cannot be parsed.
var ErrMalformedOutput = errors.New("malformed dmesg output")

// Source fetches the raw kernel log for a window.
type Source interface {
	Fetch(ctx context.Context, since string) (string, error)
}

// CommandError describes a dmesg invocation that exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit status %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandSource runs the dmesg binary.
type CommandSource struct {
	Binary  string // defaults to "dmesg"
	UseSudo bool
	Format  Format
	Timeout time.Duration
}

// NewCommandSource creates a source with defaults applied.
func NewCommandSource(useSudo bool, format Format, timeout time.Duration) *CommandSource {
	if format == "" {
		format = FormatText
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandSource{
		Binary:  "dmesg",
		UseSudo: useSudo,
		Format:  format,
		Timeout: timeout,
	}
}

// Args returns the argv for a fetch, including sudo when enabled.
func (s *CommandSource) Args(since string) []string {
	binary := s.Binary
	if binary == "" {
		binary = "dmesg"
	}

	flag := "-T"
	if s.Format == FormatJSON {
		flag = "-J"
	}

	args := []string{binary, "--since", since, flag}
	if s.UseSudo {
		args = append([]string{"sudo", "-n"}, args...)
	}
	return args
}

// Fetch runs dmesg for the window and returns its output as newline-separated lines.
func (s *CommandSource) Fetch(ctx context.Context, since string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	args := s.Args(since)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cmdErr := &CommandError{
			Command:  strings.Join(args, " "),
			ExitCode: -1,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return "", cmdErr
	}

	if s.Format == FormatJSON {
		return RenderJSON(stdout.Bytes())
	}
	return stdout.String(), nil
}

// jsonLog is the dmesg -J document.
type jsonLog struct {
	Dmesg []jsonEntry `json:"dmesg"`
}

// jsonEntry is one record; the priority field is not decoded.
type jsonEntry struct {
	Time float64 `json:"time"`
	Msg  string  `json:"msg"`
}

// RenderJSON converts dmesg -J output to classic "[    1.234567] msg" lines.
// The priority is dropped. Empty input is an empty log.
func RenderJSON(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil
	}

	var doc jsonLog
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var b strings.Builder
	for _, entry := range doc.Dmesg {
		fmt.Fprintf(&b, "[%12.6f] %s\n", entry.Time, entry.Msg)
	}
	return b.String(), nil
}

var _ Source = (*CommandSource)(nil)
