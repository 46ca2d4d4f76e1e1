package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/olegiv/dmesg-ai-go/internal/errors"
	"github.com/wneessen/go-mail"
)

// TLS modes for the SMTP connection.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// EmailConfig holds SMTP delivery settings
type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	TLS           string // mandatory, opportunistic or none
	From          string
	To            []string
	SubjectPrefix string
	Timeout       time.Duration
}

// sender is the part of *mail.Client the email notifier needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailClient sends reports as HTML email over SMTP
type EmailClient struct {
	client        sender
	from          string
	to            []string
	subjectPrefix string
}

// NewEmailClient creates an SMTP client. STARTTLS is mandatory unless
// configured otherwise; PLAIN auth is used when a username is set.
func NewEmailClient(cfg EmailConfig) (*EmailClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	policy, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "failed to create SMTP client")
	}

	return &EmailClient{
		client:        client,
		from:          cfg.From,
		to:            cfg.To,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

func tlsPolicy(mode string) (mail.TLSPolicy, error) {
	switch strings.ToLower(mode) {
	case "", TLSMandatory:
		return mail.TLSMandatory, nil
	case TLSOpportunistic:
		return mail.TLSOpportunistic, nil
	case TLSNone:
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, fmt.Errorf("invalid SMTP TLS mode %q (use %s, %s or %s)", mode, TLSMandatory, TLSOpportunistic, TLSNone)
	}
}

// Notify sends one HTML email. Failures are returned once, not retried.
func (e *EmailClient) Notify(ctx context.Context, n *Notification) error {
	msg, err := e.buildMessage(n)
	if err != nil {
		return err
	}

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return internalerrors.Wrapf(err, "failed to send email")
	}
	return nil
}

func (e *EmailClient) buildMessage(n *Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(e.to...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(n.Title(e.subjectPrefix))
	msg.SetDateWithValue(n.Date)
	msg.SetBodyString(mail.TypeTextHTML, n.HTML)
	return msg, nil
}

// Name returns the channel name
func (e *EmailClient) Name() string {
	return "email"
}

var _ Notifier = (*EmailClient)(nil)
