package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/clalos/dashwatch/internal/registry"
)

// ChannelEmail names the email channel in status logs.
const ChannelEmail = "Email"

// SMTPConfig holds the sender account. It is passed explicitly so alerting
// never reads the environment.
type SMTPConfig struct {
	Sender   string
	Password string
	Host     string
	Port     int
}

func (c SMTPConfig) complete() bool {
	return c.Sender != "" && c.Password != "" && c.Host != ""
}

// Mailer sends composed messages.
type Mailer interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// EmailDispatcher sends one message per DOWN service to every configured
// address, over STARTTLS with PLAIN auth.
type EmailDispatcher struct {
	cfg    SMTPConfig
	mailer Mailer
	logger *slog.Logger
	now    func() time.Time
}

// NewEmailDispatcher builds the SMTP client. With incomplete credentials the
// dispatcher is created but never attempts delivery.
func NewEmailDispatcher(cfg SMTPConfig, logger *slog.Logger) (*EmailDispatcher, error) {
	d := &EmailDispatcher{cfg: cfg, logger: logger, now: time.Now}
	if !cfg.complete() {
		logger.Warn("Email credentials not configured, email alerts disabled")
		return d, nil
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Sender),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create SMTP client: %w", err)
	}
	d.mailer = client
	return d, nil
}

// Channel implements Dispatcher.
func (d *EmailDispatcher) Channel() string { return ChannelEmail }

// NotifyDown implements Dispatcher. Attempted is true only when the SMTP
// server accepted the message.
func (d *EmailDispatcher) NotifyDown(ctx context.Context, service registry.Identity, targets registry.Targets) Delivery {
	if d.mailer == nil {
		return Delivery{}
	}

	recipients := clean(targets.Email)
	if len(recipients) == 0 {
		d.logger.Debug("No email recipients configured", "service", service.Name)
		return Delivery{}
	}

	msg, err := d.compose(service.Label(), recipients)
	if err != nil {
		d.logger.Error("Failed to compose email alert", "service", service.Name, "error", err)
		return Delivery{Recipients: recipients}
	}

	if err := d.mailer.DialAndSendWithContext(ctx, msg); err != nil {
		d.logger.Error("Failed to send email alert",
			"service", service.Name,
			"smtp_host", d.cfg.Host,
			"recipients", recipients,
			"error", err)
		return Delivery{Recipients: recipients}
	}

	d.logger.Info("Email alert sent", "service", service.Name, "recipients", recipients)
	return Delivery{Attempted: true, Recipients: recipients}
}

func (d *EmailDispatcher) compose(service string, recipients []string) (*mail.Msg, error) {
	at := d.now().Format(TimeLayout)

	msg := mail.NewMsg()
	if err := msg.From(d.cfg.Sender); err != nil {
		return nil, fmt.Errorf("sender %q: %w", d.cfg.Sender, err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	msg.Subject(fmt.Sprintf("ALERT: Service Down - %s - %s", service, at))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("The service %s is currently DOWN.\n\nTime: %s", service, at))
	return msg, nil
}

func clean(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
