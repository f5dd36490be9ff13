package dispatch

import (
	"context"
	"log/slog"

	"github.com/puse45/auth-ms/cmd/account"
)

// LogSender records messages in the structured log instead of delivering them.
// It is the sender for any kind without a configured provider.
type LogSender struct {
	log      *slog.Logger
	showBody bool
}

func NewLogSender(log *slog.Logger, showBody bool) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log, showBody: showBody}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attrs := []any{"msg_id", msg.ID, "kind", string(msg.Kind), "to", MaskAddress(msg.Address), "subject", msg.Subject}
	if s.showBody {
		attrs = append(attrs, "body", msg.Body)
	}
	s.log.Info("dispatch.dry_run.sent", attrs...)
	return nil
}

// NewSenderFromConfig routes email to SMTP and phone to the SMS API when they are
// configured, and to a LogSender otherwise.
func NewSenderFromConfig(cfg Config, log *slog.Logger) Router {
	dry := NewLogSender(log, cfg.DryRunShowBody)
	r := Router{account.KindEmail: dry, account.KindPhone: dry}
	if cfg.DryRun {
		return r
	}
	if cfg.SMTP.Enabled() {
		r[account.KindEmail] = NewSMTPSender(cfg.SMTP)
	}
	if cfg.SMS.Enabled() {
		r[account.KindPhone] = NewSMSSender(cfg.SMS, nil)
	}
	return r
}
