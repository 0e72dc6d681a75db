// Package notify delivers instructor verification outcomes to applicants.
package notify

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/instructor"
)

// Config configures outgoing mail.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// New returns a SendGrid notifier, or a log-only notifier when no API key is
// configured.
func New(cfg Config) instructor.Notifier {
	if cfg.APIKey == "" {
		return Log{}
	}
	return NewSendGrid(sendgrid.NewSendClient(cfg.APIKey), cfg)
}

var _ instructor.Notifier = (*SendGrid)(nil)

// SendGrid emails decisions through the SendGrid v3 API.
type SendGrid struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGrid creates a SendGrid notifier using client.
func NewSendGrid(client *sendgrid.Client, cfg Config) *SendGrid {
	return &SendGrid{client: client, from: mail.NewEmail(cfg.FromName, cfg.FromEmail)}
}

// NotifyDecision emails the applicant. Profiles without an email address are
// skipped.
func (s *SendGrid) NotifyDecision(ctx context.Context, p instructor.Profile) error {
	if p.Email == "" {
		zctx.From(ctx).Debug("Skip decision email, no address", zap.String("profile_id", p.ID))
		return nil
	}
	subject, body := decisionMessage(p)
	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", p.Email), body, "")

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "send decision email")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, resp.Body)
	}
	zctx.From(ctx).Info("Decision email sent",
		zap.String("profile_id", p.ID),
		zap.String("status", string(p.Status)),
	)
	return nil
}

// Log records decisions in the log instead of sending mail.
type Log struct{}

func (Log) NotifyDecision(ctx context.Context, p instructor.Profile) error {
	zctx.From(ctx).Info("Instructor decision",
		zap.String("profile_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("status", string(p.Status)),
	)
	return nil
}

func decisionMessage(p instructor.Profile) (subject, body string) {
	if p.Approved() {
		return "Your instructor application was approved",
			"Congratulations! Your instructor application has been approved. " +
				"You can now create and publish courses."
	}
	return "Your instructor application was not approved",
		"Thank you for applying to teach. After review, your instructor application " +
			"was not approved at this time."
}
