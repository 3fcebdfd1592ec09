// Package notifier delivers operator events to Slack.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/vadiminshakov/topup/internal/domain"
	"github.com/vadiminshakov/topup/pkg/retrier"
)

// Notifier delivers an event to operators.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, domain.Event) error { return nil }

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts events as colored attachments to one channel.
type Slack struct {
	client  poster
	channel string
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// SlackOption configures a Slack notifier.
type SlackOption func(*slackOptions)

type slackOptions struct {
	apiURL  string
	retrier *retrier.Retrier
}

// WithAPIURL points the client to another Slack API base URL.
func WithAPIURL(u string) SlackOption {
	return func(o *slackOptions) { o.apiURL = u }
}

// WithRetrier overrides the delivery retrier.
func WithRetrier(r *retrier.Retrier) SlackOption {
	return func(o *slackOptions) { o.retrier = r }
}

// NewSlack creates a Slack notifier posting with token to channel.
func NewSlack(token, channel string, logger *zap.Logger, opts ...SlackOption) *Slack {
	logger = logger.Named("slack")
	o := slackOptions{
		retrier: retrier.New(
			retrier.WithInitialInterval(time.Second),
			retrier.WithMaxInterval(10*time.Second),
			retrier.WithMaxRetries(3),
			retrier.WithRetryIf(retryable),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				logger.Warn("slack delivery failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []slack.Option
	if o.apiURL != "" {
		clientOpts = append(clientOpts, slack.OptionAPIURL(o.apiURL))
	}

	return &Slack{
		client:  slack.New(token, clientOpts...),
		channel: channel,
		retrier: o.retrier,
		logger:  logger,
	}
}

// Notify posts the event. Delivery is retried on transient failures.
func (s *Slack) Notify(ctx context.Context, event domain.Event) error {
	text := fmt.Sprintf("%s *%s*", icon(event.Severity), event.Title)
	attachment := buildAttachment(event)

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		_, _, err := s.client.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionAttachments(attachment),
		)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "post %s event to slack", event.Kind)
	}

	s.logger.Debug("event delivered", zap.String("kind", string(event.Kind)))
	return nil
}

func buildAttachment(event domain.Event) slack.Attachment {
	fields := make([]slack.AttachmentField, 0, len(event.Fields)+1)
	for _, f := range event.Fields {
		fields = append(fields, slack.AttachmentField{Title: f.Key, Value: f.Value, Short: len(f.Value) <= 40})
	}
	if event.Action != "" {
		fields = append(fields, slack.AttachmentField{Title: "Action required", Value: event.Action})
	}

	return slack.Attachment{
		Color:  color(event.Severity),
		Text:   event.Message,
		Fields: fields,
		Footer: string(event.Kind),
	}
}

func color(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "danger"
	case domain.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func icon(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return ":rotating_light:"
	case domain.SeverityWarning:
		return ":warning:"
	default:
		return ":white_check_mark:"
	}
}

// retryable rejects Slack API errors that a retry cannot fix.
func retryable(err error) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		switch resp.Err {
		case "invalid_auth", "not_authed", "account_inactive", "channel_not_found", "not_in_channel", "is_archived":
			return false
		}
	}
	return true
}
