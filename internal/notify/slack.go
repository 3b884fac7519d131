package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/hfi/token-broker/internal/secret"
)

const slackPostTimeout = 5 * time.Second

// SlackNotifier posts to a Slack channel
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	logger    zerolog.Logger
}

// NewSlackNotifier returns nil when token or channel is empty
func NewSlackNotifier(token, channelID string, logger zerolog.Logger, opts ...slack.Option) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}

	return &SlackNotifier{
		client:    slack.New(token, opts...),
		channelID: channelID,
		logger:    logger.With().Str("component", "notify").Str("notifier", "slack").Logger(),
	}
}

// NotifyRotation posts the new secret version
func (s *SlackNotifier) NotifyRotation(record *secret.Record) {
	if s == nil || record == nil {
		return
	}

	s.post(slack.Attachment{
		Pretext: "Challenge secret rotated",
		Color:   "#36a64f",
		Title:   "New secret version in use",
		Fields: []slack.AttachmentField{
			{Title: "Version", Value: fmt.Sprintf("`%s`", record.Version), Short: true},
			{Title: "Fetched at", Value: record.FetchedAt.UTC().Format(time.RFC3339), Short: true},
		},
	})
}

// NotifyError posts a refresh failure
func (s *SlackNotifier) NotifyError(err error) {
	if s == nil || err == nil {
		return
	}

	s.post(slack.Attachment{
		Pretext: "Challenge secret refresh failed",
		Color:   "#d9534f",
		Title:   "Serving the embedded fallback secret",
		Text:    fmt.Sprintf("```%v```", err),
	})
}

func (s *SlackNotifier) post(attachment slack.Attachment) {
	ctx, cancel := context.WithTimeout(context.Background(), slackPostTimeout)
	defer cancel()

	if _, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionAttachments(attachment)); err != nil {
		s.logger.Warn().Err(err).Msg("slack notification failed")
	}
}
