package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pulseguard/internal/models"
	"github.com/slack-go/slack"
)

// SlackSender posts to a channel with a bot token, or to an incoming webhook
// when the channel destination is a URL.
type SlackSender struct {
	client   *slack.Client
	username string
}

func NewSlackSender(token, username string) *SlackSender {
	s := &SlackSender{username: username}
	if token != "" {
		s.client = slack.New(token)
	}
	return s
}

func (s *SlackSender) Send(ctx context.Context, ch models.NotificationChannel, msg Message) error {
	attachment := buildAttachment(msg)

	if isURL(ch.Destination) {
		err := slack.PostWebhookContext(ctx, ch.Destination, &slack.WebhookMessage{
			Username:    s.username,
			Text:        msg.Subject,
			Attachments: []slack.Attachment{attachment},
		})
		if err != nil {
			return fmt.Errorf("failed to send slack webhook: %w", err)
		}
		return nil
	}

	if s.client == nil {
		return errors.New("slack bot token is not configured")
	}
	_, _, err := s.client.PostMessageContext(ctx, ch.Destination,
		slack.MsgOptionText(msg.Subject, false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

func buildAttachment(msg Message) slack.Attachment {
	a := msg.Transition.Alert
	return slack.Attachment{
		Color: transitionColor(msg.Transition),
		Title: msg.Subject,
		Text:  a.Description,
		Fields: []slack.AttachmentField{
			{Title: "Metric", Value: a.MetricName, Short: true},
			{Title: "Severity", Value: string(a.Severity), Short: true},
			{Title: "Current Value", Value: fmt.Sprintf("%.2f", a.ObservedValue), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%.2f", a.Threshold), Short: true},
			{Title: "Status", Value: string(a.Status), Short: true},
			{Title: "Occurrences", Value: strconv.Itoa(a.Occurrences), Short: true},
		},
		Footer: "PulseGuard",
		Ts:     json.Number(strconv.FormatInt(msg.Transition.At.Unix(), 10)),
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
