package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulseguard/internal/models"
)

// HTTPSender delivers JSON over HTTP. Without a gateway it posts the message
// to the channel destination (webhook channels). With a gateway it posts to
// the gateway and passes the destination as the recipient (sms, phone).
type HTTPSender struct {
	client     *http.Client
	gatewayURL string
}

func NewWebhookSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func NewGatewaySender(gatewayURL string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: timeout}, gatewayURL: gatewayURL}
}

type webhookPayload struct {
	Event   string       `json:"event"`
	Subject string       `json:"subject"`
	Text    string       `json:"text"`
	Reason  string       `json:"reason"`
	Alert   models.Alert `json:"alert"`
}

type gatewayPayload struct {
	To      string             `json:"to"`
	Kind    models.ChannelKind `json:"kind"`
	Message string             `json:"message"`
	AlertID string             `json:"alert_id"`
}

func (h *HTTPSender) Send(ctx context.Context, ch models.NotificationChannel, msg Message) error {
	var (
		url     string
		payload interface{}
	)
	if h.gatewayURL == "" {
		url = ch.Destination
		payload = webhookPayload{
			Event:   "alert_transition",
			Subject: msg.Subject,
			Text:    msg.Body,
			Reason:  msg.Transition.Reason,
			Alert:   msg.Transition.Alert,
		}
	} else {
		url = h.gatewayURL
		payload = gatewayPayload{
			To:      ch.Destination,
			Kind:    ch.Kind,
			Message: msg.Subject,
			AlertID: msg.Transition.Alert.ID,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ch.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", ch.Kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s endpoint returned status code: %d", ch.Kind, resp.StatusCode)
	}
	return nil
}
