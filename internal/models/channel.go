package models

import "fmt"

type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelSlack   ChannelKind = "slack"
	ChannelSMS     ChannelKind = "sms"
	ChannelWebhook ChannelKind = "webhook"
	ChannelPhone   ChannelKind = "phone"
)

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelEmail, ChannelSlack, ChannelSMS, ChannelWebhook, ChannelPhone:
		return true
	}
	return false
}

// NotificationChannel is a delivery target. Destination depends on the kind:
// an address for email, a channel id or incoming-webhook URL for slack,
// a phone number for sms/phone, a URL for webhook.
type NotificationChannel struct {
	ID          string      `json:"id" yaml:"id" mapstructure:"id"`
	Kind        ChannelKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Enabled     bool        `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Destination string      `json:"destination" yaml:"destination" mapstructure:"destination"`
}

func (c *NotificationChannel) Validate() error {
	if c.ID == "" {
		return NewValidationError("id", "channel id is required")
	}
	if !c.Kind.Valid() {
		return NewValidationError("kind", fmt.Sprintf("channel %s: invalid kind %q", c.ID, c.Kind))
	}
	if c.Enabled && c.Destination == "" {
		return NewValidationError("destination", fmt.Sprintf("channel %s: destination is required", c.ID))
	}
	return nil
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryResult is the outcome of notifying one channel about one transition.
type DeliveryResult struct {
	AlertID   string         `json:"alert_id"`
	ChannelID string         `json:"channel_id"`
	Kind      ChannelKind    `json:"kind,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
}
