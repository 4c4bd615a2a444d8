package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/pulseguard/internal/models"
)

// Message is the channel-independent rendering of an alert transition.
type Message struct {
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body"`
	Transition models.AlertTransition `json:"transition"`
}

func NewMessage(t models.AlertTransition) Message {
	a := t.Alert
	subject := fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(a.Severity)), a.Title, headline(t))

	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", a.Title)
	fmt.Fprintf(&b, "Status: %s\n", a.Status)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity)
	fmt.Fprintf(&b, "Metric: %s\n", a.MetricName)
	fmt.Fprintf(&b, "Current Value: %.2f\n", a.ObservedValue)
	fmt.Fprintf(&b, "Threshold: %.2f\n", a.Threshold)
	if a.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", a.Description)
	}
	fmt.Fprintf(&b, "Occurrences: %d\n", a.Occurrences)
	fmt.Fprintf(&b, "Triggered: %s\n", a.TriggeredAt.Format(time.RFC3339))
	switch {
	case a.ResolvedAt != nil:
		fmt.Fprintf(&b, "Resolved: %s by %s (open for %s)\n",
			a.ResolvedAt.Format(time.RFC3339), a.ResolvedBy, a.ResolvedAt.Sub(a.TriggeredAt).Round(time.Second))
	case a.AcknowledgedAt != nil:
		fmt.Fprintf(&b, "Acknowledged: %s by %s\n", a.AcknowledgedAt.Format(time.RFC3339), a.AcknowledgedBy)
	}
	fmt.Fprintf(&b, "Alert ID: %s", a.ID)

	return Message{Subject: subject, Body: b.String(), Transition: t}
}

func headline(t models.AlertTransition) string {
	switch t.Reason {
	case "":
		return string(t.To)
	case "triggered":
		return "triggered"
	default:
		return fmt.Sprintf("%s (%s)", t.To, t.Reason)
	}
}

func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "#FF0000"
	case models.SeverityHigh:
		return "#FF6600"
	case models.SeverityMedium:
		return "#FFA500"
	case models.SeverityLow:
		return "#0000FF"
	default:
		return "#808080"
	}
}

func transitionColor(t models.AlertTransition) string {
	if t.To == models.AlertStatusResolved {
		return "#36A64F"
	}
	return severityColor(t.Alert.Severity)
}
