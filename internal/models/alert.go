package models

import (
	"time"
)

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// Open reports whether an alert in this status still needs attention.
func (s AlertStatus) Open() bool {
	return s == AlertStatusActive || s == AlertStatusAcknowledged
}

// Alert is one incident raised by a rule. Resolved alerts are archived, never reused.
type Alert struct {
	ID              string            `json:"id" gorm:"primaryKey"`
	RuleID          string            `json:"rule_id" gorm:"index"`
	MetricName      string            `json:"metric_name"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Severity        Severity          `json:"severity" gorm:"index"`
	Status          AlertStatus       `json:"status" gorm:"index"`
	ObservedValue   float64           `json:"observed_value"`
	Threshold       float64           `json:"threshold"`
	Occurrences     int               `json:"occurrences"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	LastTriggeredAt time.Time         `json:"last_triggered_at"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty" gorm:"index"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	Channels        []string          `json:"channels" gorm:"serializer:json"`
	Metadata        map[string]string `json:"metadata" gorm:"serializer:json"`
	// Revision grows with every change; the archive never overwrites a newer revision.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Clone returns a snapshot that is safe to hand to other goroutines.
func (a *Alert) Clone() Alert {
	c := *a
	if a.Channels != nil {
		c.Channels = append([]string(nil), a.Channels...)
	}
	c.Metadata = make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		c.Metadata[k] = v
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// AlertFilter selects alerts for the query API. Empty fields match everything.
type AlertFilter struct {
	Status   AlertStatus
	Severity Severity
	RuleID   string
}

func (f AlertFilter) Match(a *Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.RuleID != "" && a.RuleID != f.RuleID {
		return false
	}
	return true
}
