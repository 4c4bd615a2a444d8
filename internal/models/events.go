package models

import "time"

type RuleEventKind string

const (
	RuleTriggered RuleEventKind = "triggered"
	RuleCleared   RuleEventKind = "cleared"
)

// RuleEvent is produced by the evaluator and consumed by the lifecycle manager.
type RuleEvent struct {
	Kind          RuleEventKind `json:"kind"`
	RuleID        string        `json:"rule_id"`
	MetricName    string        `json:"metric_name"`
	ObservedValue float64       `json:"observed_value"`
	Severity      Severity      `json:"severity,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Window        WindowStats   `json:"window"`
}

// AlertTransition is emitted on every alert state change. From is empty when
// the alert was just created.
type AlertTransition struct {
	Alert  Alert       `json:"alert"`
	From   AlertStatus `json:"from"`
	To     AlertStatus `json:"to"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason"`
}

type RuleState string

const (
	RuleStateTriggered RuleState = "triggered"
	RuleStateCleared   RuleState = "cleared"
	RuleStatePending   RuleState = "pending"
	RuleStateSkipped   RuleState = "skipped"
	RuleStateError     RuleState = "error"
)

// RuleStatus is the last evaluation outcome of a rule.
type RuleStatus struct {
	RuleID      string      `json:"rule_id"`
	State       RuleState   `json:"state"`
	Detail      string      `json:"detail,omitempty"`
	Window      WindowStats `json:"window"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}
