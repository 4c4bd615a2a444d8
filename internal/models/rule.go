package models

import (
	"fmt"
	"math"
	"time"
)

type Operator string

const (
	OperatorGT  Operator = ">"
	OperatorLT  Operator = "<"
	OperatorGTE Operator = ">="
	OperatorLTE Operator = "<="
	OperatorEQ  Operator = "=="
	OperatorNE  Operator = "!="
)

// Ordering reports whether the operator is one of the ordering comparators
// accepted for thresholds on continuous metrics.
func (o Operator) Ordering() bool {
	switch o {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE:
		return true
	}
	return false
}

// Compare applies the operator as "value <op> threshold".
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGT:
		return value > threshold
	case OperatorLT:
		return value < threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorLTE:
		return value <= threshold
	default:
		return false
	}
}

// upward reports whether breaching means going above the threshold.
func (o Operator) upward() bool {
	return o == OperatorGT || o == OperatorGTE
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// HigherThan reports whether s is strictly more severe than other.
func (s Severity) HigherThan(other Severity) bool {
	return s.Rank() > other.Rank()
}

type AlertRule struct {
	ID           string        `json:"id" yaml:"id" mapstructure:"id"`
	Name         string        `json:"name" yaml:"name" mapstructure:"name"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	MetricName   string        `json:"metric_name" yaml:"metric_name" mapstructure:"metric_name"`
	Comparator   Operator      `json:"comparator" yaml:"comparator" mapstructure:"comparator"`
	Threshold    float64       `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	SustainedFor time.Duration `json:"sustained_for" yaml:"sustained_for" mapstructure:"sustained_for"`
	Severity     Severity      `json:"severity" yaml:"severity" mapstructure:"severity"`
	Enabled      bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Channels     []string      `json:"channels" yaml:"channels,omitempty" mapstructure:"channels"`

	// Optional second tier: when the whole window is also beyond
	// EscalationThreshold the occurrence carries EscalationSeverity.
	EscalationThreshold *float64 `json:"escalation_threshold,omitempty" yaml:"escalation_threshold,omitempty" mapstructure:"escalation_threshold"`
	EscalationSeverity  Severity `json:"escalation_severity,omitempty" yaml:"escalation_severity,omitempty" mapstructure:"escalation_severity"`
}

func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return NewValidationError("id", "rule id is required")
	}
	if r.MetricName == "" {
		return NewValidationError("metric_name", fmt.Sprintf("rule %s: metric name is required", r.ID))
	}
	if !r.Comparator.Ordering() {
		return NewValidationError("comparator",
			fmt.Sprintf("rule %s: invalid comparator %q (only >, >=, <, <= are allowed)", r.ID, r.Comparator))
	}
	if !finite(r.Threshold) {
		return NewValidationError("threshold", fmt.Sprintf("rule %s: threshold must be finite", r.ID))
	}
	if r.SustainedFor < 0 {
		return NewValidationError("sustained_for", fmt.Sprintf("rule %s: sustained_for must not be negative", r.ID))
	}
	if !r.Severity.Valid() {
		return NewValidationError("severity", fmt.Sprintf("rule %s: invalid severity %q", r.ID, r.Severity))
	}
	for _, ch := range r.Channels {
		if ch == "" {
			return NewValidationError("channels", fmt.Sprintf("rule %s: empty channel id", r.ID))
		}
	}
	if r.EscalationThreshold != nil {
		esc := *r.EscalationThreshold
		if !finite(esc) {
			return NewValidationError("escalation_threshold", fmt.Sprintf("rule %s: escalation threshold must be finite", r.ID))
		}
		if r.Comparator.upward() && esc <= r.Threshold || !r.Comparator.upward() && esc >= r.Threshold {
			return NewValidationError("escalation_threshold",
				fmt.Sprintf("rule %s: escalation threshold must lie beyond the threshold", r.ID))
		}
		if !r.EscalationSeverity.HigherThan(r.Severity) {
			return NewValidationError("escalation_severity",
				fmt.Sprintf("rule %s: escalation severity must be higher than %s", r.ID, r.Severity))
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate stored configuration.
func (r AlertRule) Clone() AlertRule {
	if r.Channels != nil {
		r.Channels = append([]string(nil), r.Channels...)
	}
	if r.EscalationThreshold != nil {
		esc := *r.EscalationThreshold
		r.EscalationThreshold = &esc
	}
	return r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
