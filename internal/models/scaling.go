package models

import (
	"fmt"
	"time"
)

type Aggregation string

const (
	AggregationLatest  Aggregation = "latest"
	AggregationAverage Aggregation = "average"
)

type ScalingPolicy struct {
	Name               string        `json:"name" yaml:"name" mapstructure:"name"`
	MetricName         string        `json:"metric_name" yaml:"metric_name" mapstructure:"metric_name"`
	ScaleUpThreshold   float64       `json:"scale_up_threshold" yaml:"scale_up_threshold" mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `json:"scale_down_threshold" yaml:"scale_down_threshold" mapstructure:"scale_down_threshold"`
	MinInstances       int           `json:"min_instances" yaml:"min_instances" mapstructure:"min_instances"`
	MaxInstances       int           `json:"max_instances" yaml:"max_instances" mapstructure:"max_instances"`
	InitialInstances   int           `json:"initial_instances,omitempty" yaml:"initial_instances,omitempty" mapstructure:"initial_instances"`
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
	Step               int           `json:"step" yaml:"step" mapstructure:"step"`

	// Values at or above ScaleUpThreshold*EmergencyMultiplier scale by
	// EmergencyStep instead of Step. A multiplier <= 1 disables it.
	EmergencyMultiplier float64 `json:"emergency_multiplier,omitempty" yaml:"emergency_multiplier,omitempty" mapstructure:"emergency_multiplier"`
	EmergencyStep       int     `json:"emergency_step,omitempty" yaml:"emergency_step,omitempty" mapstructure:"emergency_step"`

	Aggregation   Aggregation   `json:"aggregation,omitempty" yaml:"aggregation,omitempty" mapstructure:"aggregation"`
	AverageWindow time.Duration `json:"average_window,omitempty" yaml:"average_window,omitempty" mapstructure:"average_window"`
}

// Normalize fills in defaults. It is applied before validation.
func (p *ScalingPolicy) Normalize() {
	if p.Name == "" {
		p.Name = p.MetricName
	}
	if p.Step == 0 {
		p.Step = 1
	}
	if p.EmergencyStep == 0 {
		p.EmergencyStep = p.Step
	}
	if p.Aggregation == "" {
		p.Aggregation = AggregationLatest
	}
	if p.InitialInstances == 0 {
		p.InitialInstances = p.MinInstances
	}
}

func (p *ScalingPolicy) Validate() error {
	if p.MetricName == "" {
		return NewValidationError("metric_name", "policy metric name is required")
	}
	if !finite(p.ScaleUpThreshold) || !finite(p.ScaleDownThreshold) {
		return NewValidationError("threshold", fmt.Sprintf("policy %s: thresholds must be finite", p.Name))
	}
	if p.ScaleDownThreshold >= p.ScaleUpThreshold {
		return NewValidationError("scale_down_threshold",
			fmt.Sprintf("policy %s: scale_down_threshold must be below scale_up_threshold", p.Name))
	}
	if p.MinInstances < 0 || p.MaxInstances < 1 || p.MinInstances > p.MaxInstances {
		return NewValidationError("instances",
			fmt.Sprintf("policy %s: need 0 <= min_instances <= max_instances and max_instances >= 1", p.Name))
	}
	if p.InitialInstances < p.MinInstances || p.InitialInstances > p.MaxInstances {
		return NewValidationError("initial_instances",
			fmt.Sprintf("policy %s: initial_instances must be within [min_instances, max_instances]", p.Name))
	}
	if p.Cooldown < 0 {
		return NewValidationError("cooldown", fmt.Sprintf("policy %s: cooldown must not be negative", p.Name))
	}
	if p.Step < 1 || p.EmergencyStep < 1 {
		return NewValidationError("step", fmt.Sprintf("policy %s: step must be at least 1", p.Name))
	}
	if !finite(p.EmergencyMultiplier) || p.EmergencyMultiplier < 0 {
		return NewValidationError("emergency_multiplier",
			fmt.Sprintf("policy %s: emergency multiplier must be a non-negative number", p.Name))
	}
	switch p.Aggregation {
	case AggregationLatest:
	case AggregationAverage:
		if p.AverageWindow <= 0 {
			return NewValidationError("average_window",
				fmt.Sprintf("policy %s: average aggregation needs a positive average_window", p.Name))
		}
	default:
		return NewValidationError("aggregation", fmt.Sprintf("policy %s: invalid aggregation %q", p.Name, p.Aggregation))
	}
	return nil
}

type ScaleDirection string

const (
	DirectionNone ScaleDirection = "none"
	DirectionUp   ScaleDirection = "up"
	DirectionDown ScaleDirection = "down"
)

// ScalingState is owned by the scaling engine; everything else sees copies.
type ScalingState struct {
	Policy            string         `json:"policy"`
	MetricName        string         `json:"metric_name"`
	CurrentInstances  int            `json:"current_instances"`
	LastScaleActionAt time.Time      `json:"last_scale_action_at"`
	LastDirection     ScaleDirection `json:"last_direction"`
	LastValue         float64        `json:"last_value"`
	LastEvaluatedAt   time.Time      `json:"last_evaluated_at"`
}

type ScaleAction string

const (
	ScaleUp   ScaleAction = "scale_up"
	ScaleDown ScaleAction = "scale_down"
	ScaleNone ScaleAction = "none"
)

// ScaleDecision is the outcome of one policy evaluation. It doubles as the
// archived scaling_events row.
type ScaleDecision struct {
	ID             uint        `json:"-" gorm:"primaryKey"`
	Policy         string      `json:"policy" gorm:"index"`
	MetricName     string      `json:"metric_name"`
	Action         ScaleAction `json:"action"`
	From           int         `json:"from" gorm:"column:from_instances"`
	To             int         `json:"to" gorm:"column:to_instances"`
	Value          float64     `json:"value"`
	Reason         string      `json:"reason"`
	Emergency      bool        `json:"emergency"`
	CooldownActive bool        `json:"cooldown_active"`
	At             time.Time   `json:"at" gorm:"index"`
}

func (ScaleDecision) TableName() string {
	return "scaling_events"
}

func (d ScaleDecision) Delta() int {
	return d.To - d.From
}
