package alert

import (
	"time"

	"github.com/pulseguard/internal/models"
)

// DefaultRuleSet is seeded when the configuration carries no rules.
func DefaultRuleSet() models.RuleSet {
	errorRateCritical := 15.0
	return models.RuleSet{
		Rules: []models.AlertRule{
			{
				ID:           "cpu-high",
				Name:         "High CPU Usage",
				Description:  "CPU utilization at or above 70% for 5 minutes",
				MetricName:   "cpu_utilization",
				Comparator:   models.OperatorGTE,
				Threshold:    70,
				SustainedFor: 5 * time.Minute,
				Severity:     models.SeverityHigh,
				Enabled:      true,
			},
			{
				ID:           "error-spike",
				Name:         "Error Rate Spike",
				Description:  "Error rate at or above 5% for 1 minute",
				MetricName:   "error_rate",
				Comparator:   models.OperatorGTE,
				Threshold:    5,
				SustainedFor: time.Minute,
				Severity:     models.SeverityHigh,
				Enabled:      true,

				EscalationThreshold: &errorRateCritical,
				EscalationSeverity:  models.SeverityCritical,
			},
			{
				ID:           "response-slow",
				Name:         "Slow Responses",
				Description:  "Response time at or above 500ms for 2 minutes",
				MetricName:   "response_time_ms",
				Comparator:   models.OperatorGTE,
				Threshold:    500,
				SustainedFor: 2 * time.Minute,
				Severity:     models.SeverityMedium,
				Enabled:      true,
			},
			{
				ID:           "satisfaction-low",
				Name:         "Low User Satisfaction",
				Description:  "Satisfaction score at or below 3.5 for 10 minutes",
				MetricName:   "user_satisfaction_score",
				Comparator:   models.OperatorLTE,
				Threshold:    3.5,
				SustainedFor: 10 * time.Minute,
				Severity:     models.SeverityLow,
				Enabled:      true,
			},
		},
		Policies: []models.ScalingPolicy{
			{
				Name:                "web-cpu",
				MetricName:          "cpu_utilization",
				ScaleUpThreshold:    80,
				ScaleDownThreshold:  40,
				MinInstances:        2,
				MaxInstances:        20,
				Cooldown:            2 * time.Minute,
				Step:                1,
				EmergencyMultiplier: 1.2,
				EmergencyStep:       3,
			},
		},
	}
}
