package models

// RuleSet is the structured configuration the engine is fed with, either from
// the main config file or from a rules file.
type RuleSet struct {
	Rules    []AlertRule           `json:"rules" yaml:"rules" mapstructure:"rules"`
	Policies []ScalingPolicy       `json:"policies" yaml:"policies" mapstructure:"policies"`
	Channels []NotificationChannel `json:"channels" yaml:"channels" mapstructure:"channels"`
}

func (s RuleSet) Empty() bool {
	return len(s.Rules) == 0 && len(s.Policies) == 0 && len(s.Channels) == 0
}
