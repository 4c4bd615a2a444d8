package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pulseguard/internal/models"
	"gopkg.in/yaml.v3"
)

var (
	ErrRuleNotFound    = errors.New("rule not found")
	ErrPolicyNotFound  = errors.New("scaling policy not found")
	ErrChannelNotFound = errors.New("notification channel not found")
	ErrDuplicate       = errors.New("already exists")
)

// RuleStore holds rules, scaling policies and notification channels.
// Everything is validated on the way in; reads return copies.
type RuleStore struct {
	mu       sync.RWMutex
	rules    map[string]models.AlertRule
	policies map[string]models.ScalingPolicy
	channels map[string]models.NotificationChannel
}

func NewRuleStore() *RuleStore {
	return &RuleStore{
		rules:    make(map[string]models.AlertRule),
		policies: make(map[string]models.ScalingPolicy),
		channels: make(map[string]models.NotificationChannel),
	}
}

func (rs *RuleStore) AddRule(rule models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.rules[rule.ID]; ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrDuplicate)
	}
	rs.rules[rule.ID] = rule.Clone()
	return nil
}

func (rs *RuleStore) UpdateRule(rule models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.rules[rule.ID]; !ok {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	rs.rules[rule.ID] = rule.Clone()
	return nil
}

func (rs *RuleStore) RemoveRule(id string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	delete(rs.rules, id)
	return nil
}

func (rs *RuleStore) GetRule(id string) (models.AlertRule, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rule, ok := rs.rules[id]
	if !ok {
		return models.AlertRule{}, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

// ListRules returns every rule sorted by id.
func (rs *RuleStore) ListRules() []models.AlertRule {
	return rs.listRules(false)
}

// ListEnabledRules returns the enabled rules sorted by id, which is the
// order the evaluator walks them in.
func (rs *RuleStore) ListEnabledRules() []models.AlertRule {
	return rs.listRules(true)
}

func (rs *RuleStore) listRules(enabledOnly bool) []models.AlertRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rules := make([]models.AlertRule, 0, len(rs.rules))
	for _, rule := range rs.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		rules = append(rules, rule.Clone())
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

func (rs *RuleStore) ToggleRule(id string, enabled bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rule, ok := rs.rules[id]
	if !ok {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	rule.Enabled = enabled
	rs.rules[id] = rule
	return nil
}

func (rs *RuleStore) AddPolicy(policy models.ScalingPolicy) error {
	policy.Normalize()
	if err := policy.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.policies[policy.Name]; ok {
		return fmt.Errorf("policy %s: %w", policy.Name, ErrDuplicate)
	}
	rs.policies[policy.Name] = policy
	return nil
}

func (rs *RuleStore) GetPolicy(name string) (models.ScalingPolicy, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	policy, ok := rs.policies[name]
	if !ok {
		return models.ScalingPolicy{}, fmt.Errorf("policy %s: %w", name, ErrPolicyNotFound)
	}
	return policy, nil
}

// ListScalingPolicies returns the policies sorted by name.
func (rs *RuleStore) ListScalingPolicies() []models.ScalingPolicy {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	policies := make([]models.ScalingPolicy, 0, len(rs.policies))
	for _, p := range rs.policies {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

func (rs *RuleStore) AddChannel(channel models.NotificationChannel) error {
	if err := channel.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.channels[channel.ID]; ok {
		return fmt.Errorf("channel %s: %w", channel.ID, ErrDuplicate)
	}
	rs.channels[channel.ID] = channel
	return nil
}

func (rs *RuleStore) GetChannel(id string) (models.NotificationChannel, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	ch, ok := rs.channels[id]
	return ch, ok
}

func (rs *RuleStore) ListChannels() []models.NotificationChannel {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	channels := make([]models.NotificationChannel, 0, len(rs.channels))
	for _, ch := range rs.channels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels
}

// Load adds every entry of the set. Invalid entries are rejected and reported
// together; the valid ones stay loaded.
func (rs *RuleStore) Load(set models.RuleSet) error {
	var result *multierror.Error
	for _, ch := range set.Channels {
		if err := rs.AddChannel(ch); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, rule := range set.Rules {
		if err := rs.AddRule(rule); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, policy := range set.Policies {
		if err := rs.AddPolicy(policy); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Snapshot returns the current configuration as a RuleSet.
func (rs *RuleStore) Snapshot() models.RuleSet {
	return models.RuleSet{
		Rules:    rs.ListRules(),
		Policies: rs.ListScalingPolicies(),
		Channels: rs.ListChannels(),
	}
}

// ReadRuleSet decodes a rules file. Files ending in .json are read as JSON,
// everything else as YAML.
func ReadRuleSet(filename string) (models.RuleSet, error) {
	var set models.RuleSet
	data, err := os.ReadFile(filename)
	if err != nil {
		return set, fmt.Errorf("failed to read file: %w", err)
	}

	if isJSON(filename) {
		err = json.Unmarshal(data, &set)
	} else {
		err = yaml.Unmarshal(data, &set)
	}
	if err != nil {
		return set, fmt.Errorf("failed to parse rules: %w", err)
	}
	return set, nil
}

func (rs *RuleStore) ImportFile(filename string) error {
	set, err := ReadRuleSet(filename)
	if err != nil {
		return err
	}
	if err := rs.Load(set); err != nil {
		return fmt.Errorf("failed to import %s: %w", filename, err)
	}
	return nil
}

func (rs *RuleStore) ExportFile(filename string) error {
	set := rs.Snapshot()

	var (
		data []byte
		err  error
	)
	if isJSON(filename) {
		data, err = json.MarshalIndent(set, "", "  ")
	} else {
		data, err = yaml.Marshal(set)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func isJSON(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".json")
}
