package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/healstack/coord-engine/internal/models"
)

// ConditionType enumerates the closed set of condition variants. Free-form
// expressions are deliberately not supported so packs validate exhaustively at
// load time.
type ConditionType string

const (
	CondMetricThreshold ConditionType = "metric_threshold"
	CondEventMatch      ConditionType = "event_match"
	CondAllOf           ConditionType = "all_of"
	CondAnyOf           ConditionType = "any_of"
)

// Operator enumerates metric comparison operators.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
)

// Condition is a tagged-variant rule condition.
type Condition struct {
	Type      ConditionType `yaml:"type" json:"type"`
	Metric    string        `yaml:"metric,omitempty" json:"metric,omitempty"`
	Operator  Operator      `yaml:"operator,omitempty" json:"operator,omitempty"`
	Threshold float64       `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Sustain   time.Duration `yaml:"sustain,omitempty" json:"sustain,omitempty"`
	Event     string        `yaml:"event,omitempty" json:"event,omitempty"`
	Children  []Condition   `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// RuleAction describes what a matched rule executes.
type RuleAction struct {
	Type       models.ActionType `yaml:"type" json:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Priority   int               `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Rule is a declarative IF-condition-THEN-action mapping authored by an
// operator. Rules are read-only to the arbiter; the store versions them so
// audit entries can reference the revision that fired.
type Rule struct {
	Name              string     `yaml:"name" json:"name"`
	Condition         Condition  `yaml:"condition" json:"condition"`
	Action            RuleAction `yaml:"action" json:"action"`
	Priority          int        `yaml:"priority" json:"priority"`
	MaxActionsPerHour int        `yaml:"max_actions_per_hour" json:"max_actions_per_hour"`
	Enabled           bool       `yaml:"enabled" json:"enabled"`
	Version           int        `yaml:"-" json:"version"`
}

// RulePackFile is the YAML root structure for a rule pack.
type RulePackFile struct {
	Rules []Rule `yaml:"rules"`
}

// ErrValidation marks a malformed rule rejected at registration time.
var ErrValidation = errors.New("rule validation failed")

// LoadRulePack reads and validates a YAML rule pack. A missing file yields an
// empty pack rather than an error, matching operator expectations for fresh
// installs.
func LoadRulePack(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	seen := make(map[string]struct{}, len(pack.Rules))
	for i := range pack.Rules {
		rule := &pack.Rules[i]
		if err := ValidateRule(*rule); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		key := strings.ToLower(rule.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("rule %q: duplicate name: %w", rule.Name, ErrValidation)
		}
		seen[key] = struct{}{}
	}
	return pack.Rules, nil
}

// ValidateRule rejects malformed rules so they never reach MatchRules.
func ValidateRule(rule Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrValidation)
	}
	if rule.MaxActionsPerHour <= 0 {
		return fmt.Errorf("max_actions_per_hour must be positive: %w", ErrValidation)
	}
	if rule.Action.Type == "" {
		return fmt.Errorf("action type is required: %w", ErrValidation)
	}
	return validateCondition(rule.Condition)
}

func validateCondition(cond Condition) error {
	switch cond.Type {
	case CondMetricThreshold:
		if cond.Metric == "" {
			return fmt.Errorf("metric_threshold requires a metric: %w", ErrValidation)
		}
		switch cond.Operator {
		case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		default:
			return fmt.Errorf("unknown operator %q: %w", cond.Operator, ErrValidation)
		}
		if cond.Sustain < 0 {
			return fmt.Errorf("sustain must not be negative: %w", ErrValidation)
		}
	case CondEventMatch:
		if cond.Event == "" {
			return fmt.Errorf("event_match requires an event: %w", ErrValidation)
		}
	case CondAllOf, CondAnyOf:
		if len(cond.Children) == 0 {
			return fmt.Errorf("compound condition requires children: %w", ErrValidation)
		}
		for _, child := range cond.Children {
			if err := validateCondition(child); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown condition type %q: %w", cond.Type, ErrValidation)
	}
	return nil
}

// evaluate reports whether the condition holds for the given context,
// ignoring sustain requirements (those are tracked by the store).
func (c Condition) evaluate(ctx models.TargetContext) bool {
	switch c.Type {
	case CondMetricThreshold:
		value, ok := ctx.Metrics[c.Metric]
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGT:
			return value > c.Threshold
		case OpGTE:
			return value >= c.Threshold
		case OpLT:
			return value < c.Threshold
		case OpLTE:
			return value <= c.Threshold
		case OpEQ:
			return value == c.Threshold
		}
		return false
	case CondEventMatch:
		for _, event := range ctx.Events {
			if strings.Contains(strings.ToLower(event), strings.ToLower(c.Event)) {
				return true
			}
		}
		return false
	case CondAllOf:
		for _, child := range c.Children {
			if !child.evaluate(ctx) {
				return false
			}
		}
		return true
	case CondAnyOf:
		for _, child := range c.Children {
			if child.evaluate(ctx) {
				return true
			}
		}
		return false
	}
	return false
}

// maxSustain returns the longest sustain requirement anywhere in the condition
// tree; zero means the condition has no sustain requirement.
func (c Condition) maxSustain() time.Duration {
	max := c.Sustain
	for _, child := range c.Children {
		if s := child.maxSustain(); s > max {
			max = s
		}
	}
	return max
}
