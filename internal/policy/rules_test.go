package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/healstack/coord-engine/internal/models"
)

func validRule(name string) Rule {
	return Rule{
		Name: name,
		Condition: Condition{
			Type:      CondMetricThreshold,
			Metric:    "cpu_usage_percent",
			Operator:  OpGT,
			Threshold: 90,
		},
		Action:            RuleAction{Type: models.ActionResourceScaling, Priority: 8},
		Priority:          1,
		MaxActionsPerHour: 4,
		Enabled:           true,
	}
}

func TestValidateRuleRejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty name", func(r *Rule) { r.Name = " " }},
		{"zero rate limit", func(r *Rule) { r.MaxActionsPerHour = 0 }},
		{"missing action type", func(r *Rule) { r.Action.Type = "" }},
		{"unknown operator", func(r *Rule) { r.Condition.Operator = "between" }},
		{"missing metric", func(r *Rule) { r.Condition.Metric = "" }},
		{"unknown condition type", func(r *Rule) { r.Condition.Type = "regex" }},
		{"empty compound", func(r *Rule) { r.Condition = Condition{Type: CondAllOf} }},
		{"negative sustain", func(r *Rule) { r.Condition.Sustain = -1 }},
	}
	for _, tc := range cases {
		rule := validRule("r1")
		tc.mutate(&rule)
		err := ValidateRule(rule)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestValidateRuleAcceptsCompound(t *testing.T) {
	rule := validRule("compound")
	rule.Condition = Condition{
		Type: CondAnyOf,
		Children: []Condition{
			{Type: CondEventMatch, Event: "oomkilled"},
			{Type: CondMetricThreshold, Metric: "memory_usage_bytes", Operator: OpGTE, Threshold: 1e9},
		},
	}
	if err := ValidateRule(rule); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
}

func TestLoadRulePackMissingFile(t *testing.T) {
	rules, err := LoadRulePack(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing pack must not error: %v", err)
	}
	if rules != nil {
		t.Fatalf("expected empty pack, got %d rules", len(rules))
	}
}

func TestLoadRulePack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	pack := `rules:
  - name: cpu_high
    priority: 1
    max_actions_per_hour: 4
    enabled: true
    condition:
      type: metric_threshold
      metric: cpu_usage_percent
      operator: gt
      threshold: 90
    action:
      type: resource_scaling
      priority: 8
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRulePack(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Name != "cpu_high" || rules[0].Action.Type != models.ActionResourceScaling {
		t.Fatalf("unexpected rule: %+v", rules[0])
	}
}

func TestLoadRulePackRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	pack := `rules:
  - name: cpu_high
    priority: 1
    max_actions_per_hour: 4
    enabled: true
    condition: {type: event_match, event: oom}
    action: {type: restart}
  - name: CPU_HIGH
    priority: 2
    max_actions_per_hour: 4
    enabled: true
    condition: {type: event_match, event: oom}
    action: {type: restart}
`
	if err := os.WriteFile(path, []byte(pack), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRulePack(path); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected duplicate-name rejection, got %v", err)
	}
}

func TestConditionEvaluate(t *testing.T) {
	ctx := models.TargetContext{
		Target:  "web",
		Metrics: map[string]float64{"cpu_usage_percent": 95},
		Events:  []string{"BackOff: CrashLoopBackOff for container web"},
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt holds", Condition{Type: CondMetricThreshold, Metric: "cpu_usage_percent", Operator: OpGT, Threshold: 90}, true},
		{"gt fails", Condition{Type: CondMetricThreshold, Metric: "cpu_usage_percent", Operator: OpGT, Threshold: 95}, false},
		{"missing metric", Condition{Type: CondMetricThreshold, Metric: "latency_ms", Operator: OpGT, Threshold: 1}, false},
		{"event match case-insensitive", Condition{Type: CondEventMatch, Event: "crashloopbackoff"}, true},
		{"event no match", Condition{Type: CondEventMatch, Event: "oomkilled"}, false},
		{
			"all_of short circuit",
			Condition{Type: CondAllOf, Children: []Condition{
				{Type: CondEventMatch, Event: "crashloop"},
				{Type: CondMetricThreshold, Metric: "cpu_usage_percent", Operator: OpLT, Threshold: 10},
			}},
			false,
		},
		{
			"any_of",
			Condition{Type: CondAnyOf, Children: []Condition{
				{Type: CondEventMatch, Event: "oomkilled"},
				{Type: CondMetricThreshold, Metric: "cpu_usage_percent", Operator: OpGTE, Threshold: 95},
			}},
			true,
		},
	}
	for _, tc := range cases {
		if got := tc.cond.evaluate(ctx); got != tc.want {
			t.Fatalf("%s: got %t, want %t", tc.name, got, tc.want)
		}
	}
}
