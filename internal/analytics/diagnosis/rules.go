package diagnosis

import (
	"fmt"
	"math"

	"github.com/kubilitics/sensordx/internal/models"
)

// Package diagnosis resolves a metric vector into a root-cause code, a
// diagnosis text and a recommendation, per sensor type.
//
// Dispatch is data, not code:
//   - A Rule is a code plus a conjunction of metric predicates
//   - A Table is an ordered rule list ending in an unconditional default
//   - The Resolver maps SensorType → Table; first matching rule wins
//   - Unknown types fall back to the GENERIC table
//
// All built-in tables share one condition order (the universal decision
// tree) and differ in the code each condition maps to: high-frequency chaos
// on a pH electrode is cracked glass, on a generic transmitter it is an
// electronic failure. Supporting a new sensor type means registering a new
// table.
//
// Thresholds are named (e.g. "lyapunov_chaos") and looked up per table, so
// a type can override any of them without touching the rules.

// Op is a predicate comparison.
type Op string

const (
	OpGT      Op = "gt"
	OpGE      Op = "ge"
	OpLT      Op = "lt"
	OpLE      Op = "le"
	OpAbsGT   Op = "abs_gt"
	OpAbsLT   Op = "abs_lt"
	OpMissing Op = "missing"
)

// Predicate compares one metric against a named threshold.
type Predicate struct {
	Metric    models.MetricName `json:"metric" yaml:"metric"`
	Op        Op                `json:"op" yaml:"op"`
	Threshold string            `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Rule concludes Code when every predicate holds.
type Rule struct {
	Condition Condition   `json:"condition" yaml:"condition"`
	Code      string      `json:"code" yaml:"code"`
	When      []Predicate `json:"when" yaml:"when"`
}

// Thresholds maps threshold names to values.
type Thresholds map[string]float64

// Merge returns a copy of t with overrides applied.
func (t Thresholds) Merge(overrides Thresholds) Thresholds {
	out := make(Thresholds, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Table is an ordered rule set for one sensor type.
type Table struct {
	SensorType models.SensorType `json:"sensor_type" yaml:"sensor_type"`
	Rules      []Rule            `json:"rules" yaml:"rules"`
	Thresholds Thresholds        `json:"thresholds" yaml:"thresholds"`
}

// Validate checks the table is total and every predicate is well formed.
func (t Table) Validate() error {
	if len(t.Rules) == 0 {
		return fmt.Errorf("table %s: no rules", t.SensorType)
	}
	if last := t.Rules[len(t.Rules)-1]; len(last.When) != 0 {
		return fmt.Errorf("table %s: last rule %s is not an unconditional default", t.SensorType, last.Code)
	}
	for i, r := range t.Rules {
		if r.Code == "" {
			return fmt.Errorf("table %s: rule %d has no code", t.SensorType, i)
		}
		for _, p := range r.When {
			switch p.Op {
			case OpMissing:
				continue
			case OpGT, OpGE, OpLT, OpLE, OpAbsGT, OpAbsLT:
			default:
				return fmt.Errorf("table %s: rule %s: unknown op %q", t.SensorType, r.Code, p.Op)
			}
			if _, ok := t.Thresholds[p.Threshold]; !ok {
				return fmt.Errorf("table %s: rule %s: unknown threshold %q", t.SensorType, r.Code, p.Threshold)
			}
		}
	}
	return nil
}

// match returns the first rule whose predicates all hold.
func (t Table) match(lookup func(models.MetricName) (float64, bool)) Rule {
	for _, r := range t.Rules {
		if t.holds(r, lookup) {
			return r
		}
	}
	// Validate guarantees a default; this only guards hand-built tables.
	return Rule{Condition: ConditionHealthy, Code: CodeHealthy}
}

func (t Table) holds(r Rule, lookup func(models.MetricName) (float64, bool)) bool {
	for _, p := range r.When {
		v, ok := lookup(p.Metric)
		if p.Op == OpMissing {
			if ok {
				return false
			}
			continue
		}
		// A predicate on an unavailable metric never holds.
		if !ok {
			return false
		}
		limit, ok := t.Thresholds[p.Threshold]
		if !ok {
			return false
		}
		if !compare(p.Op, v, limit) {
			return false
		}
	}
	return true
}

func compare(op Op, v, limit float64) bool {
	switch op {
	case OpGT:
		return v > limit
	case OpGE:
		return v >= limit
	case OpLT:
		return v < limit
	case OpLE:
		return v <= limit
	case OpAbsGT:
		return math.Abs(v) > limit
	case OpAbsLT:
		return math.Abs(v) < limit
	}
	return false
}
