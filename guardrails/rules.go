package guardrails

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mwinther/pumpvault/profile"
	"github.com/mwinther/pumpvault/schedule"
)

// Rule is a compiled site-specific validation expression. The expression is
// evaluated once per schedule item with "value" and "startHour" in scope and
// must yield a boolean; false rejects the item.
//
// Range schedule rules are evaluated twice per item, once against the
// minimum and once against the maximum.
type Rule struct {
	source  string
	program *vm.Program
}

// Rules holds optional per-schedule rule expressions.
type Rules struct {
	CorrectionRange    *Rule
	CarbRatio          *Rule
	BasalRate          *Rule
	InsulinSensitivity *Rule
}

// CompileRule compiles a rule expression. Compilation errors surface here so
// a bad rule fails at configuration load rather than during validation.
func CompileRule(source string) (*Rule, error) {
	if source == "" {
		return nil, fmt.Errorf("rule expression must not be empty")
	}
	program, err := expr.Compile(source, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", source, err)
	}
	return &Rule{source: source, program: program}, nil
}

// Source returns the original expression text.
func (r *Rule) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}

func (r *Rule) accepts(item schedule.Item) (bool, error) {
	return r.eval(item.Start.Hours(), item.Value.InexactFloat64())
}

func (r *Rule) eval(startHour, value float64) (bool, error) {
	out, err := expr.Run(r.program, map[string]interface{}{
		"value":     value,
		"startHour": startHour,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", r.source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("rule %q returned %T, expected bool", r.source, out)
	}
	return ok, nil
}

func (rs Rules) check(p profile.Profile) error {
	if rs.CorrectionRange != nil {
		for _, item := range p.CorrectionRange.Items {
			for _, v := range []float64{item.Min.InexactFloat64(), item.Max.InexactFloat64()} {
				ok, err := rs.CorrectionRange.eval(item.Start.Hours(), v)
				if err != nil {
					return failf(ReasonCorrectionRange, "correction range rule: %v", err)
				}
				if !ok {
					return failf(ReasonCorrectionRange,
						"correction range at %s rejected by rule %q", item.Start, rs.CorrectionRange.Source())
				}
			}
		}
	}
	if err := rs.checkScalar(rs.InsulinSensitivity, p.InsulinSensitivity, ReasonInsulinSensitivity, "insulin sensitivity"); err != nil {
		return err
	}
	if err := rs.checkScalar(rs.CarbRatio, p.CarbRatio, ReasonCarbRatio, "carb ratio"); err != nil {
		return err
	}
	return rs.checkScalar(rs.BasalRate, p.BasalRate, ReasonBasalRate, "basal rate")
}

func (rs Rules) checkScalar(rule *Rule, sched schedule.Daily, reason Reason, label string) error {
	if rule == nil {
		return nil
	}
	for _, item := range sched.Items {
		ok, err := rule.accepts(item)
		if err != nil {
			return failf(reason, "%s rule: %v", label, err)
		}
		if !ok {
			return failf(reason, "%s %s at %s rejected by rule %q", label, item.Value, item.Start, rule.Source())
		}
	}
	return nil
}
