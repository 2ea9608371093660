package alert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
)

// ErrUnknownOperator is returned by ParseOperator for strings outside the
// six supported comparisons.
var ErrUnknownOperator = errors.New("unknown operator")

type Operator int

const (
	OpGreater Operator = iota
	OpLess
	OpGreaterEqual
	OpLessEqual
	OpEqual
	OpNotEqual
)

func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case ">":
		return OpGreater, nil
	case "<":
		return OpLess, nil
	case ">=":
		return OpGreaterEqual, nil
	case "<=":
		return OpLessEqual, nil
	case "==":
		return OpEqual, nil
	case "!=":
		return OpNotEqual, nil
	default:
		return OpGreater, fmt.Errorf("%w %q", ErrUnknownOperator, s)
	}
}

func (o Operator) String() string {
	switch o {
	case OpGreater:
		return ">"
	case OpLess:
		return "<"
	case OpGreaterEqual:
		return ">="
	case OpLessEqual:
		return "<="
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	default:
		return ">"
	}
}

// Violated compares value against threshold. Equality is exact binary
// float equality with no tolerance.
func (o Operator) Violated(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return value > threshold
	}
}

// Rule is one threshold condition with defaults applied. Label is the
// operator as configured (trimmed); it names the rule in cooldown keys and
// messages even when Operator fell back to ">".
type Rule struct {
	TagName         string
	Operator        Operator
	Label           string
	Threshold       float64
	MessageTemplate string
	Cooldown        time.Duration
}

// Key identifies the rule in the cooldown map. Rules that share tag,
// operator and threshold share a key and therefore a cooldown.
func (r Rule) Key() string {
	return r.TagName + "_" + r.OperatorLabel() + "_" + FormatNumber(r.Threshold)
}

// OperatorLabel returns Label, or the canonical operator when Label is empty.
func (r Rule) OperatorLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Operator.String()
}

// FormatNumber renders a float in the shortest form that round-trips,
// so 100 prints as "100" and 0.1 as "0.1".
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RulesFromConfig converts YAML thresholds into rules, preserving
// declaration order. Entries without a tag name are dropped. Unknown
// operators fall back to ">" with a warning unless strict is set, in
// which case they fail the whole config.
func RulesFromConfig(thresholds []config.ThresholdConfig, strict bool) ([]Rule, error) {
	rules := make([]Rule, 0, len(thresholds))
	for i, t := range thresholds {
		if t.TagName == "" {
			logging.Debugf("threshold #%d has no tag name, ignored", i)
			continue
		}
		op, err := ParseOperator(t.GetOperator())
		if err != nil {
			if strict {
				return nil, fmt.Errorf("threshold #%d (%s): %w", i, t.TagName, err)
			}
			logging.Warnf("threshold #%d (%s): %v, using \">\"", i, t.TagName, err)
		}
		rules = append(rules, Rule{
			TagName:         t.TagName,
			Operator:        op,
			Label:           strings.TrimSpace(t.GetOperator()),
			Threshold:       t.GetThresholdValue(),
			MessageTemplate: t.GetMessageTemplate(),
			Cooldown:        time.Duration(t.GetCooldownMinutes()) * time.Minute,
		})
	}
	return rules, nil
}
