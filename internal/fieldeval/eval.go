// Package fieldeval evaluates calculated fields and visibility rules
// against a snapshot of already-resolved field values. It never performs
// I/O and never cycle-checks at evaluation time: the reference graph is
// validated up front (see graph.go) and the caller evaluates in an order
// consistent with it.
package fieldeval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"signflow/internal/domain"
)

// Formulas.
const (
	FormulaSum     = "sum"
	FormulaAverage = "average"
	FormulaMin     = "min"
	FormulaMax     = "max"
	FormulaCount   = "count"
	FormulaConcat  = "concat"
	FormulaToday   = "today"
)

// Snapshot maps field id to its current raw value. Absent keys and empty
// strings both mean "no value".
type Snapshot map[string]string

// Evaluate computes one calculated field's value from the snapshot.
func Evaluate(f domain.Field, snap Snapshot, now time.Time) (string, error) {
	calc := f.Calculation
	if calc == nil {
		return "", fmt.Errorf("field %s has no calculation", f.ID)
	}
	switch calc.Formula {
	case FormulaToday:
		return formatToday(now, calc.Format), nil
	case FormulaConcat:
		sep := " "
		if calc.Separator != nil {
			sep = *calc.Separator
		}
		var parts []string
		for _, id := range calc.Fields {
			if v := snap[id]; v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, sep), nil
	case FormulaSum, FormulaAverage, FormulaMin, FormulaMax, FormulaCount:
		nums := numericOperands(calc.Fields, snap)
		return aggregate(calc.Formula, nums, calc.Precision)
	default:
		return "", fmt.Errorf("unknown formula %q", calc.Formula)
	}
}

// numericOperands collects the parseable numbers, ignoring empty and
// non-numeric entries.
func numericOperands(ids []string, snap Snapshot) []float64 {
	var nums []float64
	for _, id := range ids {
		v := strings.TrimSpace(snap[id])
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

func aggregate(formula string, nums []float64, precision *int) (string, error) {
	var out float64
	switch formula {
	case FormulaCount:
		return strconv.Itoa(len(nums)), nil
	case FormulaSum:
		for _, n := range nums {
			out += n
		}
	case FormulaAverage:
		if len(nums) == 0 {
			return formatNumber(0, precision), nil
		}
		for _, n := range nums {
			out += n
		}
		out /= float64(len(nums))
	case FormulaMin:
		if len(nums) == 0 {
			return "", nil
		}
		out = nums[0]
		for _, n := range nums[1:] {
			out = math.Min(out, n)
		}
	case FormulaMax:
		if len(nums) == 0 {
			return "", nil
		}
		out = nums[0]
		for _, n := range nums[1:] {
			out = math.Max(out, n)
		}
	}
	return formatNumber(out, precision), nil
}

func formatNumber(v float64, precision *int) string {
	if precision != nil {
		return strconv.FormatFloat(v, 'f', *precision, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatToday(now time.Time, format string) string {
	switch format {
	case "locale":
		return now.UTC().Format("January 2, 2006")
	case "short":
		return now.UTC().Format("01/02/2006")
	default: // iso
		return now.UTC().Format("2006-01-02")
	}
}

// IsVisible evaluates a field's visibility rules against the snapshot.
// Fields without rules are always visible.
func IsVisible(f domain.Field, snap Snapshot) bool {
	rules := f.Visibility
	if rules == nil || len(rules.Conditions) == 0 {
		return true
	}
	for _, cond := range rules.Conditions {
		matched := conditionHolds(cond, snap[cond.FieldID])
		if rules.Operator == "or" {
			if matched {
				return true
			}
		} else if !matched { // and
			return false
		}
	}
	return rules.Operator != "or"
}

func conditionHolds(cond domain.Condition, value string) bool {
	switch cond.Comparison {
	case "equals":
		return value == cond.Value
	case "not_equals":
		return value != cond.Value
	case "contains":
		return cond.Value != "" && strings.Contains(value, cond.Value)
	case "not_empty":
		return strings.TrimSpace(value) != ""
	case "is_empty":
		return strings.TrimSpace(value) == ""
	case "is_checked":
		return isChecked(value)
	case "is_not_checked":
		return !isChecked(value)
	default:
		return false
	}
}

func isChecked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "checked", "yes":
		return true
	}
	return false
}
