package fieldeval

import (
	"fmt"

	"signflow/internal/domain"
)

var operandFormulas = map[string]bool{
	FormulaSum:     true,
	FormulaAverage: true,
	FormulaMin:     true,
	FormulaMax:     true,
	FormulaCount:   true,
	FormulaConcat:  true,
}

var comparisons = map[string]bool{
	"equals":         true,
	"not_equals":     true,
	"contains":       true,
	"not_empty":      true,
	"is_empty":       true,
	"is_checked":     true,
	"is_not_checked": true,
}

var comparisonNeedsValue = map[string]bool{
	"equals":     true,
	"not_equals": true,
	"contains":   true,
}

// ValidateCalculation checks one field's calculation at construction time:
// references exist in the same document, no self-reference, operand
// formulas list at least one reference, precision within [0,10]. Violations
// are collected, not short-circuited.
func ValidateCalculation(f domain.Field, all []domain.Field) []string {
	calc := f.Calculation
	if calc == nil {
		return nil
	}
	var errs []string
	known := fieldSet(all)
	if calc.Formula != FormulaToday && !operandFormulas[calc.Formula] {
		errs = append(errs, fmt.Sprintf("unknown formula %q", calc.Formula))
	}
	if operandFormulas[calc.Formula] && len(calc.Fields) == 0 {
		errs = append(errs, fmt.Sprintf("formula %s requires at least one referenced field", calc.Formula))
	}
	for _, id := range calc.Fields {
		if id == f.ID {
			errs = append(errs, "calculation must not reference the field itself")
			continue
		}
		if !known[id] {
			errs = append(errs, fmt.Sprintf("calculation references unknown field %s", id))
		}
	}
	if calc.Precision != nil && (*calc.Precision < 0 || *calc.Precision > 10) {
		errs = append(errs, fmt.Sprintf("precision must be between 0 and 10, got %d", *calc.Precision))
	}
	return errs
}

// ValidateVisibilityRules checks one field's visibility rules: operator is
// and/or, every condition references an existing field other than the field
// itself, comparisons are known, and value-comparisons carry a value.
func ValidateVisibilityRules(f domain.Field, all []domain.Field) []string {
	rules := f.Visibility
	if rules == nil {
		return nil
	}
	var errs []string
	if rules.Operator != "and" && rules.Operator != "or" {
		errs = append(errs, fmt.Sprintf("unknown visibility operator %q", rules.Operator))
	}
	if len(rules.Conditions) == 0 {
		errs = append(errs, "visibility rules require at least one condition")
	}
	known := fieldSet(all)
	for i, cond := range rules.Conditions {
		if cond.FieldID == f.ID {
			errs = append(errs, fmt.Sprintf("condition %d references the field itself", i))
		} else if !known[cond.FieldID] {
			errs = append(errs, fmt.Sprintf("condition %d references unknown field %s", i, cond.FieldID))
		}
		if !comparisons[cond.Comparison] {
			errs = append(errs, fmt.Sprintf("condition %d has unknown comparison %q", i, cond.Comparison))
			continue
		}
		if comparisonNeedsValue[cond.Comparison] && cond.Value == "" {
			errs = append(errs, fmt.Sprintf("condition %d comparison %s requires a value", i, cond.Comparison))
		}
	}
	return errs
}

// ValidateReferences runs calculation and visibility validation across a
// whole field set and detects calculation cycles through the reference
// graph. Returned strings are prefixed with the offending field id.
func ValidateReferences(fields []domain.Field) []string {
	var errs []string
	for _, f := range fields {
		for _, e := range ValidateCalculation(f, fields) {
			errs = append(errs, fmt.Sprintf("field %s: %s", f.ID, e))
		}
		for _, e := range ValidateVisibilityRules(f, fields) {
			errs = append(errs, fmt.Sprintf("field %s: %s", f.ID, e))
		}
	}
	if _, err := BuildGraph(fields).Order(); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func fieldSet(fields []domain.Field) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f.ID] = true
	}
	return set
}
