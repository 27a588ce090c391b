package fieldeval

import (
	"errors"
	"strings"
	"testing"
	"time"

	"signflow/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func intp(n int) *int       { return &n }
func strp(s string) *string { return &s }

func calcField(id, formula string, refs ...string) domain.Field {
	return domain.Field{
		ID: id, Type: "text",
		Calculation: &domain.Calculation{Formula: formula, Fields: refs},
	}
}

func TestSumIgnoresNonNumeric(t *testing.T) {
	f := calcField("total", FormulaSum, "a", "b", "c", "d")
	snap := Snapshot{"a": "2", "b": "3", "c": "abc"} // d absent
	got, err := Evaluate(f, snap, testNow)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "5" {
		t.Fatalf("sum = %q, want 5", got)
	}
}

func TestAggregates(t *testing.T) {
	snap := Snapshot{"a": "2", "b": "8", "c": "5"}
	cases := []struct {
		formula   string
		precision *int
		want      string
	}{
		{FormulaSum, nil, "15"},
		{FormulaAverage, nil, "5"},
		{FormulaAverage, intp(2), "5.00"},
		{FormulaMin, nil, "2"},
		{FormulaMax, nil, "8"},
		{FormulaCount, nil, "3"},
	}
	for _, tc := range cases {
		f := calcField("out", tc.formula, "a", "b", "c")
		f.Calculation.Precision = tc.precision
		got, err := Evaluate(f, snap, testNow)
		if err != nil {
			t.Fatalf("%s: %v", tc.formula, err)
		}
		if got != tc.want {
			t.Errorf("%s = %q, want %q", tc.formula, got, tc.want)
		}
	}
}

func TestEmptyOperandDefaults(t *testing.T) {
	snap := Snapshot{}
	wants := map[string]string{
		FormulaSum:     "0",
		FormulaCount:   "0",
		FormulaAverage: "0",
		FormulaMin:     "",
		FormulaMax:     "",
	}
	for formula, want := range wants {
		got, err := Evaluate(calcField("out", formula, "a"), snap, testNow)
		if err != nil {
			t.Fatalf("%s: %v", formula, err)
		}
		if got != want {
			t.Errorf("%s over empty = %q, want %q", formula, got, want)
		}
	}
}

func TestConcatSkipsEmpties(t *testing.T) {
	f := calcField("joined", FormulaConcat, "a", "b", "c")
	snap := Snapshot{"a": "a", "b": "", "c": "b"}
	got, err := Evaluate(f, snap, testNow)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	if got != "a b" {
		t.Fatalf("concat = %q, want %q", got, "a b")
	}
	f.Calculation.Separator = strp(", ")
	got, _ = Evaluate(f, snap, testNow)
	if got != "a, b" {
		t.Fatalf("concat with separator = %q", got)
	}
}

func TestTodayFormats(t *testing.T) {
	cases := map[string]string{
		"":       "2024-03-01",
		"iso":    "2024-03-01",
		"locale": "March 1, 2024",
		"short":  "03/01/2024",
	}
	for format, want := range cases {
		f := domain.Field{ID: "d", Calculation: &domain.Calculation{Formula: FormulaToday, Format: format}}
		got, err := Evaluate(f, Snapshot{}, testNow)
		if err != nil {
			t.Fatalf("today %q: %v", format, err)
		}
		if got != want {
			t.Errorf("today %q = %q, want %q", format, got, want)
		}
	}
}

func TestVisibilityOr(t *testing.T) {
	f := domain.Field{
		ID: "x",
		Visibility: &domain.VisibilityRules{
			Operator: "or",
			Conditions: []domain.Condition{
				{FieldID: "a", Comparison: "is_checked"},
				{FieldID: "b", Comparison: "not_empty"},
			},
		},
	}
	cases := []struct {
		snap Snapshot
		want bool
	}{
		{Snapshot{"a": "true", "b": ""}, true},
		{Snapshot{"a": "", "b": "filled"}, true},
		{Snapshot{"a": "true", "b": "filled"}, true},
		{Snapshot{"a": "", "b": ""}, false},
		{Snapshot{"a": "false", "b": "  "}, false},
	}
	for i, tc := range cases {
		if got := IsVisible(f, tc.snap); got != tc.want {
			t.Errorf("case %d: IsVisible = %v, want %v", i, got, tc.want)
		}
	}
}

func TestVisibilityAnd(t *testing.T) {
	f := domain.Field{
		ID: "x",
		Visibility: &domain.VisibilityRules{
			Operator: "and",
			Conditions: []domain.Condition{
				{FieldID: "a", Comparison: "equals", Value: "yes"},
				{FieldID: "b", Comparison: "is_not_checked"},
			},
		},
	}
	if !IsVisible(f, Snapshot{"a": "yes", "b": "false"}) {
		t.Fatalf("both true should be visible")
	}
	if IsVisible(f, Snapshot{"a": "no", "b": "false"}) {
		t.Fatalf("failed equals should hide")
	}
	if IsVisible(f, Snapshot{"a": "yes", "b": "true"}) {
		t.Fatalf("checked should hide")
	}
	// no rules means always visible
	if !IsVisible(domain.Field{ID: "plain"}, Snapshot{}) {
		t.Fatalf("field without rules must be visible")
	}
}

func TestValidateCalculation(t *testing.T) {
	all := []domain.Field{{ID: "a"}, {ID: "b"}, calcField("c", FormulaSum, "a", "b")}

	if errs := ValidateCalculation(all[2], all); len(errs) != 0 {
		t.Fatalf("valid calculation rejected: %v", errs)
	}
	selfRef := calcField("c", FormulaSum, "c")
	if errs := ValidateCalculation(selfRef, all); len(errs) == 0 {
		t.Fatalf("self-reference accepted")
	}
	ghost := calcField("c", FormulaSum, "ghost")
	if errs := ValidateCalculation(ghost, all); len(errs) == 0 {
		t.Fatalf("unknown reference accepted")
	}
	empty := calcField("c", FormulaConcat)
	if errs := ValidateCalculation(empty, all); len(errs) == 0 {
		t.Fatalf("operand formula without references accepted")
	}
	prec := calcField("c", FormulaSum, "a")
	prec.Calculation.Precision = intp(11)
	if errs := ValidateCalculation(prec, all); len(errs) == 0 {
		t.Fatalf("precision 11 accepted")
	}
	today := domain.Field{ID: "c", Calculation: &domain.Calculation{Formula: FormulaToday}}
	if errs := ValidateCalculation(today, all); len(errs) != 0 {
		t.Fatalf("today without references rejected: %v", errs)
	}
}

func TestValidateVisibilityRules(t *testing.T) {
	all := []domain.Field{{ID: "a"}, {ID: "b"}}
	f := domain.Field{ID: "b", Visibility: &domain.VisibilityRules{
		Operator:   "and",
		Conditions: []domain.Condition{{FieldID: "a", Comparison: "equals"}},
	}}
	errs := ValidateVisibilityRules(f, all)
	if len(errs) == 0 || !strings.Contains(errs[0], "requires a value") {
		t.Fatalf("equals without value accepted: %v", errs)
	}
	f.Visibility.Conditions[0].Value = "x"
	if errs := ValidateVisibilityRules(f, all); len(errs) != 0 {
		t.Fatalf("valid rule rejected: %v", errs)
	}
	f.Visibility.Conditions[0].Comparison = "not_empty"
	f.Visibility.Conditions[0].Value = ""
	if errs := ValidateVisibilityRules(f, all); len(errs) != 0 {
		t.Fatalf("not_empty without value rejected: %v", errs)
	}
	f.Visibility.Operator = "xor"
	if errs := ValidateVisibilityRules(f, all); len(errs) == 0 {
		t.Fatalf("unknown operator accepted")
	}
}

func TestGraphOrderAndCycles(t *testing.T) {
	fields := []domain.Field{
		{ID: "a"},
		{ID: "b"},
		calcField("sub", FormulaSum, "a", "b"),
		calcField("total", FormulaSum, "sub", "a"),
	}
	ordered, err := CalculatedInOrder(fields)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(ordered) != 2 || ordered[0].ID != "sub" || ordered[1].ID != "total" {
		t.Fatalf("unexpected order: %+v", ordered)
	}

	cyclic := []domain.Field{
		calcField("x", FormulaSum, "y"),
		calcField("y", FormulaSum, "x"),
	}
	_, err = BuildGraph(cyclic).Order()
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(ce.Fields) != 2 {
		t.Fatalf("cycle should name both fields: %v", ce.Fields)
	}
	refErrs := ValidateReferences(cyclic)
	found := false
	for _, e := range refErrs {
		if strings.Contains(e, "cycle") {
			found = true
		}
	}
	if !found {
		t.Fatalf("ValidateReferences should surface the cycle: %v", refErrs)
	}
}
