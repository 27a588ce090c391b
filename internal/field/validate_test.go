package field

import (
	"strings"
	"testing"

	"signflow/internal/domain"
)

var letterPage = Dimensions{Width: 612, Height: 792}

func intp(n int) *int { return &n }

func validSignature() domain.Field {
	return domain.Field{
		ID: "f1", Type: TypeSignature,
		Page: 0, X: 50, Y: 600, Width: 200, Height: 60,
		SignerEmail: "a@example.com",
	}
}

func TestValidateAcceptsWellFormedField(t *testing.T) {
	res := Validate(validSignature(), letterPage)
	if !res.Valid {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Err() != nil {
		t.Fatalf("Err() should be nil for valid result")
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	f := validSignature()
	f.Page = -2
	f.X = 500
	f.Width = 200 // 500+200 > 612
	res := Validate(f, letterPage)
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if len(res.Errors) < 2 {
		t.Fatalf("expected aggregated errors, got %v", res.Errors)
	}
	var sawPage, sawWidth bool
	for _, e := range res.Errors {
		if strings.Contains(e, "page must be") {
			sawPage = true
		}
		if strings.Contains(e, "past page width") {
			sawWidth = true
		}
	}
	if !sawPage || !sawWidth {
		t.Fatalf("missing expected violations: %v", res.Errors)
	}
}

func TestMinimumSizes(t *testing.T) {
	cases := []struct {
		typ  string
		w, h float64
		ok   bool
	}{
		{TypeSignature, 150, 50, true},
		{TypeSignature, 149, 50, false},
		{TypeCheckbox, 15, 15, true},
		{TypeCheckbox, 14, 15, false},
		{TypeTextarea, 100, 50, true},
		{TypeTextarea, 100, 49, false},
	}
	for _, tc := range cases {
		f := domain.Field{Type: tc.typ, Width: tc.w, Height: tc.h}
		if got := MeetsMinimumSize(f); got != tc.ok {
			t.Errorf("MeetsMinimumSize(%s %gx%g) = %v, want %v", tc.typ, tc.w, tc.h, got, tc.ok)
		}
	}
}

func TestPropertyRanges(t *testing.T) {
	f := validSignature()
	f.Type = TypeText
	f.Width, f.Height = 100, 30
	f.Properties = &domain.FieldProperties{
		FontSize:  intp(4),
		MaxLength: intp(20000),
		FontColor: "#12345",
	}
	res := Validate(f, letterPage)
	if res.Valid || len(res.Errors) != 3 {
		t.Fatalf("expected 3 violations, got %v", res.Errors)
	}
}

func TestOptionValidation(t *testing.T) {
	f := domain.Field{
		ID: "r1", Type: TypeRadio, Page: 0, X: 10, Y: 10, Width: 20, Height: 20,
		Properties: &domain.FieldProperties{Options: []domain.FieldOption{{Label: "Yes", Value: "yes"}}},
	}
	res := Validate(f, letterPage)
	if res.Valid {
		t.Fatalf("radio with one option accepted")
	}
	f.Properties.Options = append(f.Properties.Options, domain.FieldOption{Label: "Yes", Value: "yes"})
	res = Validate(f, letterPage)
	if res.Valid {
		t.Fatalf("duplicate options accepted")
	}
	f.Properties.Options[1] = domain.FieldOption{Label: "No", Value: "no"}
	f.Properties.SelectedValue = "maybe"
	res = Validate(f, letterPage)
	if res.Valid {
		t.Fatalf("selectedValue outside options accepted")
	}
	f.Properties.SelectedValue = "no"
	if res := Validate(f, letterPage); !res.Valid {
		t.Fatalf("valid radio rejected: %v", res.Errors)
	}
}

func TestTextRuleValidation(t *testing.T) {
	f := domain.Field{ID: "t1", Type: TypeText, Page: 0, X: 10, Y: 10, Width: 60, Height: 25}
	f.Properties = &domain.FieldProperties{Validation: &domain.TextRules{Preset: PresetCustom}}
	if res := Validate(f, letterPage); res.Valid {
		t.Fatalf("custom preset without pattern accepted")
	}
	f.Properties.Validation.Pattern = "([a-z"
	if res := Validate(f, letterPage); res.Valid {
		t.Fatalf("uncompilable pattern accepted")
	}
	f.Properties.Validation.Pattern = "^[a-z]{3}$"
	if res := Validate(f, letterPage); !res.Valid {
		t.Fatalf("valid custom rule rejected: %v", res.Errors)
	}
	f.Properties.Validation = &domain.TextRules{Preset: "ssn"}
	if res := Validate(f, letterPage); res.Valid {
		t.Fatalf("unknown preset accepted")
	}
}

func TestMatchPreset(t *testing.T) {
	cases := []struct {
		preset string
		value  string
		ok     bool
	}{
		{PresetEmail, "user@example.com", true},
		{PresetEmail, "not-an-email", false},
		{PresetZip, "94107", true},
		{PresetZip, "94107-1234", true},
		{PresetZip, "9410", false},
		{PresetPostalCA, "K1A 0B1", true},
		{PresetPostalUK, "SW1A 1AA", true},
		{PresetNumeric, "-12.5", true},
		{PresetNumeric, "12a", false},
		{PresetURL, "https://example.com/x", true},
		{PresetURL, "ftp://example.com", false},
		{PresetDateISO, "2024-03-01", true},
		{PresetCurrency, "199.99", true},
		{PresetCurrency, "199.999", false},
		{PresetAlphanumeric, "abc123", true},
		{PresetEmail, "", true}, // empty passes; required-ness is separate
	}
	for _, tc := range cases {
		ok, msg := MatchPreset(domain.TextRules{Preset: tc.preset}, tc.value)
		if ok != tc.ok {
			t.Errorf("MatchPreset(%s, %q) = %v (%s), want %v", tc.preset, tc.value, ok, msg, tc.ok)
		}
	}
	ok, msg := MatchPreset(domain.TextRules{Preset: PresetCustom, Pattern: `^\d{3}$`, Message: "need 3 digits"}, "12")
	if ok || msg != "need 3 digits" {
		t.Fatalf("custom pattern: ok=%v msg=%q", ok, msg)
	}
}

func TestValidateAllPrefixesFieldIDs(t *testing.T) {
	bad := validSignature()
	bad.ID = "f2"
	bad.Width = 10
	res := ValidateAll([]domain.Field{validSignature(), bad}, func(int) Dimensions { return letterPage })
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if !strings.HasPrefix(res.Errors[0], "field f2:") {
		t.Fatalf("missing field prefix: %v", res.Errors)
	}
}
