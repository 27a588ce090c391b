package field

import (
	"fmt"
	"regexp"
	"strings"

	"signflow/internal/domain"
)

// Result aggregates every violation found; callers get the full list, not
// the first failure.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidationFailedError wraps an aggregated error list as a typed error.
type ValidationFailedError struct {
	Errors []string
}

func (e *ValidationFailedError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// Err converts a Result into a ValidationFailedError, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationFailedError{Errors: r.Errors}
}

// Numeric property ranges.
var propRanges = map[string][2]int{
	"fontSize":      {6, 72},
	"maxLength":     {1, 10000},
	"borderWidth":   {0, 10},
	"rows":          {1, 50},
	"optionSpacing": {10, 100},
}

// Validate runs every structural check on one field against its page
// dimensions and returns the aggregated result.
func Validate(f domain.Field, page Dimensions) Result {
	var errs []string
	if !KnownType(f.Type) {
		errs = append(errs, fmt.Sprintf("unknown field type %q", f.Type))
		return Result{Errors: errs}
	}
	errs = append(errs, boundsErrors(f, page)...)
	if !MeetsMinimumSize(f) {
		spec := typeSpecs[f.Type]
		errs = append(errs, fmt.Sprintf("%s must be at least %gx%g, got %gx%g", f.Type, spec.MinWidth, spec.MinHeight, f.Width, f.Height))
	}
	errs = append(errs, propertyErrors(f)...)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Valid: true}
}

func boundsErrors(f domain.Field, page Dimensions) []string {
	var errs []string
	if f.Page < 0 {
		errs = append(errs, fmt.Sprintf("page must be >= 0, got %d", f.Page))
	}
	if f.X < 0 || f.Y < 0 {
		errs = append(errs, fmt.Sprintf("position must be >= 0, got (%g, %g)", f.X, f.Y))
	}
	if f.Width <= 0 || f.Height <= 0 {
		errs = append(errs, fmt.Sprintf("size must be > 0, got %gx%g", f.Width, f.Height))
	}
	if page.Width > 0 && f.X+f.Width > page.Width {
		errs = append(errs, fmt.Sprintf("field extends past page width: %g + %g > %g", f.X, f.Width, page.Width))
	}
	if page.Height > 0 && f.Y+f.Height > page.Height {
		errs = append(errs, fmt.Sprintf("field extends past page height: %g + %g > %g", f.Y, f.Height, page.Height))
	}
	return errs
}

func propertyErrors(f domain.Field) []string {
	spec := typeSpecs[f.Type]
	p := f.Properties
	var errs []string
	if p == nil {
		if spec.MinOptions > 0 {
			errs = append(errs, optionError(f.Type, 0))
		}
		return errs
	}
	numeric := map[string]*int{
		"fontSize":      p.FontSize,
		"maxLength":     p.MaxLength,
		"borderWidth":   p.BorderWidth,
		"rows":          p.Rows,
		"optionSpacing": p.OptionSpacing,
	}
	for name, v := range numeric {
		if v == nil {
			continue
		}
		r := propRanges[name]
		if *v < r[0] || *v > r[1] {
			errs = append(errs, fmt.Sprintf("%s must be between %d and %d, got %d", name, r[0], r[1], *v))
		}
	}
	for name, c := range map[string]string{"fontColor": p.FontColor, "borderColor": p.BorderColor} {
		if c != "" && !hexColorValid(c) {
			errs = append(errs, fmt.Sprintf("%s must be a 6-digit hex color, got %q", name, c))
		}
	}
	if spec.MinOptions > 0 {
		errs = append(errs, optionErrors(f.Type, p)...)
	} else if len(p.Options) > 0 {
		errs = append(errs, fmt.Sprintf("%s does not take options", f.Type))
	}
	if p.Validation != nil {
		if !spec.TextRules {
			errs = append(errs, fmt.Sprintf("%s does not take a validation pattern", f.Type))
		} else {
			errs = append(errs, textRuleErrors(*p.Validation)...)
		}
	}
	return errs
}

func optionErrors(fieldType string, p *domain.FieldProperties) []string {
	var errs []string
	if len(p.Options) < typeSpecs[fieldType].MinOptions {
		errs = append(errs, optionError(fieldType, len(p.Options)))
	}
	labels := map[string]bool{}
	values := map[string]bool{}
	for i, opt := range p.Options {
		if strings.TrimSpace(opt.Label) == "" || strings.TrimSpace(opt.Value) == "" {
			errs = append(errs, fmt.Sprintf("option %d has an empty label or value", i))
			continue
		}
		if labels[opt.Label] || values[opt.Value] {
			errs = append(errs, fmt.Sprintf("option %d duplicates label %q or value %q", i, opt.Label, opt.Value))
		}
		labels[opt.Label] = true
		values[opt.Value] = true
	}
	if p.SelectedValue != "" && !values[p.SelectedValue] {
		errs = append(errs, fmt.Sprintf("selectedValue %q is not among the option values", p.SelectedValue))
	}
	return errs
}

func textRuleErrors(rules domain.TextRules) []string {
	var errs []string
	if !KnownPreset(rules.Preset) {
		errs = append(errs, fmt.Sprintf("unknown validation preset %q", rules.Preset))
		return errs
	}
	if rules.Preset == PresetCustom {
		if rules.Pattern == "" {
			errs = append(errs, "custom preset requires a pattern")
		} else if _, err := regexp.Compile(rules.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("custom pattern does not compile: %v", err))
		}
	} else if rules.Pattern != "" {
		errs = append(errs, "pattern is only allowed with the custom preset")
	}
	return errs
}

// ValidateAll validates a set of fields and merges the per-field violations
// into one list, prefixed by field id.
func ValidateAll(fields []domain.Field, pages func(page int) Dimensions) Result {
	var errs []string
	for _, f := range fields {
		dim := Dimensions{}
		if pages != nil {
			dim = pages(f.Page)
		}
		res := Validate(f, dim)
		for _, e := range res.Errors {
			errs = append(errs, fmt.Sprintf("field %s: %s", f.ID, e))
		}
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Valid: true}
}
