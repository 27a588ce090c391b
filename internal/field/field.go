// Package field holds the field type model and its structural validator.
// The type enumeration is closed: per-type behavior lives in lookup tables
// keyed by type so the rules stay exhaustive and auditable in one place.
package field

import (
	"fmt"
	"strings"

	"signflow/internal/domain"
)

// Field types.
const (
	TypeSignature = "signature"
	TypeInitials  = "initials"
	TypeDate      = "date"
	TypeText      = "text"
	TypeCheckbox  = "checkbox"
	TypeRadio     = "radio"
	TypeDropdown  = "dropdown"
	TypeTextarea  = "textarea"
)

// Dimensions of one PDF page, supplied by the rendering collaborator.
type Dimensions struct {
	Width  float64
	Height float64
}

type typeSpec struct {
	MinWidth   float64
	MinHeight  float64
	MinOptions int  // 0 when the type has no options
	TextRules  bool // pattern presets apply
}

var typeSpecs = map[string]typeSpec{
	TypeSignature: {MinWidth: 150, MinHeight: 50},
	TypeInitials:  {MinWidth: 50, MinHeight: 50},
	TypeDate:      {MinWidth: 100, MinHeight: 30},
	TypeText:      {MinWidth: 50, MinHeight: 20, TextRules: true},
	TypeCheckbox:  {MinWidth: 15, MinHeight: 15},
	TypeRadio:     {MinWidth: 15, MinHeight: 15, MinOptions: 2},
	TypeDropdown:  {MinWidth: 80, MinHeight: 30, MinOptions: 1},
	TypeTextarea:  {MinWidth: 100, MinHeight: 50, TextRules: true},
}

// KnownType reports whether t is in the closed enumeration.
func KnownType(t string) bool {
	_, ok := typeSpecs[t]
	return ok
}

// Types lists the enumeration in a stable order.
func Types() []string {
	return []string{TypeSignature, TypeInitials, TypeDate, TypeText, TypeCheckbox, TypeRadio, TypeDropdown, TypeTextarea}
}

// MeetsMinimumSize compares a field's geometry against the per-type minimum.
func MeetsMinimumSize(f domain.Field) bool {
	spec, ok := typeSpecs[f.Type]
	if !ok {
		return false
	}
	return f.Width >= spec.MinWidth && f.Height >= spec.MinHeight
}

// HasOptions reports whether the type carries an option list.
func HasOptions(t string) bool {
	return typeSpecs[t].MinOptions > 0
}

func optionError(t string, n int) string {
	spec := typeSpecs[t]
	return fmt.Sprintf("%s requires at least %d option(s), got %d", t, spec.MinOptions, n)
}

func hexColorValid(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range strings.ToLower(c[1:]) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
