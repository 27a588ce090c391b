package field

import (
	"regexp"

	"signflow/internal/domain"
)

// Pattern presets for text/textarea validation. A static table keyed by
// preset name; `custom` takes a caller-supplied expression instead.
const (
	PresetEmail        = "email"
	PresetPhone        = "phone"
	PresetZip          = "zip"
	PresetPostalCA     = "postal_ca"
	PresetPostalUK     = "postal_uk"
	PresetNumeric      = "numeric"
	PresetAlphanumeric = "alphanumeric"
	PresetURL          = "url"
	PresetDateISO      = "date_iso"
	PresetCurrency     = "currency"
	PresetCustom       = "custom"
)

type pattern struct {
	Regexp  *regexp.Regexp
	Message string
}

var patterns = map[string]pattern{
	PresetEmail:        {regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`), "must be a valid email address"},
	PresetPhone:        {regexp.MustCompile(`^\+?[0-9()\-\s.]{7,20}$`), "must be a valid phone number"},
	PresetZip:          {regexp.MustCompile(`^\d{5}(-\d{4})?$`), "must be a valid ZIP code"},
	PresetPostalCA:     {regexp.MustCompile(`^[A-Za-z]\d[A-Za-z][ -]?\d[A-Za-z]\d$`), "must be a valid Canadian postal code"},
	PresetPostalUK:     {regexp.MustCompile(`^[A-Za-z]{1,2}\d[A-Za-z\d]?\s?\d[A-Za-z]{2}$`), "must be a valid UK postcode"},
	PresetNumeric:      {regexp.MustCompile(`^-?\d+(\.\d+)?$`), "must be a number"},
	PresetAlphanumeric: {regexp.MustCompile(`^[A-Za-z0-9]+$`), "must contain only letters and digits"},
	PresetURL:          {regexp.MustCompile(`^https?://[^\s]+$`), "must be a valid URL"},
	PresetDateISO:      {regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "must be an ISO date (YYYY-MM-DD)"},
	PresetCurrency:     {regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`), "must be a currency amount"},
}

// KnownPreset reports whether name is a preset (custom included).
func KnownPreset(name string) bool {
	if name == PresetCustom {
		return true
	}
	_, ok := patterns[name]
	return ok
}

// MatchPreset checks a value against a preset or a custom expression.
// Returns ok plus the message to surface on mismatch. Empty values pass;
// required-ness is enforced elsewhere.
func MatchPreset(rules domain.TextRules, value string) (bool, string) {
	if value == "" {
		return true, ""
	}
	if rules.Preset == PresetCustom {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			return false, "invalid custom pattern"
		}
		msg := rules.Message
		if msg == "" {
			msg = "does not match the required pattern"
		}
		return re.MatchString(value), msg
	}
	p, ok := patterns[rules.Preset]
	if !ok {
		return true, ""
	}
	msg := rules.Message
	if msg == "" {
		msg = p.Message
	}
	return p.Regexp.MatchString(value), msg
}
