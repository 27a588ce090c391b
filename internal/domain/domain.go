package domain

// Document statuses.
const (
	DocumentDraft     = "draft"
	DocumentScheduled = "scheduled"
	DocumentPending   = "pending"
	DocumentCompleted = "completed"
	DocumentCancelled = "cancelled"
)

// Workflow types.
const (
	WorkflowSingle     = "single"
	WorkflowSequential = "sequential"
	WorkflowParallel   = "parallel"
)

// Signer statuses.
const (
	SignerPending  = "pending"
	SignerSigned   = "signed"
	SignerDeclined = "declined"
)

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Document struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	Title        string           `json:"title"`
	Status       string           `json:"status" enum:"draft,scheduled,pending,completed,cancelled"`
	WorkflowType string           `json:"workflow_type" enum:"single,sequential,parallel"`
	ExpiresAt    *string          `json:"expires_at,omitempty" format:"date-time"`
	SendAt       *string          `json:"send_at,omitempty" format:"date-time"`
	Reminders    ReminderSettings `json:"reminders"`
	CompletedAt  *string          `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

// ReminderSettings schedules re-notification relative to the send date.
type ReminderSettings struct {
	Enabled    bool  `json:"enabled"`
	DayOffsets []int `json:"day_offsets,omitempty"`
}

type Signer struct {
	ID                 string  `json:"id"`
	DocumentID         string  `json:"document_id"`
	Email              string  `json:"email"`
	Name               string  `json:"name"`
	SigningOrder       *int    `json:"signing_order,omitempty"`
	Status             string  `json:"status" enum:"pending,signed,declined"`
	AccessToken        string  `json:"access_token,omitempty"`
	SignedAt           *string `json:"signed_at,omitempty" format:"date-time"`
	DeclineReason      *string `json:"decline_reason,omitempty"`
	OriginIP           *string `json:"origin_ip,omitempty"`
	OriginUserAgent    *string `json:"origin_user_agent,omitempty"`
	ReminderCount      int     `json:"reminder_count"`
	LastReminderSentAt *string `json:"last_reminder_sent_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type Field struct {
	ID          string           `json:"id"`
	DocumentID  string           `json:"document_id"`
	Type        string           `json:"type" enum:"signature,initials,date,text,checkbox,radio,dropdown,textarea"`
	Page        int              `json:"page"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	Required    bool             `json:"required"`
	SignerEmail string           `json:"signer_email,omitempty"`
	Properties  *FieldProperties `json:"properties,omitempty"`
	Visibility  *VisibilityRules `json:"visibility,omitempty"`
	Calculation *Calculation     `json:"calculation,omitempty"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

// FieldProperties is the type-specific configuration bag. Which keys apply is
// decided by the field type; out-of-range values are validation errors.
type FieldProperties struct {
	FontSize      *int          `json:"fontSize,omitempty"`
	FontColor     string        `json:"fontColor,omitempty"`
	BorderColor   string        `json:"borderColor,omitempty"`
	BorderWidth   *int          `json:"borderWidth,omitempty"`
	MaxLength     *int          `json:"maxLength,omitempty"`
	Rows          *int          `json:"rows,omitempty"`
	OptionSpacing *int          `json:"optionSpacing,omitempty"`
	Placeholder   string        `json:"placeholder,omitempty"`
	Options       []FieldOption `json:"options,omitempty"`
	SelectedValue string        `json:"selectedValue,omitempty"`
	Validation    *TextRules    `json:"validation,omitempty"`
}

type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TextRules selects a named pattern preset for text/textarea input.
type TextRules struct {
	Preset  string `json:"preset" enum:"email,phone,zip,postal_ca,postal_uk,numeric,alphanumeric,url,date_iso,currency,custom"`
	Pattern string `json:"pattern,omitempty"`
	Message string `json:"message,omitempty"`
}

// VisibilityRules is a boolean expression over other fields' values.
type VisibilityRules struct {
	Operator   string      `json:"operator" enum:"and,or"`
	Conditions []Condition `json:"conditions"`
}

type Condition struct {
	FieldID    string `json:"field_id"`
	Comparison string `json:"comparison" enum:"equals,not_equals,contains,not_empty,is_empty,is_checked,is_not_checked"`
	Value      string `json:"value,omitempty"`
}

// Calculation derives a field's value from other fields at submit time.
type Calculation struct {
	Formula   string   `json:"formula" enum:"sum,average,min,max,count,concat,today"`
	Fields    []string `json:"fields,omitempty"`
	Precision *int     `json:"precision,omitempty"`
	Separator *string  `json:"separator,omitempty"`
	Format    string   `json:"format,omitempty" enum:"iso,locale,short"`
}

// FieldValue is one signer-supplied (or calculated) value.
type FieldValue struct {
	DocumentID string `json:"document_id"`
	FieldID    string `json:"field_id"`
	Value      string `json:"value"`
	UpdatedBy  string `json:"updated_by,omitempty"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Aggregate bundles one document with its signers, fields and values as a
// single consistency unit.
type Aggregate struct {
	Document Document     `json:"document"`
	Signers  []Signer     `json:"signers"`
	Fields   []Field      `json:"fields"`
	Values   []FieldValue `json:"values,omitempty"`
}
