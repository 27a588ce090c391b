package server

import (
	"signflow/internal/domain"
)

type CreateDocumentRequest struct {
	Title        string                   `json:"title" example:"Mutual NDA"`
	WorkflowType string                   `json:"workflow_type,omitempty" enum:",single,sequential,parallel"`
	ExpiresAt    string                   `json:"expires_at,omitempty" format:"date-time"`
	Reminders    *domain.ReminderSettings `json:"reminders,omitempty"`
}

type UpdateDocumentRequest struct {
	Title        *string                  `json:"title,omitempty"`
	WorkflowType *string                  `json:"workflow_type,omitempty"`
	ExpiresAt    *string                  `json:"expires_at,omitempty"`
	Reminders    *domain.ReminderSettings `json:"reminders,omitempty"`
}

type DocumentResponse struct {
	ID           string                  `json:"id"`
	OwnerID      string                  `json:"owner_id"`
	Title        string                  `json:"title"`
	Status       string                  `json:"status"`
	WorkflowType string                  `json:"workflow_type"`
	ExpiresAt    *string                 `json:"expires_at,omitempty"`
	SendAt       *string                 `json:"send_at,omitempty"`
	Reminders    domain.ReminderSettings `json:"reminders"`
	CompletedAt  *string                 `json:"completed_at,omitempty"`
	CreatedAt    string                  `json:"created_at"`
	UpdatedAt    string                  `json:"updated_at"`
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Title:        d.Title,
		Status:       d.Status,
		WorkflowType: d.WorkflowType,
		ExpiresAt:    d.ExpiresAt,
		SendAt:       d.SendAt,
		Reminders:    d.Reminders,
		CompletedAt:  d.CompletedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		out = append(out, documentResponse(d))
	}
	return out
}

type AddSignerRequest struct {
	Email        string `json:"email" format:"email"`
	Name         string `json:"name,omitempty"`
	SigningOrder *int   `json:"signing_order,omitempty"`
}

type UpdateSignerRequest struct {
	Email        *string `json:"email,omitempty"`
	Name         *string `json:"name,omitempty"`
	SigningOrder *int    `json:"signing_order,omitempty"`
	ClearOrder   bool    `json:"clear_order,omitempty"`
}

// SignerResponse is the owner-facing view. The access token appears here so
// the owner can distribute signing links; the signer-facing view never
// includes other signers' tokens.
type SignerResponse struct {
	ID                 string  `json:"id"`
	DocumentID         string  `json:"document_id"`
	Email              string  `json:"email"`
	Name               string  `json:"name,omitempty"`
	SigningOrder       *int    `json:"signing_order,omitempty"`
	Status             string  `json:"status"`
	AccessToken        string  `json:"access_token,omitempty"`
	SignedAt           *string `json:"signed_at,omitempty"`
	DeclineReason      *string `json:"decline_reason,omitempty"`
	ReminderCount      int     `json:"reminder_count"`
	LastReminderSentAt *string `json:"last_reminder_sent_at,omitempty"`
}

func signerResponse(s domain.Signer, includeToken bool) SignerResponse {
	out := SignerResponse{
		ID:                 s.ID,
		DocumentID:         s.DocumentID,
		Email:              s.Email,
		Name:               s.Name,
		SigningOrder:       s.SigningOrder,
		Status:             s.Status,
		SignedAt:           s.SignedAt,
		DeclineReason:      s.DeclineReason,
		ReminderCount:      s.ReminderCount,
		LastReminderSentAt: s.LastReminderSentAt,
	}
	if includeToken {
		out.AccessToken = s.AccessToken
	}
	return out
}

func mapSigners(items []domain.Signer, includeToken bool) []SignerResponse {
	out := make([]SignerResponse, 0, len(items))
	for _, s := range items {
		out = append(out, signerResponse(s, includeToken))
	}
	return out
}

type AddFieldRequest struct {
	Type        string                  `json:"type" enum:"signature,initials,date,text,checkbox,radio,dropdown,textarea"`
	Page        int                     `json:"page"`
	X           float64                 `json:"x"`
	Y           float64                 `json:"y"`
	Width       float64                 `json:"width"`
	Height      float64                 `json:"height"`
	Required    bool                    `json:"required,omitempty"`
	SignerEmail string                  `json:"signer_email,omitempty"`
	Properties  *domain.FieldProperties `json:"properties,omitempty"`
	Visibility  *domain.VisibilityRules `json:"visibility,omitempty"`
	Calculation *domain.Calculation     `json:"calculation,omitempty"`
}

type UpdateFieldRequest struct {
	Page             *int                    `json:"page,omitempty"`
	X                *float64                `json:"x,omitempty"`
	Y                *float64                `json:"y,omitempty"`
	Width            *float64                `json:"width,omitempty"`
	Height           *float64                `json:"height,omitempty"`
	Required         *bool                   `json:"required,omitempty"`
	SignerEmail      *string                 `json:"signer_email,omitempty"`
	Properties       *domain.FieldProperties `json:"properties,omitempty"`
	Visibility       *domain.VisibilityRules `json:"visibility,omitempty"`
	Calculation      *domain.Calculation     `json:"calculation,omitempty"`
	ClearVisibility  bool                    `json:"clear_visibility,omitempty"`
	ClearCalculation bool                    `json:"clear_calculation,omitempty"`
}

type FieldResponse struct {
	ID          string                  `json:"id"`
	DocumentID  string                  `json:"document_id"`
	Type        string                  `json:"type"`
	Page        int                     `json:"page"`
	X           float64                 `json:"x"`
	Y           float64                 `json:"y"`
	Width       float64                 `json:"width"`
	Height      float64                 `json:"height"`
	Required    bool                    `json:"required"`
	SignerEmail string                  `json:"signer_email,omitempty"`
	Properties  *domain.FieldProperties `json:"properties,omitempty"`
	Visibility  *domain.VisibilityRules `json:"visibility,omitempty"`
	Calculation *domain.Calculation     `json:"calculation,omitempty"`
}

func fieldResponse(f domain.Field) FieldResponse {
	return FieldResponse{
		ID:          f.ID,
		DocumentID:  f.DocumentID,
		Type:        f.Type,
		Page:        f.Page,
		X:           f.X,
		Y:           f.Y,
		Width:       f.Width,
		Height:      f.Height,
		Required:    f.Required,
		SignerEmail: f.SignerEmail,
		Properties:  f.Properties,
		Visibility:  f.Visibility,
		Calculation: f.Calculation,
	}
}

func mapFields(items []domain.Field) []FieldResponse {
	out := make([]FieldResponse, 0, len(items))
	for _, f := range items {
		out = append(out, fieldResponse(f))
	}
	return out
}

type ValueResponse struct {
	FieldID   string `json:"field_id"`
	Value     string `json:"value"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func mapValues(items []domain.FieldValue) []ValueResponse {
	out := make([]ValueResponse, 0, len(items))
	for _, v := range items {
		out = append(out, ValueResponse{FieldID: v.FieldID, Value: v.Value, UpdatedBy: v.UpdatedBy, UpdatedAt: v.UpdatedAt})
	}
	return out
}

// AggregateResponse is the owner-facing document detail.
type AggregateResponse struct {
	Document DocumentResponse `json:"document"`
	Signers  []SignerResponse `json:"signers"`
	Fields   []FieldResponse  `json:"fields"`
	Values   []ValueResponse  `json:"values,omitempty"`
}

func aggregateResponse(agg domain.Aggregate, includeTokens bool) AggregateResponse {
	return AggregateResponse{
		Document: documentResponse(agg.Document),
		Signers:  mapSigners(agg.Signers, includeTokens),
		Fields:   mapFields(agg.Fields),
		Values:   mapValues(agg.Values),
	}
}

// SessionResponse is what a signer sees through their access link.
type SessionResponse struct {
	Signer   SignerResponse   `json:"signer"`
	Document DocumentResponse `json:"document"`
	Signers  []SignerResponse `json:"signers"`
	Fields   []FieldResponse  `json:"fields"`
	Values   []ValueResponse  `json:"values,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID: e.ID, TS: e.TS, Type: e.Type, DocumentID: e.DocumentID,
			EntityKind: e.EntityKind, EntityID: e.EntityID, ActorID: e.ActorID, Payload: e.Payload,
		})
	}
	return out
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}
