package signflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Signflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Document represents the API document model (partial).
type Document struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	WorkflowType string  `json:"workflow_type"`
	OwnerID      string  `json:"owner_id"`
	SendAt       *string `json:"send_at,omitempty"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
}

// Signer represents a document participant.
type Signer struct {
	ID            string  `json:"id"`
	DocumentID    string  `json:"document_id"`
	Email         string  `json:"email"`
	Name          string  `json:"name,omitempty"`
	SigningOrder  *int    `json:"signing_order,omitempty"`
	Status        string  `json:"status"`
	AccessToken   string  `json:"access_token,omitempty"`
	DeclineReason *string `json:"decline_reason,omitempty"`
}

// Field represents a placed form field.
type Field struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	Type        string         `json:"type"`
	Page        int            `json:"page"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	Required    bool           `json:"required"`
	SignerEmail string         `json:"signer_email,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Visibility  map[string]any `json:"visibility,omitempty"`
	Calculation map[string]any `json:"calculation,omitempty"`
}

// Value is a submitted field value.
type Value struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// Aggregate is a document with its signers, fields and values.
type Aggregate struct {
	Document Document `json:"document"`
	Signers  []Signer `json:"signers"`
	Fields   []Field  `json:"fields"`
	Values   []Value  `json:"values"`
}

// Session is the signer-facing view behind an access token.
type Session struct {
	Signer   Signer   `json:"signer"`
	Document Document `json:"document"`
	Signers  []Signer `json:"signers"`
	Fields   []Field  `json:"fields"`
	Values   []Value  `json:"values"`
}

// Event represents a log entry. Payload is the raw JSON payload string.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDocument creates a draft document.
func (c *Client) CreateDocument(ctx context.Context, title, workflowType string) (Document, error) {
	body := map[string]any{"title": title}
	if workflowType != "" {
		body["workflow_type"] = workflowType
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/documents", body, &resp)
	return resp, err
}

// GetDocument fetches a document with signers, fields and values.
func (c *Client) GetDocument(ctx context.Context, id string) (Aggregate, error) {
	var resp Aggregate
	err := c.do(ctx, http.MethodGet, "v0/documents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListDocuments returns documents, optionally filtered by status.
func (c *Client) ListDocuments(ctx context.Context, status string) ([]Document, error) {
	endpoint := "v0/documents"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Document
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SendDocument sends a draft to its signers.
func (c *Client) SendDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/documents/"+url.PathEscape(id)+"/send", nil, &resp)
	return resp, err
}

// CancelDocument cancels a pending or scheduled document.
func (c *Client) CancelDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/documents/"+url.PathEscape(id)+"/cancel", nil, &resp)
	return resp, err
}

// ScheduleDocument schedules a draft for automatic sending.
func (c *Client) ScheduleDocument(ctx context.Context, id string, sendAt time.Time) (Document, error) {
	body := map[string]any{"send_at": sendAt.UTC().Format(time.RFC3339)}
	var resp Document
	err := c.do(ctx, http.MethodPost, "v0/documents/"+url.PathEscape(id)+"/schedule", body, &resp)
	return resp, err
}

// AddSigner adds a signer to a draft. Pass a nil order for unordered signing.
func (c *Client) AddSigner(ctx context.Context, documentID, email, name string, order *int) (Signer, error) {
	body := map[string]any{"email": email}
	if name != "" {
		body["name"] = name
	}
	if order != nil {
		body["signing_order"] = *order
	}
	var resp Signer
	err := c.do(ctx, http.MethodPost, "v0/documents/"+url.PathEscape(documentID)+"/signers", body, &resp)
	return resp, err
}

// RemindSigner resends the invite to a pending signer.
func (c *Client) RemindSigner(ctx context.Context, documentID, signerID string) (Signer, error) {
	var resp Signer
	endpoint := fmt.Sprintf("v0/documents/%s/signers/%s/remind", url.PathEscape(documentID), url.PathEscape(signerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AddField places a field on a draft. Extra keys (properties, visibility,
// calculation) go into opts.
func (c *Client) AddField(ctx context.Context, documentID string, fieldType string, opts map[string]any) (Field, error) {
	body := map[string]any{"type": fieldType}
	for k, v := range opts {
		body[k] = v
	}
	var resp Field
	err := c.do(ctx, http.MethodPost, "v0/documents/"+url.PathEscape(documentID)+"/fields", body, &resp)
	return resp, err
}

// Session fetches the signer view behind an access token. No auth required.
func (c *Client) Session(ctx context.Context, token string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "v0/sign/"+url.PathEscape(token), nil, &resp)
	return resp, err
}

// SubmitValues writes field values as the token's signer.
func (c *Client) SubmitValues(ctx context.Context, token string, values map[string]string) (Aggregate, error) {
	var resp Aggregate
	err := c.do(ctx, http.MethodPost, "v0/sign/"+url.PathEscape(token)+"/values", map[string]any{"values": values}, &resp)
	return resp, err
}

// Complete signs the document as the token's signer.
func (c *Client) Complete(ctx context.Context, token string) (Aggregate, error) {
	var resp Aggregate
	err := c.do(ctx, http.MethodPost, "v0/sign/"+url.PathEscape(token)+"/complete", nil, &resp)
	return resp, err
}

// Decline declines to sign with a reason.
func (c *Client) Decline(ctx context.Context, token, reason string) (Aggregate, error) {
	var resp Aggregate
	err := c.do(ctx, http.MethodPost, "v0/sign/"+url.PathEscape(token)+"/decline", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
