package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"signflow/internal/engine"
	"signflow/internal/field"
	"signflow/internal/fieldeval"
	"signflow/internal/lifecycle"
	"signflow/internal/repo"
	"signflow/internal/sequence"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_your_turn"`
	Message string         `json:"message" example:"signer s-2 blocked by first@example.com"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Signflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation is a 400, distinct from the
			// domain validator's 422.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Signflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDocuments(group, cfg.Engine)
	registerSigners(group, cfg.Engine)
	registerFields(group, cfg.Engine)
	registerSigning(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerAccountConfig(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)
	startSchedulePoller(cfg.Engine)

	return router, nil
}

const schedulePollInterval = 30 * time.Second

// startSchedulePoller sends scheduled documents whose send time has passed.
// Each due document is processed independently so one broken draft does not
// hold up the rest of the queue.
func startSchedulePoller(e engine.Engine) {
	go func() {
		ticker := time.NewTicker(schedulePollInterval)
		defer ticker.Stop()
		for {
			if n, err := e.ProcessDueSchedules(context.Background(), "scheduler"); err != nil {
				log.Printf("scheduler: process due failed: %v", err)
			} else if n > 0 {
				log.Printf("scheduler: sent %d scheduled document(s)", n)
			}
			<-ticker.C
		}
	}()
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps typed domain errors to their HTTP shape.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var transition *lifecycle.IllegalTransitionError
	if errors.As(err, &transition) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"from": transition.From, "to": transition.To,
		})
	}
	var state *sequence.InvalidSignerStateError
	if errors.As(err, &state) {
		return newAPIError(http.StatusConflict, "invalid_signer_state", err.Error(), map[string]any{
			"signer_id": state.SignerID, "status": state.Status,
		})
	}
	var turn *sequence.NotYourTurnError
	if errors.As(err, &turn) {
		return newAPIError(http.StatusForbidden, "not_your_turn", err.Error(), map[string]any{
			"blocking": turn.Blocking,
		})
	}
	var limited *sequence.RateLimitedError
	if errors.As(err, &limited) {
		return newAPIError(http.StatusTooManyRequests, "rate_limited", err.Error(), map[string]any{
			"retry_after_seconds": int(limited.RetryAfter / time.Second),
		})
	}
	var failed *field.ValidationFailedError
	if errors.As(err, &failed) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "validation failed", map[string]any{
			"errors": failed.Errors,
		})
	}
	var cycle *fieldeval.CycleError
	if errors.As(err, &cycle) {
		return newAPIError(http.StatusUnprocessableEntity, "calculation_cycle", err.Error(), map[string]any{
			"fields": cycle.Fields,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "only change on drafts"),
		strings.Contains(lowered, "only drafts"),
		strings.Contains(lowered, "while pending"),
		strings.Contains(lowered, "only apply while pending"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") || strings.Contains(lowered, "already"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Create document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDocument(ctx, engine.DocumentCreateOptions{
			OwnerID:      actorID,
			Title:        input.Body.Title,
			WorkflowType: input.Body.WorkflowType,
			ExpiresAt:    input.Body.ExpiresAt,
			Reminders:    input.Body.Reminders,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",draft,scheduled,pending,completed,cancelled"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		items, err := e.ListDocuments(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document with signers, fields and values",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		agg, err := e.GetAggregate(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/documents/{document_id}",
		Summary:     "Update a draft document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string                `path:"document_id"`
		Body       UpdateDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDocument(ctx, input.DocumentID, engine.DocumentUpdateOptions{
			Title:        input.Body.Title,
			WorkflowType: input.Body.WorkflowType,
			ExpiresAt:    input.Body.ExpiresAt,
			Reminders:    input.Body.Reminders,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Delete a draft document",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/send",
		Summary:     "Send document to its signers",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SendDocument(ctx, input.DocumentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/schedule",
		Summary:     "Schedule a draft for automatic sending",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Body       struct {
			SendAt string `json:"send_at" format:"date-time"`
		} `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		at, err := time.Parse(time.RFC3339, input.Body.SendAt)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid send_at", nil)
		}
		d, err := e.ScheduleDocument(ctx, input.DocumentID, at, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-schedule",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}/schedule",
		Summary:     "Cancel a schedule, returning the document to draft",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CancelSchedule(ctx, input.DocumentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/cancel",
		Summary:     "Cancel a pending or scheduled document",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CancelDocument(ctx, input.DocumentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})
}

func registerSigners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-signer",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/signers",
		Summary:       "Add signer to a draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string           `path:"document_id"`
		Body       AddSignerRequest `json:"body"`
	}) (*struct {
		Body SignerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSigner(ctx, input.DocumentID, engine.SignerOptions{
			Email:        input.Body.Email,
			Name:         input.Body.Name,
			SigningOrder: input.Body.SigningOrder,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignerResponse `json:"body"`
		}{Body: signerResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signers",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/signers",
		Summary:     "List signers of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body []SignerResponse `json:"body"`
	}, error) {
		if _, err := e.GetDocument(ctx, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSigners(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SignerResponse `json:"body"`
		}{Body: mapSigners(items, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-signer",
		Method:      http.MethodPatch,
		Path:        "/documents/{document_id}/signers/{signer_id}",
		Summary:     "Update signer on a draft",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string              `path:"document_id"`
		SignerID   string              `path:"signer_id"`
		Body       UpdateSignerRequest `json:"body"`
	}) (*struct {
		Body SignerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureSignerOnDocument(ctx, e, input.DocumentID, input.SignerID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateSigner(ctx, input.SignerID, engine.SignerUpdateOptions{
			Email:        input.Body.Email,
			Name:         input.Body.Name,
			SigningOrder: input.Body.SigningOrder,
			ClearOrder:   input.Body.ClearOrder,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignerResponse `json:"body"`
		}{Body: signerResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-signer",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}/signers/{signer_id}",
		Summary:     "Remove signer from a draft",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		SignerID   string `path:"signer_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureSignerOnDocument(ctx, e, input.DocumentID, input.SignerID); err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveSigner(ctx, input.SignerID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remind-signer",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/signers/{signer_id}/remind",
		Summary:     "Send a reminder to a pending signer",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		SignerID   string `path:"signer_id"`
	}) (*struct {
		Body SignerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureSignerOnDocument(ctx, e, input.DocumentID, input.SignerID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.RemindSigner(ctx, input.SignerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignerResponse `json:"body"`
		}{Body: signerResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-signer",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/signers/{signer_id}/reset",
		Summary:     "Reset a resolved signer back to pending",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		SignerID   string `path:"signer_id"`
	}) (*struct {
		Body SignerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureSignerOnDocument(ctx, e, input.DocumentID, input.SignerID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.ResetSigner(ctx, input.SignerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignerResponse `json:"body"`
		}{Body: signerResponse(s, true)}, nil
	})
}

func ensureSignerOnDocument(ctx context.Context, e engine.Engine, documentID, signerID string) error {
	s, err := e.Repo.GetSigner(ctx, signerID)
	if err != nil {
		return err
	}
	if s.DocumentID != documentID {
		return repo.ErrNotFound
	}
	return nil
}

func ensureFieldOnDocument(ctx context.Context, e engine.Engine, documentID, fieldID string) error {
	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	if f.DocumentID != documentID {
		return repo.ErrNotFound
	}
	return nil
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-field",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/fields",
		Summary:       "Place a field on a draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string          `path:"document_id"`
		Body       AddFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddField(ctx, input.DocumentID, engine.FieldOptions{
			Type:        input.Body.Type,
			Page:        input.Body.Page,
			X:           input.Body.X,
			Y:           input.Body.Y,
			Width:       input.Body.Width,
			Height:      input.Body.Height,
			Required:    input.Body.Required,
			SignerEmail: input.Body.SignerEmail,
			Properties:  input.Body.Properties,
			Visibility:  input.Body.Visibility,
			Calculation: input.Body.Calculation,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-fields",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/fields",
		Summary:     "List fields of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body []FieldResponse `json:"body"`
	}, error) {
		if _, err := e.GetDocument(ctx, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListFields(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FieldResponse `json:"body"`
		}{Body: mapFields(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-field",
		Method:      http.MethodPatch,
		Path:        "/documents/{document_id}/fields/{field_id}",
		Summary:     "Update a field on a draft",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string             `path:"document_id"`
		FieldID    string             `path:"field_id"`
		Body       UpdateFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureFieldOnDocument(ctx, e, input.DocumentID, input.FieldID); err != nil {
			return nil, handleError(err)
		}
		f, err := e.UpdateField(ctx, input.FieldID, engine.FieldUpdateOptions{
			Page:             input.Body.Page,
			X:                input.Body.X,
			Y:                input.Body.Y,
			Width:            input.Body.Width,
			Height:           input.Body.Height,
			Required:         input.Body.Required,
			SignerEmail:      input.Body.SignerEmail,
			Properties:       input.Body.Properties,
			Visibility:       input.Body.Visibility,
			Calculation:      input.Body.Calculation,
			ClearVisibility:  input.Body.ClearVisibility,
			ClearCalculation: input.Body.ClearCalculation,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-field",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}/fields/{field_id}",
		Summary:     "Remove a field from a draft",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		FieldID    string `path:"field_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := ensureFieldOnDocument(ctx, e, input.DocumentID, input.FieldID); err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveField(ctx, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerSigning is the signer-facing surface reached through access links.
// The path token is the capability; no other auth applies.
func registerSigning(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-signing-session",
		Method:      http.MethodGet,
		Path:        "/sign/{token}",
		Summary:     "Load the signing session for an access token",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		session, err := e.ResolveToken(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{
			Signer:   signerResponse(session.Signer, false),
			Document: documentResponse(session.Aggregate.Document),
			Signers:  mapSigners(session.Aggregate.Signers, false),
			Fields:   mapFields(session.Aggregate.Fields),
			Values:   mapValues(session.Aggregate.Values),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-values",
		Method:      http.MethodPost,
		Path:        "/sign/{token}/values",
		Summary:     "Submit field values",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
		Body  struct {
			Values map[string]string `json:"values"`
		} `json:"body"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		if len(input.Body.Values) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "values required", nil)
		}
		agg, err := e.SubmitValues(ctx, input.Token, input.Body.Values)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-signing",
		Method:      http.MethodPost,
		Path:        "/sign/{token}/complete",
		Summary:     "Sign the document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		origin := sequence.Origin{}
		if r, ok := ctx.Value(requestKey{}).(*http.Request); ok {
			origin.IP = clientIP(r)
			origin.UserAgent = r.UserAgent()
		}
		agg, err := e.SignDocument(ctx, input.Token, origin)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-signing",
		Method:      http.MethodPost,
		Path:        "/sign/{token}/decline",
		Summary:     "Decline to sign",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
		Body  struct {
			Reason string `json:"reason"`
		} `json:"body"`
	}) (*struct {
		Body AggregateResponse `json:"body"`
	}, error) {
		agg, err := e.DeclineDocument(ctx, input.Token, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AggregateResponse `json:"body"`
		}{Body: aggregateResponse(agg, false)}, nil
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		After      int64  `query:"after" doc:"Return events with an id greater than this cursor, oldest first"`
		DocumentID string `query:"document_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if input.After > 0 {
			limit := input.Limit
			if limit <= 0 {
				limit = 50
			}
			items, err := e.Repo.EventsAfter(ctx, limit, input.After)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body []EventResponse `json:"body"`
			}{Body: mapEvents(items)}, nil
		}
		items, err := e.LatestEvents(ctx, input.Limit, input.DocumentID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-events",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/events",
		Summary:     "List events of a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.GetDocument(ctx, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.LatestEvents(ctx, input.Limit, input.DocumentID, "", "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, raw, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: raw, CreatedAt: k.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := e.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Revoke API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := e.RevokeAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAccountConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get account config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if e.Config == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "config not loaded", nil)
		}
		cfg, err := e.Repo.GetAccountConfig(ctx, e.Config.Account.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"account":   cfg.Account,
			"pages":     cfg.Pages,
			"documents": cfg.Documents,
		}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	signPrefix := path.Join(basePath, "sign") + "/"
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || strings.HasPrefix(route, signPrefix) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Signflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
