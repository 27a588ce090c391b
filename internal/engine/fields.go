package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signflow/internal/domain"
	"signflow/internal/events"
	"signflow/internal/field"
	"signflow/internal/fieldeval"
	"signflow/internal/lifecycle"
)

// FieldOptions are parameters for placing a field on a document.
type FieldOptions struct {
	Type        string
	Page        int
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Required    bool
	SignerEmail string
	Properties  *domain.FieldProperties
	Visibility  *domain.VisibilityRules
	Calculation *domain.Calculation
	ActorID     string
}

func (e Engine) AddField(ctx context.Context, documentID string, opts FieldOptions) (domain.Field, error) {
	if !field.KnownType(opts.Type) {
		return domain.Field{}, fmt.Errorf("unknown field type %q", opts.Type)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Field{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Field{}, err
	}
	if !lifecycle.CanEdit(d) {
		return domain.Field{}, fmt.Errorf("document %s is %s, fields can only change on drafts", d.ID, d.Status)
	}
	now := e.now().UTC().Format(time.RFC3339)
	f := domain.Field{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Type:        opts.Type,
		Page:        opts.Page,
		X:           opts.X,
		Y:           opts.Y,
		Width:       opts.Width,
		Height:      opts.Height,
		Required:    opts.Required,
		SignerEmail: strings.ToLower(strings.TrimSpace(opts.SignerEmail)),
		Properties:  opts.Properties,
		Visibility:  opts.Visibility,
		Calculation: opts.Calculation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if res := field.Validate(f, e.pageDims(f.Page)); !res.Valid {
		return domain.Field{}, res.Err()
	}
	existing, err := e.Repo.ListFields(ctx, documentID)
	if err != nil {
		return domain.Field{}, err
	}
	if errs := fieldeval.ValidateReferences(append(existing, f)); len(errs) > 0 {
		return domain.Field{}, &field.ValidationFailedError{Errors: errs}
	}
	if err := e.Repo.InsertFieldTx(ctx, tx, f); err != nil {
		return domain.Field{}, fmt.Errorf("insert field: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "field.added", d.ID, "field", f.ID, opts.ActorID, events.EventPayload{"type": f.Type, "page": f.Page}); err != nil {
		return domain.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

// FieldUpdateOptions carries the editable field attributes. Nil pointers keep
// the stored value; the Clear flags drop optional sub-structures.
type FieldUpdateOptions struct {
	Page             *int
	X                *float64
	Y                *float64
	Width            *float64
	Height           *float64
	Required         *bool
	SignerEmail      *string
	Properties       *domain.FieldProperties
	Visibility       *domain.VisibilityRules
	Calculation      *domain.Calculation
	ClearVisibility  bool
	ClearCalculation bool
	ActorID          string
}

func (e Engine) UpdateField(ctx context.Context, fieldID string, opts FieldUpdateOptions) (domain.Field, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Field{}, err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return domain.Field{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, f.DocumentID)
	if err != nil {
		return domain.Field{}, err
	}
	if !lifecycle.CanEdit(d) {
		return domain.Field{}, fmt.Errorf("document %s is %s, fields can only change on drafts", d.ID, d.Status)
	}
	if opts.Page != nil {
		f.Page = *opts.Page
	}
	if opts.X != nil {
		f.X = *opts.X
	}
	if opts.Y != nil {
		f.Y = *opts.Y
	}
	if opts.Width != nil {
		f.Width = *opts.Width
	}
	if opts.Height != nil {
		f.Height = *opts.Height
	}
	if opts.Required != nil {
		f.Required = *opts.Required
	}
	if opts.SignerEmail != nil {
		f.SignerEmail = strings.ToLower(strings.TrimSpace(*opts.SignerEmail))
	}
	if opts.Properties != nil {
		f.Properties = opts.Properties
	}
	if opts.ClearVisibility {
		f.Visibility = nil
	} else if opts.Visibility != nil {
		f.Visibility = opts.Visibility
	}
	if opts.ClearCalculation {
		f.Calculation = nil
	} else if opts.Calculation != nil {
		f.Calculation = opts.Calculation
	}
	if res := field.Validate(f, e.pageDims(f.Page)); !res.Valid {
		return domain.Field{}, res.Err()
	}
	all, err := e.Repo.ListFields(ctx, f.DocumentID)
	if err != nil {
		return domain.Field{}, err
	}
	for i := range all {
		if all[i].ID == f.ID {
			all[i] = f
		}
	}
	if errs := fieldeval.ValidateReferences(all); len(errs) > 0 {
		return domain.Field{}, &field.ValidationFailedError{Errors: errs}
	}
	f.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateFieldTx(ctx, tx, f); err != nil {
		return domain.Field{}, err
	}
	if err := e.Events.Append(ctx, tx, "field.updated", d.ID, "field", f.ID, opts.ActorID, events.EventPayload{"type": f.Type}); err != nil {
		return domain.Field{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

func (e Engine) RemoveField(ctx context.Context, fieldID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	f, err := e.Repo.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, f.DocumentID)
	if err != nil {
		return err
	}
	if !lifecycle.CanEdit(d) {
		return fmt.Errorf("document %s is %s, fields can only change on drafts", d.ID, d.Status)
	}
	all, err := e.Repo.ListFields(ctx, f.DocumentID)
	if err != nil {
		return err
	}
	remaining := all[:0]
	for _, other := range all {
		if other.ID != f.ID {
			remaining = append(remaining, other)
		}
	}
	if errs := fieldeval.ValidateReferences(remaining); len(errs) > 0 {
		return &field.ValidationFailedError{Errors: errs}
	}
	if err := e.Repo.DeleteFieldTx(ctx, tx, fieldID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "field.removed", d.ID, "field", f.ID, actorID, events.EventPayload{"type": f.Type}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	return e.Repo.ListFields(ctx, documentID)
}
