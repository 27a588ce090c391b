package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signflow/internal/domain"
	"signflow/internal/events"
	"signflow/internal/lifecycle"
	"signflow/internal/sequence"
)

// SignerOptions are parameters for adding or updating a signer.
type SignerOptions struct {
	Email        string
	Name         string
	SigningOrder *int
	ActorID      string
}

func (e Engine) AddSigner(ctx context.Context, documentID string, opts SignerOptions) (domain.Signer, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		return domain.Signer{}, errors.New("email is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signer{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.Signer{}, err
	}
	if !lifecycle.CanEdit(d) {
		return domain.Signer{}, fmt.Errorf("document %s is %s, signers can only change on drafts", d.ID, d.Status)
	}
	existing, err := e.Repo.ListSigners(ctx, documentID)
	if err != nil {
		return domain.Signer{}, err
	}
	for _, s := range existing {
		if s.Email == email {
			return domain.Signer{}, fmt.Errorf("signer %s already on document", email)
		}
	}
	if d.WorkflowType == domain.WorkflowSingle && len(existing) > 0 {
		return domain.Signer{}, errors.New("single workflow allows exactly one signer")
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Signer{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		Email:        email,
		Name:         opts.Name,
		SigningOrder: opts.SigningOrder,
		Status:       domain.SignerPending,
		AccessToken:  uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := sequence.ValidateOrders(d.WorkflowType, append(existing, s)); err != nil {
		return domain.Signer{}, err
	}
	if err := e.Repo.InsertSignerTx(ctx, tx, s); err != nil {
		return domain.Signer{}, fmt.Errorf("insert signer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "signer.added", d.ID, "signer", s.ID, opts.ActorID, events.EventPayload{"email": s.Email}); err != nil {
		return domain.Signer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signer{}, err
	}
	return s, nil
}

// SignerUpdateOptions carries the editable signer attributes. ClearOrder
// removes an existing signing order.
type SignerUpdateOptions struct {
	Email        *string
	Name         *string
	SigningOrder *int
	ClearOrder   bool
	ActorID      string
}

func (e Engine) UpdateSigner(ctx context.Context, signerID string, opts SignerUpdateOptions) (domain.Signer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signer{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSigner(ctx, signerID)
	if err != nil {
		return domain.Signer{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Signer{}, err
	}
	if !lifecycle.CanEdit(d) {
		return domain.Signer{}, fmt.Errorf("document %s is %s, signers can only change on drafts", d.ID, d.Status)
	}
	oldEmail := s.Email
	if opts.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*opts.Email))
		if email == "" {
			return domain.Signer{}, errors.New("email is required")
		}
		s.Email = email
	}
	if opts.Name != nil {
		s.Name = *opts.Name
	}
	if opts.ClearOrder {
		s.SigningOrder = nil
	} else if opts.SigningOrder != nil {
		s.SigningOrder = opts.SigningOrder
	}
	all, err := e.Repo.ListSigners(ctx, s.DocumentID)
	if err != nil {
		return domain.Signer{}, err
	}
	for i := range all {
		if all[i].ID == s.ID {
			all[i] = s
		} else if all[i].Email == s.Email {
			return domain.Signer{}, fmt.Errorf("signer %s already on document", s.Email)
		}
	}
	if err := sequence.ValidateOrders(d.WorkflowType, all); err != nil {
		return domain.Signer{}, err
	}
	s.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateSignerTx(ctx, tx, s); err != nil {
		return domain.Signer{}, err
	}
	if oldEmail != s.Email {
		if err := e.reassignFields(ctx, tx, d.ID, oldEmail, s.Email); err != nil {
			return domain.Signer{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "signer.updated", d.ID, "signer", s.ID, opts.ActorID, events.EventPayload{"email": s.Email}); err != nil {
		return domain.Signer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signer{}, err
	}
	return s, nil
}

func (e Engine) RemoveSigner(ctx context.Context, signerID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSigner(ctx, signerID)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return err
	}
	if !lifecycle.CanEdit(d) {
		return fmt.Errorf("document %s is %s, signers can only change on drafts", d.ID, d.Status)
	}
	if err := e.Repo.DeleteSignerTx(ctx, tx, signerID); err != nil {
		return err
	}
	if err := e.reassignFields(ctx, tx, d.ID, s.Email, ""); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "signer.removed", d.ID, "signer", s.ID, actorID, events.EventPayload{"email": s.Email}); err != nil {
		return err
	}
	return tx.Commit()
}

// reassignFields repoints fields from one signer email to another. An empty
// target leaves the fields unassigned.
func (e Engine) reassignFields(ctx context.Context, tx *sql.Tx, documentID, from, to string) error {
	now := e.now().UTC().Format(time.RFC3339)
	var target any
	if to != "" {
		target = to
	}
	_, err := tx.ExecContext(ctx, `UPDATE fields SET signer_email=?, updated_at=? WHERE document_id=? AND signer_email=?`,
		target, now, documentID, from)
	return err
}

func (e Engine) ListSigners(ctx context.Context, documentID string) ([]domain.Signer, error) {
	return e.Repo.ListSigners(ctx, documentID)
}

// ResetSigner returns a resolved signer to pending so they can act again.
// Only pending documents can have signers reset.
func (e Engine) ResetSigner(ctx context.Context, signerID, actorID string) (domain.Signer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signer{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSigner(ctx, signerID)
	if err != nil {
		return domain.Signer{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Signer{}, err
	}
	if d.Status != domain.DocumentPending {
		return domain.Signer{}, fmt.Errorf("document %s is %s, signers can only be reset while pending", d.ID, d.Status)
	}
	if s.Status == domain.SignerPending {
		return domain.Signer{}, &sequence.InvalidSignerStateError{SignerID: s.ID, Status: s.Status}
	}
	s = sequence.ResetToPending(s, e.now())
	if err := e.Repo.UpdateSignerTx(ctx, tx, s); err != nil {
		return domain.Signer{}, err
	}
	if err := e.Events.Append(ctx, tx, "signer.reset", d.ID, "signer", s.ID, actorID, events.EventPayload{"email": s.Email}); err != nil {
		return domain.Signer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signer{}, err
	}
	return s, nil
}

// RemindSigner records a reminder send for a pending signer, applying the
// rolling rate limit.
func (e Engine) RemindSigner(ctx context.Context, signerID, actorID string) (domain.Signer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signer{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSigner(ctx, signerID)
	if err != nil {
		return domain.Signer{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Signer{}, err
	}
	if d.Status != domain.DocumentPending {
		return domain.Signer{}, fmt.Errorf("document %s is %s, reminders only apply while pending", d.ID, d.Status)
	}
	now := e.now()
	decision := sequence.CanResendReminder(s, now)
	if !decision.Allowed {
		return domain.Signer{}, &sequence.RateLimitedError{SignerID: s.ID, Reason: decision.Reason, RetryAfter: decision.RetryAfter}
	}
	s = sequence.RecordReminder(s, now)
	if err := e.Repo.UpdateSignerTx(ctx, tx, s); err != nil {
		return domain.Signer{}, err
	}
	if err := e.Events.Append(ctx, tx, "signer.reminded", d.ID, "signer", s.ID, actorID, events.EventPayload{
		"email": s.Email, "reminder_count": s.ReminderCount,
	}); err != nil {
		return domain.Signer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signer{}, err
	}
	return s, nil
}
