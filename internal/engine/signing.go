package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"signflow/internal/domain"
	"signflow/internal/events"
	"signflow/internal/field"
	"signflow/internal/fieldeval"
	"signflow/internal/lifecycle"
	"signflow/internal/sequence"
)

// SignerSession is the token-resolved view a signer works with: their own
// record plus the document aggregate, with other signers' tokens never
// exposed.
type SignerSession struct {
	Signer    domain.Signer
	Aggregate domain.Aggregate
}

// ResolveToken loads the session for a signer access token.
func (e Engine) ResolveToken(ctx context.Context, token string) (SignerSession, error) {
	s, err := e.Repo.GetSignerByToken(ctx, token)
	if err != nil {
		return SignerSession{}, err
	}
	agg, err := e.Repo.LoadAggregate(ctx, s.DocumentID)
	if err != nil {
		return SignerSession{}, err
	}
	return SignerSession{Signer: s, Aggregate: agg}, nil
}

// SubmitValues stores a signer's field values and recomputes calculated
// fields. Only the signer whose turn it is may write, and only to fields
// assigned to them.
func (e Engine) SubmitValues(ctx context.Context, token string, values map[string]string) (domain.Aggregate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Aggregate{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSignerByToken(ctx, token)
	if err != nil {
		return domain.Aggregate{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if d.Status != domain.DocumentPending {
		return domain.Aggregate{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentPending}
	}
	signers, err := e.Repo.ListSigners(ctx, d.ID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if s.Status != domain.SignerPending {
		return domain.Aggregate{}, &sequence.InvalidSignerStateError{SignerID: s.ID, Status: s.Status}
	}
	if !sequence.CanSign(s, signers) {
		return domain.Aggregate{}, &sequence.NotYourTurnError{SignerID: s.ID, Blocking: sequence.Blocker(s, signers)}
	}
	fields, err := e.Repo.ListFields(ctx, d.ID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	byID := make(map[string]domain.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	var errs []string
	for fieldID, value := range values {
		f, ok := byID[fieldID]
		if !ok {
			errs = append(errs, fmt.Sprintf("field %s not on document", fieldID))
			continue
		}
		if f.SignerEmail != s.Email {
			errs = append(errs, fmt.Sprintf("field %s is not assigned to you", fieldID))
			continue
		}
		if f.Calculation != nil {
			errs = append(errs, fmt.Sprintf("field %s is calculated and cannot be written", fieldID))
			continue
		}
		for _, msg := range valueErrors(f, value) {
			errs = append(errs, fmt.Sprintf("field %s: %s", fieldID, msg))
		}
	}
	if len(errs) > 0 {
		return domain.Aggregate{}, &field.ValidationFailedError{Errors: errs}
	}
	now := e.now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, len(values))
	for fieldID, value := range values {
		ids = append(ids, fieldID)
		if err := e.Repo.UpsertValueTx(ctx, tx, domain.FieldValue{
			DocumentID: d.ID,
			FieldID:    fieldID,
			Value:      value,
			UpdatedBy:  s.Email,
			UpdatedAt:  now,
		}); err != nil {
			return domain.Aggregate{}, err
		}
	}
	sort.Strings(ids)
	if err := e.recomputeTx(ctx, tx, d.ID, fields); err != nil {
		return domain.Aggregate{}, err
	}
	if err := e.Events.Append(ctx, tx, "values.submitted", d.ID, "signer", s.ID, s.Email, events.EventPayload{"fields": ids}); err != nil {
		return domain.Aggregate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Aggregate{}, err
	}
	return e.Repo.LoadAggregate(ctx, d.ID)
}

// recomputeTx reevaluates every calculated field in dependency order over the
// current value snapshot. Hidden calculated fields still compute so that
// downstream formulas see a consistent snapshot.
func (e Engine) recomputeTx(ctx context.Context, tx *sql.Tx, documentID string, fields []domain.Field) error {
	calcs, err := fieldeval.CalculatedInOrder(fields)
	if err != nil {
		return err
	}
	if len(calcs) == 0 {
		return nil
	}
	stored, err := e.listValuesTx(ctx, tx, documentID)
	if err != nil {
		return err
	}
	snap := fieldeval.Snapshot{}
	for _, v := range stored {
		snap[v.FieldID] = v.Value
	}
	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	for _, f := range calcs {
		out, err := fieldeval.Evaluate(f, snap, now)
		if err != nil {
			return err
		}
		snap[f.ID] = out
		if err := e.Repo.UpsertValueTx(ctx, tx, domain.FieldValue{
			DocumentID: documentID,
			FieldID:    f.ID,
			Value:      out,
			UpdatedAt:  ts,
		}); err != nil {
			return err
		}
	}
	return nil
}

// listValuesTx reads values inside the transaction so a recompute sees the
// writes that precede it.
func (e Engine) listValuesTx(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.FieldValue, error) {
	rows, err := tx.QueryContext(ctx, `SELECT document_id,field_id,value,updated_by,updated_at FROM field_values WHERE document_id=?`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FieldValue
	for rows.Next() {
		var v domain.FieldValue
		var updatedBy sql.NullString
		if err := rows.Scan(&v.DocumentID, &v.FieldID, &v.Value, &updatedBy, &v.UpdatedAt); err != nil {
			return nil, err
		}
		if updatedBy.Valid {
			v.UpdatedBy = updatedBy.String
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// valueErrors checks one submitted value against its field's type rules.
// Empty values are allowed at submit time; required-field enforcement
// happens at completion.
func valueErrors(f domain.Field, value string) []string {
	if value == "" {
		return nil
	}
	var errs []string
	switch f.Type {
	case field.TypeDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			errs = append(errs, "date must be YYYY-MM-DD")
		}
	case field.TypeRadio, field.TypeDropdown:
		if f.Properties == nil || !optionValue(f.Properties.Options, value) {
			errs = append(errs, fmt.Sprintf("%q is not one of the configured options", value))
		}
	case field.TypeText, field.TypeTextarea:
		if f.Properties != nil {
			if f.Properties.MaxLength != nil && len(value) > *f.Properties.MaxLength {
				errs = append(errs, fmt.Sprintf("value exceeds maxLength %d", *f.Properties.MaxLength))
			}
			if f.Properties.Validation != nil {
				if ok, msg := field.MatchPreset(*f.Properties.Validation, value); !ok {
					errs = append(errs, msg)
				}
			}
		}
	}
	return errs
}

func optionValue(options []domain.FieldOption, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// SignDocument records a signer's completion. Every required field assigned
// to the signer and visible under the current values must be filled. When the
// last signer resolves and nobody declined, the document completes.
func (e Engine) SignDocument(ctx context.Context, token string, origin sequence.Origin) (domain.Aggregate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Aggregate{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSignerByToken(ctx, token)
	if err != nil {
		return domain.Aggregate{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if d.Status != domain.DocumentPending {
		return domain.Aggregate{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentCompleted}
	}
	signers, err := e.Repo.ListSigners(ctx, d.ID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if s.Status != domain.SignerPending {
		return domain.Aggregate{}, &sequence.InvalidSignerStateError{SignerID: s.ID, Status: s.Status}
	}
	if !sequence.CanSign(s, signers) {
		return domain.Aggregate{}, &sequence.NotYourTurnError{SignerID: s.ID, Blocking: sequence.Blocker(s, signers)}
	}
	fields, err := e.Repo.ListFields(ctx, d.ID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	stored, err := e.listValuesTx(ctx, tx, d.ID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	snap := fieldeval.Snapshot{}
	for _, v := range stored {
		snap[v.FieldID] = v.Value
	}
	var missing []string
	for _, f := range fields {
		if f.SignerEmail != s.Email || !f.Required || f.Calculation != nil {
			continue
		}
		if !fieldeval.IsVisible(f, snap) {
			continue
		}
		if snap[f.ID] == "" {
			missing = append(missing, fmt.Sprintf("required field %s (%s) has no value", f.ID, f.Type))
		}
	}
	if len(missing) > 0 {
		return domain.Aggregate{}, &field.ValidationFailedError{Errors: missing}
	}
	now := e.now()
	s, err = sequence.MarkAsSigned(s, origin, now)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if err := e.Repo.UpdateSignerTx(ctx, tx, s); err != nil {
		return domain.Aggregate{}, err
	}
	if err := e.Events.Append(ctx, tx, "signer.signed", d.ID, "signer", s.ID, s.Email, events.EventPayload{"email": s.Email}); err != nil {
		return domain.Aggregate{}, err
	}
	for i := range signers {
		if signers[i].ID == s.ID {
			signers[i] = s
		}
	}
	if lifecycle.AllSignersResolved(signers) && !lifecycle.AnyDeclined(signers) {
		d, err = lifecycle.MarkAsCompleted(d, now)
		if err != nil {
			return domain.Aggregate{}, err
		}
		if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
			return domain.Aggregate{}, err
		}
		if err := e.Events.Append(ctx, tx, "document.completed", d.ID, "document", d.ID, s.Email, nil); err != nil {
			return domain.Aggregate{}, err
		}
	} else {
		// unblock notifications for newly eligible ordered signers
		for _, next := range signers {
			if next.ID == s.ID || !sequence.CanSign(next, signers) {
				continue
			}
			if next.SigningOrder == nil || s.SigningOrder == nil || *next.SigningOrder <= *s.SigningOrder {
				continue
			}
			if err := e.Events.Append(ctx, tx, "signer.invited", d.ID, "signer", next.ID, s.Email, events.EventPayload{"email": next.Email}); err != nil {
				return domain.Aggregate{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Aggregate{}, err
	}
	return e.Repo.LoadAggregate(ctx, d.ID)
}

// DeclineDocument records a signer's refusal. The document stays pending so
// the owner decides whether to reset the signer or cancel outright.
func (e Engine) DeclineDocument(ctx context.Context, token, reason string) (domain.Aggregate, error) {
	if reason == "" {
		return domain.Aggregate{}, errors.New("decline reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Aggregate{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSignerByToken(ctx, token)
	if err != nil {
		return domain.Aggregate{}, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, s.DocumentID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	if d.Status != domain.DocumentPending {
		return domain.Aggregate{}, &lifecycle.IllegalTransitionError{From: d.Status, To: domain.DocumentCancelled}
	}
	s, err = sequence.MarkAsDeclined(s, reason, e.now())
	if err != nil {
		return domain.Aggregate{}, err
	}
	if err := e.Repo.UpdateSignerTx(ctx, tx, s); err != nil {
		return domain.Aggregate{}, err
	}
	if err := e.Events.Append(ctx, tx, "signer.declined", d.ID, "signer", s.ID, s.Email, events.EventPayload{
		"email": s.Email, "reason": reason,
	}); err != nil {
		return domain.Aggregate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Aggregate{}, err
	}
	return e.Repo.LoadAggregate(ctx, d.ID)
}
