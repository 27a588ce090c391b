// Package lifecycle is the document state machine. Every function is pure:
// it reads a domain value and returns an updated copy or a typed error,
// leaving persistence and side effects to the caller.
package lifecycle

import (
	"fmt"
	"time"

	"signflow/internal/domain"
)

// IllegalTransitionError reports a status change the table does not permit.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal document transition %s -> %s", e.From, e.To)
}

var transitions = map[string][]string{
	domain.DocumentDraft:     {domain.DocumentScheduled, domain.DocumentPending},
	domain.DocumentScheduled: {domain.DocumentPending, domain.DocumentDraft},
	domain.DocumentPending:   {domain.DocumentCompleted, domain.DocumentCancelled},
	domain.DocumentCompleted: nil,
	domain.DocumentCancelled: nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to string) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// CanEdit reports whether signers and fields may still be changed.
func CanEdit(doc domain.Document) bool {
	return doc.Status == domain.DocumentDraft
}

// CanSend reports whether the document may move to pending. Field assignment
// completeness is checked separately by the field validator before sending.
func CanSend(doc domain.Document, signers []domain.Signer, fields []domain.Field) bool {
	if doc.Status != domain.DocumentDraft && doc.Status != domain.DocumentScheduled {
		return false
	}
	if len(signers) == 0 || len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if f.SignerEmail == "" {
			return false
		}
	}
	return true
}

// CanCancel is true while the document is pending or scheduled.
func CanCancel(doc domain.Document) bool {
	return doc.Status == domain.DocumentPending || doc.Status == domain.DocumentScheduled
}

// MarkAsPending moves a draft or scheduled document into pending.
func MarkAsPending(doc domain.Document, now time.Time) (domain.Document, error) {
	if err := ensureTransition(doc.Status, domain.DocumentPending); err != nil {
		return doc, err
	}
	doc.Status = domain.DocumentPending
	doc.SendAt = nil
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return doc, nil
}

// MarkAsScheduled moves a draft into scheduled with a send time.
func MarkAsScheduled(doc domain.Document, sendAt, now time.Time) (domain.Document, error) {
	if err := ensureTransition(doc.Status, domain.DocumentScheduled); err != nil {
		return doc, err
	}
	at := sendAt.UTC().Format(time.RFC3339)
	doc.Status = domain.DocumentScheduled
	doc.SendAt = &at
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return doc, nil
}

// RevertToDraft cancels a schedule and clears the send time.
func RevertToDraft(doc domain.Document, now time.Time) (domain.Document, error) {
	if err := ensureTransition(doc.Status, domain.DocumentDraft); err != nil {
		return doc, err
	}
	doc.Status = domain.DocumentDraft
	doc.SendAt = nil
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return doc, nil
}

// MarkAsCompleted sets the terminal completed status and completion time.
func MarkAsCompleted(doc domain.Document, now time.Time) (domain.Document, error) {
	if err := ensureTransition(doc.Status, domain.DocumentCompleted); err != nil {
		return doc, err
	}
	ts := now.UTC().Format(time.RFC3339)
	doc.Status = domain.DocumentCompleted
	doc.CompletedAt = &ts
	doc.UpdatedAt = ts
	return doc, nil
}

// MarkAsCancelled sets the terminal cancelled status.
func MarkAsCancelled(doc domain.Document, now time.Time) (domain.Document, error) {
	if err := ensureTransition(doc.Status, domain.DocumentCancelled); err != nil {
		return doc, err
	}
	doc.Status = domain.DocumentCancelled
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return doc, nil
}

// AllSignersResolved reports whether no signer is still pending. The caller
// evaluates this after each signer action; the state machine does not poll.
func AllSignersResolved(signers []domain.Signer) bool {
	for _, s := range signers {
		if s.Status == domain.SignerPending {
			return false
		}
	}
	return len(signers) > 0
}

// AnyDeclined reports whether at least one signer declined.
func AnyDeclined(signers []domain.Signer) bool {
	for _, s := range signers {
		if s.Status == domain.SignerDeclined {
			return true
		}
	}
	return false
}
