package lifecycle

import (
	"errors"
	"testing"
	"time"

	"signflow/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func doc(status string) domain.Document {
	return domain.Document{ID: "doc-1", Status: status, WorkflowType: domain.WorkflowParallel}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.DocumentDraft, domain.DocumentPending, true},
		{domain.DocumentDraft, domain.DocumentScheduled, true},
		{domain.DocumentDraft, domain.DocumentCompleted, false},
		{domain.DocumentScheduled, domain.DocumentPending, true},
		{domain.DocumentScheduled, domain.DocumentDraft, true},
		{domain.DocumentScheduled, domain.DocumentCompleted, false},
		{domain.DocumentPending, domain.DocumentCompleted, true},
		{domain.DocumentPending, domain.DocumentCancelled, true},
		{domain.DocumentPending, domain.DocumentDraft, false},
		{domain.DocumentCompleted, domain.DocumentPending, false},
		{domain.DocumentCancelled, domain.DocumentPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestMarkAsPendingFromTerminalFails(t *testing.T) {
	for _, status := range []string{domain.DocumentCompleted, domain.DocumentCancelled, domain.DocumentPending} {
		_, err := MarkAsPending(doc(status), testNow)
		var ite *IllegalTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("expected IllegalTransitionError from %s, got %v", status, err)
		}
		if ite.From != status || ite.To != domain.DocumentPending {
			t.Fatalf("unexpected error detail: %+v", ite)
		}
	}
}

func TestDraftToPendingToCompleted(t *testing.T) {
	d, err := MarkAsPending(doc(domain.DocumentDraft), testNow)
	if err != nil {
		t.Fatalf("to pending: %v", err)
	}
	d, err = MarkAsCompleted(d, testNow)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if d.CompletedAt == nil || *d.CompletedAt != testNow.Format(time.RFC3339) {
		t.Fatalf("completed_at not set: %+v", d.CompletedAt)
	}
	// completed is terminal
	if _, err := MarkAsPending(d, testNow); err == nil {
		t.Fatalf("expected completed -> pending to fail")
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	sendAt := testNow.Add(48 * time.Hour)
	d, err := MarkAsScheduled(doc(domain.DocumentDraft), sendAt, testNow)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if d.SendAt == nil || *d.SendAt != sendAt.Format(time.RFC3339) {
		t.Fatalf("send_at not recorded: %v", d.SendAt)
	}
	d, err = RevertToDraft(d, testNow)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if d.SendAt != nil {
		t.Fatalf("send_at should be cleared on revert")
	}
	if d.Status != domain.DocumentDraft {
		t.Fatalf("status = %s", d.Status)
	}
}

func TestCanSendRequiresAssignedFields(t *testing.T) {
	d := doc(domain.DocumentDraft)
	signers := []domain.Signer{{ID: "s1", Email: "a@example.com", Status: domain.SignerPending}}
	fields := []domain.Field{{ID: "f1", Type: "signature", SignerEmail: "a@example.com"}}
	if !CanSend(d, signers, fields) {
		t.Fatalf("expected sendable")
	}
	if CanSend(d, nil, fields) {
		t.Fatalf("no signers must not be sendable")
	}
	if CanSend(d, signers, nil) {
		t.Fatalf("no fields must not be sendable")
	}
	fields[0].SignerEmail = ""
	if CanSend(d, signers, fields) {
		t.Fatalf("unassigned field must not be sendable")
	}
	if CanSend(doc(domain.DocumentPending), signers, fields) {
		t.Fatalf("pending must not be sendable")
	}
}

func TestCanCancel(t *testing.T) {
	if !CanCancel(doc(domain.DocumentPending)) || !CanCancel(doc(domain.DocumentScheduled)) {
		t.Fatalf("pending/scheduled should be cancellable")
	}
	for _, status := range []string{domain.DocumentDraft, domain.DocumentCompleted, domain.DocumentCancelled} {
		if CanCancel(doc(status)) {
			t.Fatalf("%s should not be cancellable", status)
		}
	}
}

func TestAllSignersResolved(t *testing.T) {
	signed := domain.Signer{Status: domain.SignerSigned}
	declined := domain.Signer{Status: domain.SignerDeclined}
	pending := domain.Signer{Status: domain.SignerPending}

	if AllSignersResolved(nil) {
		t.Fatalf("empty signer list is not resolved")
	}
	if AllSignersResolved([]domain.Signer{signed, pending}) {
		t.Fatalf("pending signer must block resolution")
	}
	if !AllSignersResolved([]domain.Signer{signed, declined}) {
		t.Fatalf("signed+declined is resolved")
	}
	if !AnyDeclined([]domain.Signer{signed, declined}) {
		t.Fatalf("AnyDeclined should see the decline")
	}
	if AnyDeclined([]domain.Signer{signed}) {
		t.Fatalf("AnyDeclined with no declines")
	}
}
