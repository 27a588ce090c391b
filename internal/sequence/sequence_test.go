package sequence

import (
	"errors"
	"testing"
	"time"

	"signflow/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func order(n int) *int { return &n }

func seqSigners(statuses ...string) []domain.Signer {
	signers := make([]domain.Signer, len(statuses))
	for i, st := range statuses {
		signers[i] = domain.Signer{
			ID:           string(rune('a' + i)),
			Email:        string(rune('a'+i)) + "@example.com",
			SigningOrder: order(i),
			Status:       st,
		}
	}
	return signers
}

func TestCanSignSequential(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		target   int
		want     bool
	}{
		{"first pending", []string{domain.SignerPending, domain.SignerPending, domain.SignerPending}, 0, true},
		{"second blocked", []string{domain.SignerPending, domain.SignerPending, domain.SignerPending}, 1, false},
		{"second unblocked", []string{domain.SignerSigned, domain.SignerPending, domain.SignerPending}, 1, true},
		{"third needs both", []string{domain.SignerSigned, domain.SignerPending, domain.SignerPending}, 2, false},
		{"third unblocked", []string{domain.SignerSigned, domain.SignerSigned, domain.SignerPending}, 2, true},
		{"decline does not unblock", []string{domain.SignerDeclined, domain.SignerPending, domain.SignerPending}, 1, false},
		{"already signed", []string{domain.SignerSigned, domain.SignerSigned, domain.SignerPending}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signers := seqSigners(tc.statuses...)
			if got := CanSign(signers[tc.target], signers); got != tc.want {
				t.Fatalf("CanSign = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanSignParallelIgnoresOthers(t *testing.T) {
	// Parallel: no orders. The target's eligibility must not depend on the
	// other signers' statuses in any combination.
	statuses := []string{domain.SignerPending, domain.SignerSigned, domain.SignerDeclined}
	for _, a := range statuses {
		for _, b := range statuses {
			signers := []domain.Signer{
				{ID: "t", Status: domain.SignerPending},
				{ID: "x", Status: a},
				{ID: "y", Status: b},
			}
			if !CanSign(signers[0], signers) {
				t.Fatalf("pending parallel signer blocked by (%s,%s)", a, b)
			}
		}
	}
	if CanSign(domain.Signer{ID: "t", Status: domain.SignerSigned}, nil) {
		t.Fatalf("resolved signer must never sign again")
	}
}

func TestBlockerNamesLowestUnresolved(t *testing.T) {
	signers := seqSigners(domain.SignerPending, domain.SignerPending, domain.SignerPending)
	if got := Blocker(signers[2], signers); got != "a@example.com" {
		t.Fatalf("Blocker = %q", got)
	}
	signers[0].Status = domain.SignerSigned
	if got := Blocker(signers[2], signers); got != "b@example.com" {
		t.Fatalf("Blocker after first signed = %q", got)
	}
	if got := Blocker(signers[0], signers); got != "" {
		t.Fatalf("first signer has no blocker, got %q", got)
	}
}

func TestValidateOrders(t *testing.T) {
	seq := seqSigners(domain.SignerPending, domain.SignerPending)
	if err := ValidateOrders(domain.WorkflowSequential, seq); err != nil {
		t.Fatalf("valid sequential rejected: %v", err)
	}
	dup := seqSigners(domain.SignerPending, domain.SignerPending)
	dup[1].SigningOrder = order(0)
	if err := ValidateOrders(domain.WorkflowSequential, dup); err == nil {
		t.Fatalf("duplicate order accepted")
	}
	missing := seqSigners(domain.SignerPending, domain.SignerPending)
	missing[1].SigningOrder = nil
	if err := ValidateOrders(domain.WorkflowSequential, missing); err == nil {
		t.Fatalf("missing order accepted")
	}
	parallel := []domain.Signer{{Email: "a@example.com", Status: domain.SignerPending}}
	if err := ValidateOrders(domain.WorkflowParallel, parallel); err != nil {
		t.Fatalf("valid parallel rejected: %v", err)
	}
	parallel[0].SigningOrder = order(1)
	if err := ValidateOrders(domain.WorkflowParallel, parallel); err == nil {
		t.Fatalf("stray order in parallel workflow accepted")
	}
}

func TestMarkAsSignedIsMonotonic(t *testing.T) {
	s := domain.Signer{ID: "s1", Status: domain.SignerPending}
	signed, err := MarkAsSigned(s, Origin{IP: "203.0.113.9", UserAgent: "ua"}, testNow)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if signed.SignedAt == nil || signed.OriginIP == nil || *signed.OriginIP != "203.0.113.9" {
		t.Fatalf("signing metadata missing: %+v", signed)
	}
	_, err = MarkAsSigned(signed, Origin{}, testNow)
	var ise *InvalidSignerStateError
	if !errors.As(err, &ise) {
		t.Fatalf("double sign must fail with InvalidSignerState, got %v", err)
	}
	_, err = MarkAsDeclined(signed, "no", testNow)
	if !errors.As(err, &ise) {
		t.Fatalf("decline after sign must fail, got %v", err)
	}
}

func TestResetToPendingClearsMetadata(t *testing.T) {
	s := domain.Signer{ID: "s1", Status: domain.SignerPending}
	signed, _ := MarkAsSigned(s, Origin{IP: "203.0.113.9"}, testNow)
	reset := ResetToPending(signed, testNow)
	if reset.Status != domain.SignerPending || reset.SignedAt != nil || reset.OriginIP != nil {
		t.Fatalf("reset did not clear metadata: %+v", reset)
	}
	if _, err := MarkAsSigned(reset, Origin{}, testNow); err != nil {
		t.Fatalf("re-sign after reset: %v", err)
	}
}

func TestReminderRateLimit(t *testing.T) {
	s := domain.Signer{ID: "s1", Status: domain.SignerPending}
	now := testNow
	for i := 0; i < 5; i++ {
		d := CanResendReminder(s, now)
		if !d.Allowed {
			t.Fatalf("send %d blocked: %s", i+1, d.Reason)
		}
		s = RecordReminder(s, now)
		now = now.Add(time.Hour)
	}
	if s.ReminderCount != 5 {
		t.Fatalf("count = %d", s.ReminderCount)
	}
	d := CanResendReminder(s, now)
	if d.Allowed {
		t.Fatalf("sixth reminder inside window allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > reminderWindow {
		t.Fatalf("retry-after out of range: %s", d.RetryAfter)
	}
	// after the window elapses the counter resets on the next send
	later := now.Add(reminderWindow)
	d = CanResendReminder(s, later)
	if !d.Allowed {
		t.Fatalf("reminder after window blocked: %s", d.Reason)
	}
	s = RecordReminder(s, later)
	if s.ReminderCount != 1 {
		t.Fatalf("counter not reset, got %d", s.ReminderCount)
	}
}

func TestReminderBlockedForResolvedSigner(t *testing.T) {
	s := domain.Signer{ID: "s1", Status: domain.SignerSigned}
	if d := CanResendReminder(s, testNow); d.Allowed {
		t.Fatalf("resolved signer should not be reminded")
	}
}
