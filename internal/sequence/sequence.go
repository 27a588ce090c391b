// Package sequence decides which signer may act and when a signer may be
// re-notified. Like the state machine, everything here is a pure function
// over domain values.
package sequence

import (
	"fmt"
	"time"

	"signflow/internal/domain"
)

// InvalidSignerStateError reports a sign/decline attempt on a signer that is
// not currently pending.
type InvalidSignerStateError struct {
	SignerID string
	Status   string
}

func (e *InvalidSignerStateError) Error() string {
	return fmt.Sprintf("signer %s is %s, not pending", e.SignerID, e.Status)
}

// NotYourTurnError reports a sequential-workflow sign attempt before all
// predecessors have signed.
type NotYourTurnError struct {
	SignerID string
	Blocking string
}

func (e *NotYourTurnError) Error() string {
	return fmt.Sprintf("signer %s must wait for %s to sign", e.SignerID, e.Blocking)
}

// Origin carries signing metadata recorded when a signer resolves.
type Origin struct {
	IP        string
	UserAgent string
}

// CanSign reports whether the target signer may act now. Signers without a
// signing order (single or parallel workflows) may sign whenever they are
// pending. Ordered signers additionally wait for every lower order to be
// signed; declines do not unblock later signers.
func CanSign(target domain.Signer, all []domain.Signer) bool {
	if target.Status != domain.SignerPending {
		return false
	}
	if target.SigningOrder == nil {
		return true
	}
	for _, s := range all {
		if s.ID == target.ID || s.SigningOrder == nil {
			continue
		}
		if *s.SigningOrder < *target.SigningOrder && s.Status != domain.SignerSigned {
			return false
		}
	}
	return true
}

// Blocker returns the first unresolved predecessor of an ordered signer, for
// error reporting. Empty when nothing blocks.
func Blocker(target domain.Signer, all []domain.Signer) string {
	if target.SigningOrder == nil {
		return ""
	}
	var blocking *domain.Signer
	for i, s := range all {
		if s.ID == target.ID || s.SigningOrder == nil || s.Status == domain.SignerSigned {
			continue
		}
		if *s.SigningOrder >= *target.SigningOrder {
			continue
		}
		if blocking == nil || *s.SigningOrder < *blocking.SigningOrder {
			blocking = &all[i]
		}
	}
	if blocking == nil {
		return ""
	}
	return blocking.Email
}

// ValidateOrders checks the signing-order invariant at construction time:
// sequential workflows need a unique non-nil order on every signer, other
// workflows need none at all.
func ValidateOrders(workflowType string, signers []domain.Signer) error {
	if workflowType == domain.WorkflowSequential {
		seen := map[int]string{}
		for _, s := range signers {
			if s.SigningOrder == nil {
				return fmt.Errorf("signer %s missing signing_order in sequential workflow", s.Email)
			}
			if *s.SigningOrder < 0 {
				return fmt.Errorf("signer %s has negative signing_order", s.Email)
			}
			if other, dup := seen[*s.SigningOrder]; dup {
				return fmt.Errorf("signing_order %d duplicated by %s and %s", *s.SigningOrder, other, s.Email)
			}
			seen[*s.SigningOrder] = s.Email
		}
		return nil
	}
	for _, s := range signers {
		if s.SigningOrder != nil {
			return fmt.Errorf("signer %s has signing_order in %s workflow", s.Email, workflowType)
		}
	}
	return nil
}

// MarkAsSigned resolves a pending signer as signed, recording origin
// metadata. The caller is responsible for checking CanSign first; this only
// enforces the pending precondition.
func MarkAsSigned(s domain.Signer, origin Origin, now time.Time) (domain.Signer, error) {
	if s.Status != domain.SignerPending {
		return s, &InvalidSignerStateError{SignerID: s.ID, Status: s.Status}
	}
	ts := now.UTC().Format(time.RFC3339)
	s.Status = domain.SignerSigned
	s.SignedAt = &ts
	if origin.IP != "" {
		ip := origin.IP
		s.OriginIP = &ip
	}
	if origin.UserAgent != "" {
		ua := origin.UserAgent
		s.OriginUserAgent = &ua
	}
	s.UpdatedAt = ts
	return s, nil
}

// MarkAsDeclined resolves a pending signer as declined.
func MarkAsDeclined(s domain.Signer, reason string, now time.Time) (domain.Signer, error) {
	if s.Status != domain.SignerPending {
		return s, &InvalidSignerStateError{SignerID: s.ID, Status: s.Status}
	}
	ts := now.UTC().Format(time.RFC3339)
	s.Status = domain.SignerDeclined
	if reason != "" {
		r := reason
		s.DeclineReason = &r
	}
	s.UpdatedAt = ts
	return s, nil
}

// ResetToPending is the administrative escape hatch: it returns a resolved
// signer to pending and clears signing metadata. Not part of normal flow.
func ResetToPending(s domain.Signer, now time.Time) domain.Signer {
	s.Status = domain.SignerPending
	s.SignedAt = nil
	s.DeclineReason = nil
	s.OriginIP = nil
	s.OriginUserAgent = nil
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
	return s
}
