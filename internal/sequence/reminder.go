package sequence

import (
	"fmt"
	"time"

	"signflow/internal/domain"
)

// Reminder rate limit: at most maxRemindersPerWindow sends per rolling
// window measured from the last send.
const (
	maxRemindersPerWindow = 5
	reminderWindow        = 24 * time.Hour
)

// RateLimitedError reports a blocked reminder resend.
type RateLimitedError struct {
	SignerID   string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("reminder to signer %s rate limited: %s", e.SignerID, e.Reason)
}

// ReminderDecision is the outcome of a rate-limit check.
type ReminderDecision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// CanResendReminder applies the rolling-window rule. Once the window has
// elapsed since the last send the counter is eligible to reset, so the next
// send is always allowed then.
func CanResendReminder(s domain.Signer, now time.Time) ReminderDecision {
	if s.Status != domain.SignerPending {
		return ReminderDecision{Reason: fmt.Sprintf("signer is %s", s.Status)}
	}
	if s.LastReminderSentAt == nil || s.ReminderCount == 0 {
		return ReminderDecision{Allowed: true}
	}
	last, err := time.Parse(time.RFC3339, *s.LastReminderSentAt)
	if err != nil {
		return ReminderDecision{Allowed: true}
	}
	elapsed := now.Sub(last)
	if elapsed >= reminderWindow {
		return ReminderDecision{Allowed: true}
	}
	if s.ReminderCount >= maxRemindersPerWindow {
		return ReminderDecision{
			Reason:     fmt.Sprintf("limit of %d reminders per %s reached", maxRemindersPerWindow, reminderWindow),
			RetryAfter: reminderWindow - elapsed,
		}
	}
	return ReminderDecision{Allowed: true}
}

// RecordReminder bumps the counter after a successful send, resetting it
// first when the previous window has elapsed.
func RecordReminder(s domain.Signer, now time.Time) domain.Signer {
	if s.LastReminderSentAt != nil {
		if last, err := time.Parse(time.RFC3339, *s.LastReminderSentAt); err == nil {
			if now.Sub(last) >= reminderWindow {
				s.ReminderCount = 0
			}
		}
	}
	ts := now.UTC().Format(time.RFC3339)
	s.ReminderCount++
	s.LastReminderSentAt = &ts
	s.UpdatedAt = ts
	return s
}
