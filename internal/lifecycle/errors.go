package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// InvalidTransitionError is returned when a requested status change is not
// permitted from the notification's current status.
type InvalidTransitionError struct {
	NotificationID uint
	Current        string
	Target         string
	Allowed        []string
}

func (e *InvalidTransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf(
		"cannot transition notification %d from %q to %q (allowed: %s)",
		e.NotificationID, e.Current, e.Target, allowed)
}

// ConflictError is returned when a concurrent writer changed the
// notification's status between read and update.
type ConflictError struct {
	NotificationID uint
	Expected       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"notification %d is no longer in status %q; transition lost to a concurrent update",
		e.NotificationID, e.Expected)
}

// EmptyRecipientsError is returned when approval or retry would produce a
// notification with no one to deliver it to.
type EmptyRecipientsError struct {
	NotificationID uint
}

func (e *EmptyRecipientsError) Error() string {
	return fmt.Sprintf("notification %d has no recipients", e.NotificationID)
}

// ChronologyViolationError is returned when a supplied lifecycle timestamp
// is in the future or precedes the previous stage's timestamp.
type ChronologyViolationError struct {
	Field string
	Value time.Time
	Floor time.Time
}

func (e *ChronologyViolationError) Error() string {
	if !e.Floor.IsZero() {
		return fmt.Sprintf(
			"%s timestamp %s precedes previous stage timestamp %s",
			e.Field, e.Value.Format(time.RFC3339), e.Floor.Format(time.RFC3339))
	}
	return fmt.Sprintf(
		"%s timestamp %s is in the future", e.Field, e.Value.Format(time.RFC3339))
}
