// Package lifecycle drives prepared notifications through their delivery
// states. Transitions are compare-and-swap updates against the stored
// status, so two operators racing on the same message cannot both win.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/pkg/journal"
	"github.com/jsenecal/netbox-notices/pkg/messaging"
	"github.com/jsenecal/netbox-notices/pkg/models"
)

// journalSeverities maps the status a message arrives in to the severity of
// the journal entry recording the transition.
var journalSeverities = map[string]journal.Severity{
	models.StatusReady:     journal.SeverityInfo,
	models.StatusSent:      journal.SeverityInfo,
	models.StatusDelivered: journal.SeveritySuccess,
	models.StatusFailed:    journal.SeverityWarning,
}

// StateMachine applies lifecycle transitions to prepared notifications.
type StateMachine struct {
	db      *gorm.DB
	dir     messaging.Directory
	journal journal.Sink
	log     hclog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewStateMachine(
	db *gorm.DB,
	dir messaging.Directory,
	sink journal.Sink,
	log hclog.Logger,
) *StateMachine {
	if sink == nil {
		sink = journal.NopSink{}
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &StateMachine{
		db:      db,
		dir:     dir,
		journal: sink,
		log:     log.Named("lifecycle"),
		now:     time.Now,
	}
}

// Approve moves a draft to ready. The recipient snapshot is resolved from
// the draft's contact selection at this instant and frozen; later changes
// to contact assignments do not affect an approved message. A non-empty
// note is appended to the journal entry.
func (m *StateMachine) Approve(
	ctx context.Context, id uint, note, actor string,
) (*models.PreparedNotification, error) {
	var n models.PreparedNotification
	if err := n.Get(m.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	if err := m.checkTransition(&n, models.StatusReady); err != nil {
		return nil, err
	}

	recipients, err := m.snapshotRecipients(ctx, &n)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, &EmptyRecipientsError{NotificationID: n.ID}
	}

	now := m.now()
	ok, err := n.UpdateStatusCAS(
		m.db.WithContext(ctx), models.StatusDraft, models.StatusReady,
		map[string]any{
			"recipients":  models.RecipientList(recipients),
			"approved_by": actor,
			"approved_at": &now,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{NotificationID: n.ID, Expected: models.StatusDraft}
	}
	n.Recipients = recipients
	n.ApprovedBy = actor
	n.ApprovedAt = &now

	m.journalTransition(ctx, &n, models.StatusReady,
		appendNote(fmt.Sprintf("Notification approved with %d recipient(s)", len(recipients)), note),
		actor)
	return &n, nil
}

// MarkSent moves a ready message to sent. A nil timestamp means now; a
// supplied timestamp must not be in the future and must not precede
// approval.
func (m *StateMachine) MarkSent(
	ctx context.Context, id uint, at *time.Time, note, actor string,
) (*models.PreparedNotification, error) {
	var n models.PreparedNotification
	if err := n.Get(m.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	if err := m.checkTransition(&n, models.StatusSent); err != nil {
		return nil, err
	}

	ts, err := m.resolveTimestamp("sent", at, n.ApprovedAt)
	if err != nil {
		return nil, err
	}

	ok, err := n.UpdateStatusCAS(
		m.db.WithContext(ctx), models.StatusReady, models.StatusSent,
		map[string]any{"sent_at": &ts})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{NotificationID: n.ID, Expected: models.StatusReady}
	}
	n.SentAt = &ts

	m.journalTransition(ctx, &n, models.StatusSent,
		appendNote("Notification sent", note), actor)
	return &n, nil
}

// MarkDelivered moves a sent message to delivered, its terminal state.
func (m *StateMachine) MarkDelivered(
	ctx context.Context, id uint, at *time.Time, note, actor string,
) (*models.PreparedNotification, error) {
	var n models.PreparedNotification
	if err := n.Get(m.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	if err := m.checkTransition(&n, models.StatusDelivered); err != nil {
		return nil, err
	}

	ts, err := m.resolveTimestamp("delivered", at, n.SentAt)
	if err != nil {
		return nil, err
	}

	ok, err := n.UpdateStatusCAS(
		m.db.WithContext(ctx), models.StatusSent, models.StatusDelivered,
		map[string]any{"delivered_at": &ts})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{NotificationID: n.ID, Expected: models.StatusSent}
	}
	n.DeliveredAt = &ts

	m.journalTransition(ctx, &n, models.StatusDelivered,
		appendNote("Notification delivery confirmed", note), actor)
	return &n, nil
}

// MarkFailed records a delivery failure on a sent message.
func (m *StateMachine) MarkFailed(
	ctx context.Context, id uint, reason, actor string,
) (*models.PreparedNotification, error) {
	var n models.PreparedNotification
	if err := n.Get(m.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	if err := m.checkTransition(&n, models.StatusFailed); err != nil {
		return nil, err
	}

	ok, err := n.UpdateStatusCAS(
		m.db.WithContext(ctx), models.StatusSent, models.StatusFailed, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{NotificationID: n.ID, Expected: models.StatusSent}
	}

	m.journalTransition(ctx, &n, models.StatusFailed,
		appendNote("Notification delivery failed", reason), actor)
	return &n, nil
}

// Retry returns a failed message to ready for another delivery attempt. The
// recipient snapshot from the original approval is kept; retries re-send to
// whoever the message was approved for.
func (m *StateMachine) Retry(
	ctx context.Context, id uint, note, actor string,
) (*models.PreparedNotification, error) {
	var n models.PreparedNotification
	if err := n.Get(m.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	if err := m.checkTransition(&n, models.StatusReady); err != nil {
		return nil, err
	}
	if len(n.Recipients) == 0 {
		return nil, &EmptyRecipientsError{NotificationID: n.ID}
	}

	ok, err := n.UpdateStatusCAS(
		m.db.WithContext(ctx), models.StatusFailed, models.StatusReady,
		map[string]any{"sent_at": nil})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{NotificationID: n.ID, Expected: models.StatusFailed}
	}
	n.SentAt = nil

	m.log.Info("notification queued for retry", "id", n.ID, "actor", actor)
	m.journalTransition(ctx, &n, models.StatusReady,
		appendNote("Notification queued for retry", note), actor)
	return &n, nil
}

// Transition dispatches a named target status to the matching operation,
// used by the HTTP status endpoint. The note, when non-empty, is carried
// into the journal entry recording the transition; for failed it doubles
// as the failure reason.
func (m *StateMachine) Transition(
	ctx context.Context, id uint, target string, at *time.Time, note, actor string,
) (*models.PreparedNotification, error) {
	switch target {
	case models.StatusReady:
		var n models.PreparedNotification
		if err := n.Get(m.db.WithContext(ctx), id); err != nil {
			return nil, err
		}
		if n.Status == models.StatusFailed {
			return m.Retry(ctx, id, note, actor)
		}
		return m.Approve(ctx, id, note, actor)
	case models.StatusSent:
		return m.MarkSent(ctx, id, at, note, actor)
	case models.StatusDelivered:
		return m.MarkDelivered(ctx, id, at, note, actor)
	case models.StatusFailed:
		return m.MarkFailed(ctx, id, note, actor)
	default:
		return nil, fmt.Errorf("unknown status %q", target)
	}
}

func (m *StateMachine) checkTransition(n *models.PreparedNotification, target string) error {
	allowed := models.AllowedTransitions[n.Status]
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return &InvalidTransitionError{
		NotificationID: n.ID,
		Current:        n.Status,
		Target:         target,
		Allowed:        allowed,
	}
}

// appendNote suffixes an operator-supplied note onto a journal text.
func appendNote(text, note string) string {
	if note == "" {
		return text
	}
	return text + ": " + note
}

// resolveTimestamp validates an optional caller-supplied timestamp against
// the previous stage's timestamp and the current time.
func (m *StateMachine) resolveTimestamp(
	field string, at, floor *time.Time,
) (time.Time, error) {
	now := m.now()
	if at == nil {
		return now, nil
	}
	ts := *at
	if ts.After(now) {
		return time.Time{}, &ChronologyViolationError{Field: field, Value: ts}
	}
	if floor != nil && ts.Before(*floor) {
		return time.Time{}, &ChronologyViolationError{Field: field, Value: ts, Floor: *floor}
	}
	return ts, nil
}

// snapshotRecipients resolves the draft's contact selection to concrete
// recipients, dropping inactive assignments and duplicate contacts.
func (m *StateMachine) snapshotRecipients(
	ctx context.Context, n *models.PreparedNotification,
) ([]messaging.Recipient, error) {
	var out []messaging.Recipient
	seen := make(map[int64]bool)
	for _, contactID := range n.ContactSelection {
		if seen[contactID] {
			continue
		}
		seen[contactID] = true

		contact, err := m.dir.Contact(ctx, contactID)
		if err != nil {
			return nil, fmt.Errorf("error resolving contact %d: %w", contactID, err)
		}
		if contact == nil {
			m.log.Warn("contact in selection no longer exists",
				"notification", n.ID, "contact", contactID)
			continue
		}
		if contact.Priority == messaging.PriorityInactive || contact.Email == "" {
			continue
		}
		out = append(out, messaging.Recipient{
			Email:     contact.Email,
			Name:      contact.Name,
			ContactID: contact.ContactID,
		})
	}
	return out, nil
}

// journalTransition records the transition after it has committed. Journal
// failures are logged, not returned; the state change already happened.
func (m *StateMachine) journalTransition(
	ctx context.Context, n *models.PreparedNotification, target, text, actor string,
) {
	severity, ok := journalSeverities[target]
	if !ok {
		severity = journal.SeverityInfo
	}
	entry := journal.Entry{
		SubjectRef: fmt.Sprintf("notification:%d", n.ID),
		Severity:   severity,
		Text:       text,
		Actor:      actor,
		Timestamp:  m.now(),
	}
	if err := m.journal.Append(ctx, entry); err != nil {
		m.log.Error("failed to append journal entry",
			"notification", n.ID, "status", target, "error", err)
	}
}
