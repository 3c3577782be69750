package requisition

import (
	"errors"

	"textbook-backend/internal/models"
)

var (
	// ErrInvalidTransition: the attempted status change is not permitted
	// from the line's current state. The line is left untouched.
	ErrInvalidTransition = errors.New("invalid requisition transition")

	// ErrExceedsPending: a receipt would push received past the requested
	// quantity.
	ErrExceedsPending = errors.New("quantity exceeds pending amount")
)

// Approval gates walk BLOCK -> DISTRICT -> STATE while the line is PENDING.
func nextGate(l models.Level) (models.Level, bool) {
	switch l {
	case models.LevelBlock:
		return models.LevelDistrict, true
	case models.LevelDistrict:
		return models.LevelState, true
	default:
		return "", false
	}
}

func rejectedStatus(by models.Level) (models.RequisitionStatus, bool) {
	switch by {
	case models.LevelBlock:
		return models.ReqRejectedByBlock, true
	case models.LevelDistrict:
		return models.ReqRejectedByDistrict, true
	case models.LevelState:
		return models.ReqRejectedByState, true
	default:
		return "", false
	}
}

func rejectingLevel(s models.RequisitionStatus) (models.Level, bool) {
	switch s {
	case models.ReqRejectedByBlock:
		return models.LevelBlock, true
	case models.ReqRejectedByDistrict:
		return models.LevelDistrict, true
	case models.ReqRejectedByState:
		return models.LevelState, true
	default:
		return "", false
	}
}

// Approve advances the line past one gate. Only the gate the line is waiting
// on may act; the STATE gate yields APPROVED. A rejected line may be
// re-approved by the level that rejected it, reopening it as APPROVED.
// Approving an already APPROVED line is a no-op.
func Approve(r *models.Requisition, by models.Level) error {
	switch r.Status {
	case models.ReqPending:
		if by != r.PendingLevel {
			return ErrInvalidTransition
		}
		if next, ok := nextGate(by); ok {
			r.PendingLevel = next
			return nil
		}
		r.Status = models.ReqApproved
		return nil
	case models.ReqApproved:
		return nil
	case models.ReqRejectedByBlock, models.ReqRejectedByDistrict, models.ReqRejectedByState:
		lvl, _ := rejectingLevel(r.Status)
		if by != lvl {
			return ErrInvalidTransition
		}
		r.Status = models.ReqApproved
		return nil
	default: // COMPLETED
		return ErrInvalidTransition
	}
}

// Reject marks the line rejected by the acting level. Permitted from the
// line's current gate while PENDING, and from APPROVED at any gate (rejecting
// the unfulfilled remainder of a partially dispatched line). Received is
// never rolled back. Rejecting an already identically-rejected line is a
// no-op.
func Reject(r *models.Requisition, by models.Level) error {
	rejected, ok := rejectedStatus(by)
	if !ok {
		return ErrInvalidTransition
	}

	switch r.Status {
	case models.ReqPending:
		if by != r.PendingLevel {
			return ErrInvalidTransition
		}
		r.Status = rejected
		return nil
	case models.ReqApproved:
		r.Status = rejected
		return nil
	case rejected:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// ApplyReceipt records qty copies dispatched against the line and flips it
// to COMPLETED exactly when received reaches the requested quantity. Only an
// APPROVED line accepts receipts.
func ApplyReceipt(r *models.Requisition, qty int64) error {
	if qty <= 0 {
		return ErrInvalidTransition
	}
	if r.Status != models.ReqApproved {
		return ErrInvalidTransition
	}
	if qty > r.Pending() {
		return ErrExceedsPending
	}

	r.Received += qty
	if r.Received == r.Quantity {
		r.Status = models.ReqCompleted
	}
	return nil
}

// IsActive: a line still in play for the school (not fulfilled, not
// rejected).
func IsActive(s models.RequisitionStatus) bool {
	switch s {
	case models.ReqCompleted, models.ReqRejectedByBlock, models.ReqRejectedByDistrict, models.ReqRejectedByState:
		return false
	default:
		return true
	}
}

// IsUrgent: the line is waiting on the viewer's own gate.
func IsUrgent(r *models.Requisition, viewer models.Level) bool {
	return r.Status == models.ReqPending && r.PendingLevel == viewer
}

// ViewLabel derives the display status. PENDING lines are labelled by the
// gate they wait on ("PENDING_BLOCK_APPROVAL" etc); the stored status is
// canonical and never aliased.
func ViewLabel(r *models.Requisition) string {
	if r.Status != models.ReqPending {
		return string(r.Status)
	}
	switch r.PendingLevel {
	case models.LevelDistrict:
		return "PENDING_DISTRICT_APPROVAL"
	case models.LevelState:
		return "PENDING_STATE_APPROVAL"
	default:
		return "PENDING_BLOCK_APPROVAL"
	}
}
