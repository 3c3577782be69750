package requisition

import (
	"errors"
	"strings"

	"textbook-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrConflict: the row changed under the caller between read and write.
// Safe to retry.
var ErrConflict = errors.New("concurrent requisition update, retry")

var ErrNotFound = errors.New("requisition not found")

type CreateInput struct {
	ReqID        string
	SchoolID     uint
	BookID       uint
	Quantity     int64
	AcademicYear string
}

// Create opens a requisition line. Retries with the same ReqID return the
// existing line instead of a duplicate; the bool reports whether a new row
// was written.
func Create(db *gorm.DB, in CreateInput) (*models.Requisition, bool, error) {
	if in.ReqID == "" {
		// Clients normally supply their own id for retry safety; fall back
		// to a server-generated one.
		in.ReqID = "RQ-" + strings.ToUpper(uuid.New().String()[:8])
	}

	var existing models.Requisition
	err := db.Preload("Book").Preload("School").
		Where("req_id = ?", in.ReqID).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	req := models.Requisition{
		ReqID:        in.ReqID,
		SchoolID:     in.SchoolID,
		BookID:       in.BookID,
		AcademicYear: in.AcademicYear,
		Quantity:     in.Quantity,
		Status:       models.ReqPending,
		PendingLevel: models.LevelBlock,
	}
	if err := db.Create(&req).Error; err != nil {
		// Lost a create race on the unique req_id; the earlier writer wins.
		var raced models.Requisition
		if ferr := db.Preload("Book").Preload("School").
			Where("req_id = ?", in.ReqID).First(&raced).Error; ferr == nil {
			return &raced, false, nil
		}
		return nil, false, err
	}

	return &req, true, nil
}

// applyTransition loads the line, runs mutate on it and writes it back with
// an optimistic guard on (status, pending_level, received). A concurrent
// writer makes the guard miss and the caller gets ErrConflict.
func applyTransition(db *gorm.DB, id uint, mutate func(*models.Requisition) error) (*models.Requisition, error) {
	var result *models.Requisition

	err := db.Transaction(func(tx *gorm.DB) error {
		var req models.Requisition
		if err := tx.First(&req, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		oldStatus := req.Status
		oldPending := req.PendingLevel
		oldReceived := req.Received

		if err := mutate(&req); err != nil {
			return err
		}

		if req.Status == oldStatus && req.PendingLevel == oldPending && req.Received == oldReceived {
			// No-op transition (idempotent approve/reject).
			result = &req
			return nil
		}

		res := tx.Model(&models.Requisition{}).
			Where("id = ? AND status = ? AND pending_level = ? AND received = ?",
				id, oldStatus, oldPending, oldReceived).
			Updates(map[string]interface{}{
				"status":        req.Status,
				"pending_level": req.PendingLevel,
				"received":      req.Received,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		result = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveTx runs one gate approval atomically.
func ApproveTx(db *gorm.DB, id uint, by models.Level) (*models.Requisition, error) {
	return applyTransition(db, id, func(r *models.Requisition) error {
		return Approve(r, by)
	})
}

// RejectTx runs one gate rejection and its remark in a single transaction:
// a rejection never lands without the remark that was given with it. Only
// block and district keep remark columns; a state remark is dropped.
func RejectTx(db *gorm.DB, id uint, by models.Level, remark string) (*models.Requisition, error) {
	var result *models.Requisition

	err := db.Transaction(func(tx *gorm.DB) error {
		req, err := applyTransition(tx, id, func(r *models.Requisition) error {
			return Reject(r, by)
		})
		if err != nil {
			return err
		}
		if remark != "" && (by == models.LevelBlock || by == models.LevelDistrict) {
			if _, err := SetRemark(tx, id, by, remark); err != nil {
				return err
			}
			if req, err = Find(tx, id); err != nil {
				return err
			}
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReceiveTx records qty copies dispatched against the line, flipping it to
// COMPLETED when fully satisfied. Called from the challan issue transaction.
func ReceiveTx(db *gorm.DB, id uint, qty int64) (*models.Requisition, error) {
	return applyTransition(db, id, func(r *models.Requisition) error {
		return ApplyReceipt(r, qty)
	})
}

// RollbackReceiptTx reverses a previously recorded receipt. This is the one
// place received ever decreases; only challan cancellation calls it.
func RollbackReceiptTx(db *gorm.DB, id uint, qty int64) (*models.Requisition, error) {
	return applyTransition(db, id, func(r *models.Requisition) error {
		if qty <= 0 || qty > r.Received {
			return ErrInvalidTransition
		}
		r.Received -= qty
		if r.Status == models.ReqCompleted {
			r.Status = models.ReqApproved
		}
		return nil
	})
}

// SetRemark saves the block or district remark. Saving an identical remark
// is a no-op; the bool reports whether anything changed. Remarks never touch
// status.
func SetRemark(db *gorm.DB, id uint, by models.Level, remark string) (bool, error) {
	var req models.Requisition
	if err := db.First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}

	var column string
	var current string
	switch by {
	case models.LevelBlock:
		column, current = "block_remark", req.BlockRemark
	case models.LevelDistrict:
		column, current = "district_remark", req.DistrictRemark
	default:
		return false, ErrInvalidTransition
	}

	if current == remark {
		return false, nil
	}

	if err := db.Model(&models.Requisition{}).
		Where("id = ?", id).
		Update(column, remark).Error; err != nil {
		return false, err
	}
	return true, nil
}

// Find loads one line with its book and school.
func Find(db *gorm.DB, id uint) (*models.Requisition, error) {
	var req models.Requisition
	err := db.Preload("Book").Preload("School").First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListActiveBySchool: the school's lines still in play (not COMPLETED, not
// rejected).
func ListActiveBySchool(db *gorm.DB, schoolID uint) ([]models.Requisition, error) {
	var reqs []models.Requisition
	err := db.Preload("Book").
		Where("school_id = ?", schoolID).
		Where("status NOT IN ?", []models.RequisitionStatus{
			models.ReqCompleted,
			models.ReqRejectedByBlock,
			models.ReqRejectedByDistrict,
			models.ReqRejectedByState,
		}).
		Order("created_at DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}
