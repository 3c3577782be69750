package challan

import (
	"errors"
	"fmt"
	"time"

	"textbook-backend/internal/ledger"
	"textbook-backend/internal/models"
	"textbook-backend/internal/requisition"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("challan not found")

	// ErrInvalidStatus: the attempted document status change is not permitted
	// from its current status. The document is left untouched.
	ErrInvalidStatus = errors.New("invalid challan status change")

	// ErrAlreadyReceipted guards the destination increment: a document is
	// stocked in exactly once.
	ErrAlreadyReceipted = errors.New("challan already receipted")

	ErrEmptyDocument = errors.New("challan needs at least one line")

	ErrBadQuantity = errors.New("line quantity must be greater than zero")

	// ErrBadPackaging: boxes/packets/loose are set but do not sum to the
	// dispatched quantity.
	ErrBadPackaging = errors.New("packaging counts do not sum to quantity")

	// ErrBadRoute: the destination is not below the source on the
	// requisitioning school's chain.
	ErrBadRoute = errors.New("destination is not reachable from source")

	ErrNotApproved = errors.New("requisition is not approved for dispatch")
)

type LineInput struct {
	RequisitionID uint  `json:"requisition_id"`
	Quantity      int64 `json:"quantity"`
	Boxes         int64 `json:"boxes"`
	Packets       int64 `json:"packets"`
	Loose         int64 `json:"loose"`
}

type IssueInput struct {
	ClientRef    string
	SourceLevel  models.Level
	SourceOwner  string
	DestLevel    models.Level
	DestOwner    string
	AcademicYear string
	VehicleNo    string
	Agency       string
	CreatedBy    uint
	Lines        []LineInput
}

func levelRank(l models.Level) int {
	switch l {
	case models.LevelState:
		return 0
	case models.LevelDistrict:
		return 1
	case models.LevelBlock:
		return 2
	default:
		return 3
	}
}

// chain is the school-to-state path of codes for one node.
type chain struct {
	district string
	block    string
	udise    string
}

func (ch chain) owns(level models.Level, owner string) bool {
	switch level {
	case models.LevelState:
		return true
	case models.LevelDistrict:
		return ch.district == owner
	case models.LevelBlock:
		return ch.block == owner
	case models.LevelSchool:
		return ch.udise == owner
	}
	return false
}

func schoolChain(db *gorm.DB, schoolID uint) (chain, error) {
	var school models.School
	if err := db.Preload("Block.District").First(&school, "id = ?", schoolID).Error; err != nil {
		return chain{}, err
	}
	return chain{
		district: school.Block.District.Code,
		block:    school.Block.Code,
		udise:    school.UDISE,
	}, nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return ErrEmptyDocument
	}
	for _, l := range lines {
		if l.RequisitionID == 0 {
			return fmt.Errorf("%w: missing requisition id", ErrEmptyDocument)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: requisition %d", ErrBadQuantity, l.RequisitionID)
		}
		if l.Boxes < 0 || l.Packets < 0 || l.Loose < 0 {
			return ErrBadPackaging
		}
		if l.Boxes+l.Packets+l.Loose > 0 && l.Boxes+l.Packets+l.Loose != l.Quantity {
			return ErrBadPackaging
		}
	}
	return nil
}

// Issue builds one dispatch document. All lines commit or none do: the first
// line that fails stock or pending checks rolls the whole document back,
// including every earlier line's stock decrement and received increment.
// Retries with the same ClientRef return the existing document; the bool
// reports whether a new one was written.
func Issue(db *gorm.DB, in IssueInput) (*models.Challan, bool, error) {
	if err := validateLines(in.Lines); err != nil {
		return nil, false, err
	}
	if levelRank(in.SourceLevel) >= levelRank(in.DestLevel) {
		return nil, false, ErrBadRoute
	}

	if in.ClientRef != "" {
		existing, err := findByClientRef(db, in.ClientRef)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	now := time.Now()
	var doc *models.Challan

	err := db.Transaction(func(tx *gorm.DB) error {
		items := make([]models.ChallanItem, 0, len(in.Lines))

		for _, line := range in.Lines {
			req, err := requisition.Find(tx, line.RequisitionID)
			if errors.Is(err, requisition.ErrNotFound) {
				return fmt.Errorf("%w: requisition %d", ErrNotFound, line.RequisitionID)
			}
			if err != nil {
				return err
			}
			if req.Status != models.ReqApproved {
				return fmt.Errorf("%w: requisition %s is %s", ErrNotApproved, req.ReqID, req.Status)
			}

			// The school's chain decides routing; destination names are
			// never matched by string.
			ch, err := schoolChain(tx, req.SchoolID)
			if err != nil {
				return err
			}
			if !ch.owns(in.DestLevel, in.DestOwner) || !ch.owns(in.SourceLevel, in.SourceOwner) {
				return fmt.Errorf("%w: requisition %s", ErrBadRoute, req.ReqID)
			}

			// Source stock goes first; a short pool aborts the document
			// before any receipt is recorded.
			if _, err := ledger.Adjust(tx, in.SourceLevel, in.SourceOwner, req.BookID, -line.Quantity); err != nil {
				if errors.Is(err, ledger.ErrInsufficientStock) {
					return fmt.Errorf("%w: book %d at %s %s", ledger.ErrInsufficientStock, req.BookID, in.SourceLevel, in.SourceOwner)
				}
				return err
			}

			// Pending is re-derived here, inside the transaction; the
			// client's planning snapshot is never trusted.
			if _, err := requisition.ReceiveTx(tx, req.ID, line.Quantity); err != nil {
				if errors.Is(err, requisition.ErrExceedsPending) {
					return fmt.Errorf("%w: requisition %s", requisition.ErrExceedsPending, req.ReqID)
				}
				return err
			}

			items = append(items, models.ChallanItem{
				RequisitionID: req.ID,
				BookID:        req.BookID,
				Quantity:      line.Quantity,
				Boxes:         line.Boxes,
				Packets:       line.Packets,
				Loose:         line.Loose,
			})
		}

		seq, err := NextSequence(tx, ScopeKey(in.SourceLevel, in.DestOwner, now))
		if err != nil {
			return err
		}

		c := models.Challan{
			ChallanNo:    FormatChallanNo(in.SourceLevel, in.DestOwner, now, seq),
			SourceLevel:  in.SourceLevel,
			SourceOwner:  in.SourceOwner,
			DestLevel:    in.DestLevel,
			DestOwner:    in.DestOwner,
			AcademicYear: in.AcademicYear,
			VehicleNo:    in.VehicleNo,
			Agency:       in.Agency,
			Status:       models.ChallanGenerated,
			CreatedBy:    in.CreatedBy,
			Items:        items,
		}
		if in.ClientRef != "" {
			ref := in.ClientRef
			c.ClientRef = &ref
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}

		doc = &c
		return nil
	})
	if err != nil {
		// A concurrent retry with the same ClientRef may have won the unique
		// index race; the earlier document stands.
		if in.ClientRef != "" {
			if existing, ferr := findByClientRef(db, in.ClientRef); ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return doc, true, nil
}

// MarkInTransit moves GENERATED to IN_TRANSIT.
func MarkInTransit(db *gorm.DB, id uint) (*models.Challan, error) {
	return setStatus(db, id, models.ChallanInTransit, []models.ChallanStatus{models.ChallanGenerated}, nil)
}

// MarkDelivered records physical receipt at the destination. Only DELIVERED
// documents may later back the destination's stock increment.
func MarkDelivered(db *gorm.DB, id uint) (*models.Challan, error) {
	now := time.Now()
	return setStatus(db, id, models.ChallanDelivered,
		[]models.ChallanStatus{models.ChallanGenerated, models.ChallanInTransit},
		map[string]interface{}{"delivered_at": now})
}

func setStatus(db *gorm.DB, id uint, to models.ChallanStatus, from []models.ChallanStatus, extra map[string]interface{}) (*models.Challan, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := db.Model(&models.Challan{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		c, err := Find(db, id)
		if err != nil {
			return nil, err
		}
		if c.Status == to {
			// Idempotent repeat of the same marking.
			return c, nil
		}
		return nil, ErrInvalidStatus
	}
	return Find(db, id)
}

// Receive stocks the document into the destination pool. Requires DELIVERED;
// the Receipted guard makes a second call a hard error rather than a double
// count.
func Receive(db *gorm.DB, id uint) (*models.Challan, error) {
	var doc *models.Challan

	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := Find(tx, id)
		if err != nil {
			return err
		}
		if c.Receipted {
			return ErrAlreadyReceipted
		}
		if c.Status != models.ChallanDelivered {
			return ErrInvalidStatus
		}

		res := tx.Model(&models.Challan{}).
			Where("id = ? AND status = ? AND receipted = ?", id, models.ChallanDelivered, false).
			Update("receipted", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReceipted
		}

		for _, item := range c.Items {
			if _, err := ledger.Adjust(tx, c.DestLevel, c.DestOwner, item.BookID, item.Quantity); err != nil {
				return err
			}
		}

		doc = c
		doc.Receipted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Cancel voids a document that never left the source. Stock returns to the
// source pool and each line's received rolls back, reopening COMPLETED
// requisitions as APPROVED. Anything past GENERATED cannot be cancelled.
func Cancel(db *gorm.DB, id uint) (*models.Challan, error) {
	var doc *models.Challan

	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := Find(tx, id)
		if err != nil {
			return err
		}
		if c.Status == models.ChallanCancelled {
			doc = c
			return nil
		}
		if c.Status != models.ChallanGenerated {
			return ErrInvalidStatus
		}

		res := tx.Model(&models.Challan{}).
			Where("id = ? AND status = ?", id, models.ChallanGenerated).
			Update("status", models.ChallanCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidStatus
		}

		for _, item := range c.Items {
			if _, err := ledger.Adjust(tx, c.SourceLevel, c.SourceOwner, item.BookID, item.Quantity); err != nil {
				return err
			}
			if _, err := requisition.RollbackReceiptTx(tx, item.RequisitionID, item.Quantity); err != nil {
				return err
			}
		}

		doc = c
		doc.Status = models.ChallanCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Find loads one document with its lines.
func Find(db *gorm.DB, id uint) (*models.Challan, error) {
	var c models.Challan
	err := db.Preload("Items.Book").First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByNo loads one document by its challan number.
func FindByNo(db *gorm.DB, challanNo string) (*models.Challan, error) {
	var c models.Challan
	err := db.Preload("Items.Book").First(&c, "challan_no = ?", challanNo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func findByClientRef(db *gorm.DB, ref string) (*models.Challan, error) {
	var c models.Challan
	err := db.Preload("Items.Book").First(&c, "client_ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type ListFilter struct {
	SourceLevel  models.Level
	SourceOwner  string
	DestLevel    models.Level
	DestOwner    string
	Status       models.ChallanStatus
	AcademicYear string
}

// List returns documents matching a filter; empty fields are ignored.
func List(db *gorm.DB, f ListFilter) ([]models.Challan, error) {
	q := db.Model(&models.Challan{}).Preload("Items.Book")
	if f.SourceLevel != "" {
		q = q.Where("source_level = ?", f.SourceLevel)
	}
	if f.SourceOwner != "" {
		q = q.Where("source_owner = ?", f.SourceOwner)
	}
	if f.DestLevel != "" {
		q = q.Where("dest_level = ?", f.DestLevel)
	}
	if f.DestOwner != "" {
		q = q.Where("dest_owner = ?", f.DestOwner)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AcademicYear != "" {
		q = q.Where("academic_year = ?", f.AcademicYear)
	}

	var docs []models.Challan
	if err := q.Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}
