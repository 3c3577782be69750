package models

import "time"

type RequisitionStatus string

const (
	ReqPending            RequisitionStatus = "PENDING"
	ReqApproved           RequisitionStatus = "APPROVED"
	ReqRejectedByBlock    RequisitionStatus = "REJECTED_BY_BLOCK"
	ReqRejectedByDistrict RequisitionStatus = "REJECTED_BY_DISTRICT"
	ReqRejectedByState    RequisitionStatus = "REJECTED_BY_STATE"
	ReqCompleted          RequisitionStatus = "COMPLETED"
)

// Requisition is one book line requested by one school. A user-facing
// "request" is just a set of these sharing a submission; there is no batch id.
//
// Quantity is immutable once the line leaves PENDING. Received only moves
// through the challan issue path and never decreases (challan cancellation is
// the single compensating exception, see challan.Cancel).
type Requisition struct {
	ID           uint   `gorm:"primaryKey"`
	ReqID        string `gorm:"size:40;not null;uniqueIndex"` // client-supplied, retry-safe
	SchoolID     uint   `gorm:"index;not null"`
	School       School
	BookID       uint `gorm:"index;not null"`
	Book         Book
	AcademicYear string            `gorm:"size:10;not null;index"`
	Quantity     int64             `gorm:"not null"`
	Received     int64             `gorm:"not null;default:0"`
	Status       RequisitionStatus `gorm:"size:25;not null;default:'PENDING';index"`
	// PendingLevel is the gate whose approval is awaited while Status is
	// PENDING: BLOCK, then DISTRICT, then STATE.
	PendingLevel   Level  `gorm:"size:20;not null;default:'BLOCK'"`
	BlockRemark    string `gorm:"size:255"`
	DistrictRemark string `gorm:"size:255"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pending is the quantity still owed to the school.
func (r *Requisition) Pending() int64 {
	return r.Quantity - r.Received
}
