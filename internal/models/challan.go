package models

import "time"

type ChallanStatus string

const (
	ChallanGenerated ChallanStatus = "GENERATED"
	ChallanInTransit ChallanStatus = "IN_TRANSIT"
	ChallanDelivered ChallanStatus = "DELIVERED"
	ChallanCancelled ChallanStatus = "CANCELLED"
)

// Challan is the record of a physical transfer of books from one owner's
// stock to another. It is created atomically with the source stock decrement;
// the destination's stock increment happens once, after DELIVERED, guarded by
// Receipted.
type Challan struct {
	ID uint `gorm:"primaryKey"`
	// ChallanNo: CH/<SOURCE LEVEL>/<DEST OWNER>/<YYYYMMDD>/<SEQ>. The number
	// alone tells an auditor the issuing tier, receiver and date.
	ChallanNo string `gorm:"size:60;not null;uniqueIndex"`
	// ClientRef lets a client retry an issue call after a timeout without
	// producing a second document.
	ClientRef    *string `gorm:"size:64;uniqueIndex"`
	SourceLevel  Level   `gorm:"size:20;not null;index:idx_challans_source"`
	SourceOwner  string  `gorm:"size:20;not null;index:idx_challans_source"`
	DestLevel    Level   `gorm:"size:20;not null;index:idx_challans_dest"`
	DestOwner    string  `gorm:"size:20;not null;index:idx_challans_dest"`
	AcademicYear string  `gorm:"size:10;not null;index"`
	VehicleNo    string  `gorm:"size:30"`
	Agency       string  `gorm:"size:100"`
	Status       ChallanStatus `gorm:"size:15;not null;default:'GENERATED';index"`
	Receipted    bool          `gorm:"not null;default:false"`
	DeliveredAt  *time.Time
	CreatedBy    uint
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Items []ChallanItem `gorm:"foreignKey:ChallanID;constraint:OnDelete:CASCADE"`
}

// ChallanItem is one dispatched book line, tied to the requisition it
// fulfills. Boxes/Packets/Loose are informational packaging counts; when any
// is set they must sum to Quantity.
type ChallanItem struct {
	ID            uint `gorm:"primaryKey"`
	ChallanID     uint `gorm:"index;not null"`
	RequisitionID uint `gorm:"index;not null"`
	Requisition   Requisition
	BookID        uint `gorm:"index;not null"`
	Book          Book
	Quantity      int64 `gorm:"not null"`
	Boxes         int64 `gorm:"not null;default:0"`
	Packets       int64 `gorm:"not null;default:0"`
	Loose         int64 `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChallanSequence backs challan number generation: one row per
// (source, destination, date) scope, bumped inside the issuing transaction so
// two documents issued the same second never collide.
type ChallanSequence struct {
	ID       uint   `gorm:"primaryKey"`
	ScopeKey string `gorm:"size:80;not null;uniqueIndex"`
	LastSeq  int64  `gorm:"not null;default:0"`
}
