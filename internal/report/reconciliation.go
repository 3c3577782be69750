package report

import (
	"sort"

	"textbook-backend/internal/models"

	"gorm.io/gorm"
)

// Row is one book's rollup inside a scope.
type Row struct {
	BookID        uint    `json:"book_id"`
	BookTitle     string  `json:"book_title"`
	ClassLevel    int     `json:"class_level"`
	Requirement   int64   `json:"requirement"`   // requested, rejected lines excluded
	Dispatched    int64   `json:"dispatched"`    // copies sent toward the scope's schools
	Received      int64   `json:"received"`      // copies receipted into the scope's own pool
	ClosingStock  int64   `json:"closing_stock"` // the scope's pool right now
	FulfilmentPct float64 `json:"fulfilment_pct"`
}

// Summary is the reconciliation rollup for one hierarchy node. Purely derived;
// building it mutates nothing and it can be recomputed at any time.
type Summary struct {
	Level        models.Level `json:"level"`
	OwnerCode    string       `json:"owner_code"`
	AcademicYear string       `json:"academic_year"`
	SchoolCount  int64        `json:"school_count"`
	Enrollment   int64        `json:"enrollment"`
	Rows         []Row        `json:"rows"`

	TotalRequirement int64   `json:"total_requirement"`
	TotalDispatched  int64   `json:"total_dispatched"`
	TotalReceived    int64   `json:"total_received"`
	FulfilmentPct    float64 `json:"fulfilment_pct"`
}

// pct guards the zero denominator: no requisitions means 0%, never NaN.
func pct(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// schoolScope returns a query selecting the ids of schools under the node.
func schoolScope(db *gorm.DB, level models.Level, owner string) *gorm.DB {
	q := db.Model(&models.School{}).Select("schools.id")
	switch level {
	case models.LevelSchool:
		return q.Where("schools.udise = ?", owner)
	case models.LevelBlock:
		return q.Joins("JOIN blocks ON blocks.id = schools.block_id").
			Where("blocks.code = ?", owner)
	case models.LevelDistrict:
		return q.Joins("JOIN blocks ON blocks.id = schools.block_id").
			Joins("JOIN districts ON districts.id = blocks.district_id").
			Where("districts.code = ?", owner)
	default:
		return q
	}
}

type bookAgg struct {
	BookID    uint
	Quantity  int64
	ReceivedQ int64
}

// Build computes the rollup for one node. Requirement and dispatched come from
// the requisitions of the schools below the node; received and closing stock
// come from the node's own pool.
func Build(db *gorm.DB, level models.Level, owner string, academicYear string) (*Summary, error) {
	s := &Summary{
		Level:        level,
		OwnerCode:    owner,
		AcademicYear: academicYear,
		Rows:         []Row{},
	}

	scope := schoolScope(db, level, owner)

	type schoolAgg struct {
		Count      int64
		Enrollment int64
	}
	var sa schoolAgg
	if err := db.Model(&models.School{}).
		Select("COUNT(*) AS count, COALESCE(SUM(enrollment), 0) AS enrollment").
		Where("id IN (?)", scope).
		Scan(&sa).Error; err != nil {
		return nil, err
	}
	s.SchoolCount = sa.Count
	s.Enrollment = sa.Enrollment

	rows := map[uint]*Row{}
	touch := func(bookID uint) *Row {
		if r, ok := rows[bookID]; ok {
			return r
		}
		r := &Row{BookID: bookID}
		rows[bookID] = r
		return r
	}

	// Requirement and dispatched per book. Rejected lines drop out of the
	// requirement; their already-dispatched copies still count.
	var reqAggs []bookAgg
	if err := db.Model(&models.Requisition{}).
		Select("book_id, COALESCE(SUM(quantity), 0) AS quantity, COALESCE(SUM(received), 0) AS received_q").
		Where("school_id IN (?)", schoolScope(db, level, owner)).
		Where("academic_year = ?", academicYear).
		Where("status NOT IN ?", []models.RequisitionStatus{
			models.ReqRejectedByBlock,
			models.ReqRejectedByDistrict,
			models.ReqRejectedByState,
		}).
		Group("book_id").
		Scan(&reqAggs).Error; err != nil {
		return nil, err
	}
	for _, a := range reqAggs {
		r := touch(a.BookID)
		r.Requirement = a.Quantity
		r.Dispatched = a.ReceivedQ
	}

	var rejAggs []bookAgg
	if err := db.Model(&models.Requisition{}).
		Select("book_id, COALESCE(SUM(received), 0) AS received_q").
		Where("school_id IN (?)", schoolScope(db, level, owner)).
		Where("academic_year = ?", academicYear).
		Where("status IN ?", []models.RequisitionStatus{
			models.ReqRejectedByBlock,
			models.ReqRejectedByDistrict,
			models.ReqRejectedByState,
		}).
		Group("book_id").
		Scan(&rejAggs).Error; err != nil {
		return nil, err
	}
	for _, a := range rejAggs {
		touch(a.BookID).Dispatched += a.ReceivedQ
	}

	// Copies receipted into this node's own pool.
	type recvAgg struct {
		BookID   uint
		Quantity int64
	}
	var recvAggs []recvAgg
	if err := db.Model(&models.ChallanItem{}).
		Select("challan_items.book_id, COALESCE(SUM(challan_items.quantity), 0) AS quantity").
		Joins("JOIN challans ON challans.id = challan_items.challan_id").
		Where("challans.dest_level = ? AND challans.dest_owner = ?", level, owner).
		Where("challans.receipted = ?", true).
		Where("challans.academic_year = ?", academicYear).
		Group("challan_items.book_id").
		Scan(&recvAggs).Error; err != nil {
		return nil, err
	}
	for _, a := range recvAggs {
		touch(a.BookID).Received = a.Quantity
	}

	var stocks []models.StockEntry
	if err := db.Where("level = ? AND owner_code = ?", level, owner).
		Find(&stocks).Error; err != nil {
		return nil, err
	}
	for _, st := range stocks {
		touch(st.BookID).ClosingStock = st.Quantity
	}

	bookIDs := make([]uint, 0, len(rows))
	for id := range rows {
		bookIDs = append(bookIDs, id)
	}
	if len(bookIDs) > 0 {
		var books []models.Book
		if err := db.Where("id IN ?", bookIDs).Find(&books).Error; err != nil {
			return nil, err
		}
		byID := make(map[uint]models.Book, len(books))
		for _, b := range books {
			byID[b.ID] = b
		}
		for id, r := range rows {
			if b, ok := byID[id]; ok {
				r.BookTitle = b.Title
				r.ClassLevel = b.ClassLevel
			}
		}
	}

	for _, r := range rows {
		r.FulfilmentPct = pct(r.Dispatched, r.Requirement)
		s.TotalRequirement += r.Requirement
		s.TotalDispatched += r.Dispatched
		s.TotalReceived += r.Received
		s.Rows = append(s.Rows, *r)
	}
	s.FulfilmentPct = pct(s.TotalDispatched, s.TotalRequirement)

	sort.Slice(s.Rows, func(i, j int) bool {
		if s.Rows[i].ClassLevel != s.Rows[j].ClassLevel {
			return s.Rows[i].ClassLevel < s.Rows[j].ClassLevel
		}
		return s.Rows[i].BookTitle < s.Rows[j].BookTitle
	})

	return s, nil
}
