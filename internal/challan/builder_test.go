package challan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"textbook-backend/internal/ledger"
	"textbook-backend/internal/models"
	"textbook-backend/internal/requisition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db     *gorm.DB
	school models.School
	bookA  models.Book
	bookB  models.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.District{},
		&models.Block{},
		&models.School{},
		&models.Book{},
		&models.StockEntry{},
		&models.Requisition{},
		&models.Challan{},
		&models.ChallanItem{},
		&models.ChallanSequence{},
	))

	district := models.District{Code: "D045", Name: "North District"}
	require.NoError(t, db.Create(&district).Error)
	block := models.Block{Code: "B12", Name: "Central Block", DistrictID: district.ID}
	require.NoError(t, db.Create(&block).Error)
	school := models.School{UDISE: "U1001", Name: "Govt Primary School", Enrollment: 240, BlockID: block.ID}
	require.NoError(t, db.Create(&school).Error)

	bookA := models.Book{Title: "Mathematics", ClassLevel: 5, AcademicYear: "2026-27", Subject: "Maths"}
	require.NoError(t, db.Create(&bookA).Error)
	bookB := models.Book{Title: "Science", ClassLevel: 5, AcademicYear: "2026-27", Subject: "Science"}
	require.NoError(t, db.Create(&bookB).Error)

	return &fixture{db: db, school: school, bookA: bookA, bookB: bookB}
}

// approvedReq creates a requisition and walks it through all three gates.
func (f *fixture) approvedReq(t *testing.T, reqID string, bookID uint, qty int64) *models.Requisition {
	t.Helper()

	req, _, err := requisition.Create(f.db, requisition.CreateInput{
		ReqID: reqID, SchoolID: f.school.ID, BookID: bookID, Quantity: qty, AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	for _, lvl := range []models.Level{models.LevelBlock, models.LevelDistrict, models.LevelState} {
		_, err := requisition.ApproveTx(f.db, req.ID, lvl)
		require.NoError(t, err)
	}
	return req
}

func (f *fixture) stateStock(t *testing.T, bookID uint, qty int64) {
	t.Helper()
	_, err := ledger.Adjust(f.db, models.LevelState, models.StateOwnerCode, bookID, qty)
	require.NoError(t, err)
}

func (f *fixture) stateIssue(lines []LineInput, clientRef string) (*models.Challan, bool, error) {
	return Issue(f.db, IssueInput{
		ClientRef:    clientRef,
		SourceLevel:  models.LevelState,
		SourceOwner:  models.StateOwnerCode,
		DestLevel:    models.LevelDistrict,
		DestOwner:    "D045",
		AcademicYear: "2026-27",
		Lines:        lines,
	})
}

func TestIssueDecrementsSourceAndRecordsReceipt(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 150)

	doc, created, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 60}}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ChallanGenerated, doc.Status)
	assert.Regexp(t, `^CH/STATE/D045/\d{8}/0001$`, doc.ChallanNo)
	require.Len(t, doc.Items, 1)

	qty, err := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), qty)

	stored, err := requisition.Find(f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stored.Received)
	assert.Equal(t, models.ReqApproved, stored.Status)
}

// The scenario from the distribution playbook: 100 requested, 60 in stock.
// Dispatch 60, fail a dispatch of 50 against the empty pool, replenish 40,
// dispatch the remainder.
func TestPartialFulfilmentThenReplenish(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 60)

	_, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 60}}, "")
	require.NoError(t, err)

	qty, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	assert.Equal(t, int64(0), qty)

	// Second dispatch against the empty pool fails and leaves received alone.
	_, _, err = f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 50}}, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	stored, err := requisition.Find(f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stored.Received)
	assert.Equal(t, models.ReqApproved, stored.Status)

	f.stateStock(t, f.bookA.ID, 40)
	_, _, err = f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 40}}, "")
	require.NoError(t, err)

	stored, err = requisition.Find(f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.Received)
	assert.Equal(t, models.ReqCompleted, stored.Status)
}

// A dispatch that is both over the pool and over the line's pending amount
// fails on the pool: stock is the first precondition the transaction checks.
func TestIssueChecksStockBeforePending(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 60)

	_, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 60}}, "")
	require.NoError(t, err)

	// Pending is 40 and the pool is empty; the pool answers first.
	_, _, err = f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 50}}, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	stored, err := requisition.Find(f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stored.Received)
}

func TestConcurrentIssuesNeverOverdrawPool(t *testing.T) {
	f := newFixture(t)

	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	reqs := make([]*models.Requisition, 5)
	for i := range reqs {
		reqs[i] = f.approvedReq(t, fmt.Sprintf("RQ-%d", i), f.bookA.ID, 60)
	}
	f.stateStock(t, f.bookA.ID, 120) // room for two of the five

	var wg sync.WaitGroup
	var successes int64
	for _, req := range reqs {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, _, err := f.stateIssue([]LineInput{{RequisitionID: id, Quantity: 60}}, "")
			if err == nil {
				atomic.AddInt64(&successes, 1)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
		}(req.ID)
	}
	wg.Wait()

	got := atomic.LoadInt64(&successes)
	assert.Equal(t, int64(2), got)

	qty, err := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)

	// Exactly the successful documents exist, each fully formed.
	var docs []models.Challan
	require.NoError(t, f.db.Preload("Items").Find(&docs).Error)
	require.Len(t, docs, 2)
	var dispatched int64
	for _, d := range docs {
		require.Len(t, d.Items, 1)
		dispatched += d.Items[0].Quantity
	}
	assert.Equal(t, int64(120), dispatched)
}

func TestIssueAllOrNothing(t *testing.T) {
	f := newFixture(t)
	reqA := f.approvedReq(t, "RQ-A", f.bookA.ID, 50)
	reqB := f.approvedReq(t, "RQ-B", f.bookB.ID, 50)
	f.stateStock(t, f.bookA.ID, 100)
	f.stateStock(t, f.bookB.ID, 10) // not enough for the second line

	_, _, err := f.stateIssue([]LineInput{
		{RequisitionID: reqA.ID, Quantity: 50},
		{RequisitionID: reqB.ID, Quantity: 50},
	}, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// No line committed: stock and received are untouched on both.
	qtyA, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	assert.Equal(t, int64(100), qtyA)
	qtyB, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookB.ID)
	assert.Equal(t, int64(10), qtyB)

	for _, id := range []uint{reqA.ID, reqB.ID} {
		stored, err := requisition.Find(f.db, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.Received)
	}

	var docs int64
	f.db.Model(&models.Challan{}).Count(&docs)
	assert.Equal(t, int64(0), docs)
}

func TestIssueRefusesExceedingPending(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 500)

	_, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 101}}, "")
	assert.ErrorIs(t, err, requisition.ErrExceedsPending)

	qty, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	assert.Equal(t, int64(500), qty)
}

func TestIssueRequiresApprovedRequisition(t *testing.T) {
	f := newFixture(t)
	req, _, err := requisition.Create(f.db, requisition.CreateInput{
		ReqID: "RQ-1", SchoolID: f.school.ID, BookID: f.bookA.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	f.stateStock(t, f.bookA.ID, 100)

	_, _, err = f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10}}, "")
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	tests := []struct {
		name    string
		lines   []LineInput
		wantErr error
	}{
		{"no lines", nil, ErrEmptyDocument},
		{"zero quantity", []LineInput{{RequisitionID: req.ID, Quantity: 0}}, ErrBadQuantity},
		{"negative quantity", []LineInput{{RequisitionID: req.ID, Quantity: -5}}, ErrBadQuantity},
		{"packaging mismatch", []LineInput{{RequisitionID: req.ID, Quantity: 10, Boxes: 5, Packets: 4}}, ErrBadPackaging},
		{"negative packaging", []LineInput{{RequisitionID: req.ID, Quantity: 10, Boxes: -1}}, ErrBadPackaging},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.stateIssue(tt.lines, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Packaging that sums is accepted.
	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10, Boxes: 6, Packets: 3, Loose: 1}}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), doc.Items[0].Boxes)
}

func TestIssueValidatesRoute(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	// Destination off the school's chain.
	_, _, err := Issue(f.db, IssueInput{
		SourceLevel: models.LevelState, SourceOwner: models.StateOwnerCode,
		DestLevel: models.LevelDistrict, DestOwner: "D999",
		AcademicYear: "2026-27",
		Lines:        []LineInput{{RequisitionID: req.ID, Quantity: 10}},
	})
	assert.ErrorIs(t, err, ErrBadRoute)

	// Destination not below the source.
	_, _, err = Issue(f.db, IssueInput{
		SourceLevel: models.LevelDistrict, SourceOwner: "D045",
		DestLevel: models.LevelDistrict, DestOwner: "D045",
		AcademicYear: "2026-27",
		Lines:        []LineInput{{RequisitionID: req.ID, Quantity: 10}},
	})
	assert.ErrorIs(t, err, ErrBadRoute)
}

func TestIssueIdempotentOnClientRef(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	first, created, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 30}}, "retry-7f3a")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 30}}, "retry-7f3a")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// The retry decremented nothing.
	qty, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	assert.Equal(t, int64(70), qty)

	stored, _ := requisition.Find(f.db, req.ID)
	assert.Equal(t, int64(30), stored.Received)
}

func TestStatusProgressionAndReceive(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 60}}, "")
	require.NoError(t, err)

	// Receiving before delivery is refused.
	_, err = Receive(f.db, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	doc, err = MarkInTransit(f.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallanInTransit, doc.Status)

	doc, err = MarkDelivered(f.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallanDelivered, doc.Status)
	require.NotNil(t, doc.DeliveredAt)

	doc, err = Receive(f.db, doc.ID)
	require.NoError(t, err)
	assert.True(t, doc.Receipted)

	qty, err := ledger.Get(f.db, models.LevelDistrict, "D045", f.bookA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), qty)

	// A document is stocked in exactly once.
	_, err = Receive(f.db, doc.ID)
	assert.ErrorIs(t, err, ErrAlreadyReceipted)
	qty, _ = ledger.Get(f.db, models.LevelDistrict, "D045", f.bookA.ID)
	assert.Equal(t, int64(60), qty)
}

func TestMarkDeliveredFromGenerated(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10}}, "")
	require.NoError(t, err)

	// Transit is optional; delivery straight from GENERATED is legal.
	doc, err = MarkDelivered(f.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallanDelivered, doc.Status)

	// Going back to transit is not.
	_, err = MarkInTransit(f.db, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelReversesGeneratedOnly(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 50)
	f.stateStock(t, f.bookA.ID, 50)

	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 50}}, "")
	require.NoError(t, err)

	stored, _ := requisition.Find(f.db, req.ID)
	assert.Equal(t, models.ReqCompleted, stored.Status)

	doc, err = Cancel(f.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallanCancelled, doc.Status)

	// Stock back at the source, requisition reopened.
	qty, _ := ledger.Get(f.db, models.LevelState, models.StateOwnerCode, f.bookA.ID)
	assert.Equal(t, int64(50), qty)

	stored, err = requisition.Find(f.db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Received)
	assert.Equal(t, models.ReqApproved, stored.Status)
}

func TestCancelRefusedAfterTransit(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 50)
	f.stateStock(t, f.bookA.ID, 50)

	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 20}}, "")
	require.NoError(t, err)

	_, err = MarkInTransit(f.db, doc.ID)
	require.NoError(t, err)

	_, err = Cancel(f.db, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	stored, _ := requisition.Find(f.db, req.ID)
	assert.Equal(t, int64(20), stored.Received)
}

func TestSequenceCountsPerDestination(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	first, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10}}, "")
	require.NoError(t, err)
	second, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10}}, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.ChallanNo, second.ChallanNo)
	assert.Regexp(t, `/0001$`, first.ChallanNo)
	assert.Regexp(t, `/0002$`, second.ChallanNo)
}

func TestListAndFindByNo(t *testing.T) {
	f := newFixture(t)
	req := f.approvedReq(t, "RQ-1", f.bookA.ID, 100)
	f.stateStock(t, f.bookA.ID, 100)

	doc, _, err := f.stateIssue([]LineInput{{RequisitionID: req.ID, Quantity: 10}}, "")
	require.NoError(t, err)

	got, err := FindByNo(f.db, doc.ChallanNo)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Mathematics", got.Items[0].Book.Title)

	docs, err := List(f.db, ListFilter{DestLevel: models.LevelDistrict, DestOwner: "D045"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = List(f.db, ListFilter{Status: models.ChallanDelivered})
	require.NoError(t, err)
	assert.Empty(t, docs)
}
