package requisition

import (
	"fmt"
	"testing"

	"textbook-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
		&models.Requisition{},
	))
	return db
}

func seedSchoolAndBook(t *testing.T, db *gorm.DB) (models.School, models.Book) {
	t.Helper()

	district := models.District{Code: "D045", Name: "North District"}
	require.NoError(t, db.Create(&district).Error)
	block := models.Block{Code: "B12", Name: "Central Block", DistrictID: district.ID}
	require.NoError(t, db.Create(&block).Error)
	school := models.School{UDISE: "U1001", Name: "Govt Primary School", Enrollment: 240, BlockID: block.ID}
	require.NoError(t, db.Create(&school).Error)

	book := models.Book{Title: "Mathematics", ClassLevel: 5, AcademicYear: "2026-27", Subject: "Maths"}
	require.NoError(t, db.Create(&book).Error)

	return school, book
}

func TestCreateIsIdempotentOnReqID(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	in := CreateInput{
		ReqID:        "RQ-2026-0001",
		SchoolID:     school.ID,
		BookID:       book.ID,
		Quantity:     100,
		AcademicYear: "2026-27",
	}

	first, created, err := Create(db, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ReqPending, first.Status)
	assert.Equal(t, models.LevelBlock, first.PendingLevel)

	second, created, err := Create(db, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	db.Model(&models.Requisition{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateGeneratesFallbackReqID(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, created, err := Create(db, CreateInput{
		SchoolID:     school.ID,
		BookID:       book.ID,
		Quantity:     40,
		AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, `^RQ-[0-9A-F]{8}$`, req.ReqID)
}

func TestApproveTxWalksGatesPersistently(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)

	_, err = ApproveTx(db, req.ID, models.LevelBlock)
	require.NoError(t, err)
	_, err = ApproveTx(db, req.ID, models.LevelDistrict)
	require.NoError(t, err)
	got, err := ApproveTx(db, req.ID, models.LevelState)
	require.NoError(t, err)
	assert.Equal(t, models.ReqApproved, got.Status)

	stored, err := Find(db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReqApproved, stored.Status)
}

func TestApproveTxWrongGateLeavesRowUnchanged(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)

	_, err = ApproveTx(db, req.ID, models.LevelState)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := Find(db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReqPending, stored.Status)
	assert.Equal(t, models.LevelBlock, stored.PendingLevel)
}

func TestRejectTxRecordsRemark(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)

	got, err := RejectTx(db, req.ID, models.LevelBlock, "enrollment figures look stale")
	require.NoError(t, err)
	assert.Equal(t, models.ReqRejectedByBlock, got.Status)
	assert.Equal(t, "enrollment figures look stale", got.BlockRemark)
}

func TestRejectTxAtStateDropsRemark(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	approveFully(t, db, req.ID)

	// State keeps no remark column; the rejection still goes through.
	got, err := RejectTx(db, req.ID, models.LevelState, "budget exhausted")
	require.NoError(t, err)
	assert.Equal(t, models.ReqRejectedByState, got.Status)
	assert.Empty(t, got.BlockRemark)
	assert.Empty(t, got.DistrictRemark)
}

func TestSetRemarkIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)

	changed, err := SetRemark(db, req.ID, models.LevelBlock, "verified against enrollment")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = SetRemark(db, req.ID, models.LevelBlock, "verified against enrollment")
	require.NoError(t, err)
	assert.False(t, changed)

	// Remarks never touch status.
	stored, err := Find(db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReqPending, stored.Status)

	changed, err = SetRemark(db, req.ID, models.LevelDistrict, "forwarded")
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err = Find(db, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "verified against enrollment", stored.BlockRemark)
	assert.Equal(t, "forwarded", stored.DistrictRemark)
}

func TestSetRemarkRejectsOtherLevels(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)

	_, err = SetRemark(db, req.ID, models.LevelState, "noted")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func approveFully(t *testing.T, db *gorm.DB, id uint) {
	t.Helper()
	for _, lvl := range []models.Level{models.LevelBlock, models.LevelDistrict, models.LevelState} {
		_, err := ApproveTx(db, id, lvl)
		require.NoError(t, err)
	}
}

func TestReceiveTxAccumulatesAndCompletes(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 100, AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	approveFully(t, db, req.ID)

	got, err := ReceiveTx(db, req.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Received)
	assert.Equal(t, models.ReqApproved, got.Status)

	_, err = ReceiveTx(db, req.ID, 41)
	assert.ErrorIs(t, err, ErrExceedsPending)

	got, err = ReceiveTx(db, req.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Received)
	assert.Equal(t, models.ReqCompleted, got.Status)
}

func TestRollbackReceiptTxReopensCompleted(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	req, _, err := Create(db, CreateInput{
		ReqID: "RQ-1", SchoolID: school.ID, BookID: book.ID, Quantity: 50, AcademicYear: "2026-27",
	})
	require.NoError(t, err)
	approveFully(t, db, req.ID)

	_, err = ReceiveTx(db, req.ID, 50)
	require.NoError(t, err)

	got, err := RollbackReceiptTx(db, req.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Received)
	assert.Equal(t, models.ReqApproved, got.Status)

	// Cannot roll back more than was received.
	_, err = RollbackReceiptTx(db, req.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListActiveBySchool(t *testing.T) {
	db := newTestDB(t)
	school, book := seedSchoolAndBook(t, db)

	mk := func(reqID string) *models.Requisition {
		req, _, err := Create(db, CreateInput{
			ReqID: reqID, SchoolID: school.ID, BookID: book.ID, Quantity: 10, AcademicYear: "2026-27",
		})
		require.NoError(t, err)
		return req
	}

	open := mk("RQ-OPEN")
	rejected := mk("RQ-REJ")
	done := mk("RQ-DONE")

	_, err := RejectTx(db, rejected.ID, models.LevelBlock, "")
	require.NoError(t, err)

	approveFully(t, db, done.ID)
	_, err = ReceiveTx(db, done.ID, 10)
	require.NoError(t, err)

	active, err := ListActiveBySchool(db, school.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open.ID, active[0].ID)
}
