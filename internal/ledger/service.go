package ledger

import (
	"errors"

	"textbook-backend/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrInsufficientStock aborts any adjustment that would take a pool
	// below zero. The caller's transaction must roll back as a whole.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUpsertDecrease rejects a correction that would lower a pool;
	// decrements only ever happen through challan issuance.
	ErrUpsertDecrease = errors.New("stock correction cannot reduce quantity")
)

// Get returns the current quantity for one (level, owner, book) pool,
// zero when no row exists.
func Get(db *gorm.DB, level models.Level, owner string, bookID uint) (int64, error) {
	var entry models.StockEntry
	err := db.Where("level = ? AND owner_code = ? AND book_id = ?", level, owner, bookID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Quantity, nil
}

// Adjust applies delta to one pool and returns the new quantity. The update
// is a single guarded statement, so two concurrent dispatches against the
// same pool can never both succeed off a stale read: whichever commits second
// sees the already-decremented quantity in its WHERE clause.
func Adjust(db *gorm.DB, level models.Level, owner string, bookID uint, delta int64) (int64, error) {
	if delta == 0 {
		return Get(db, level, owner, bookID)
	}

	res := db.Model(&models.StockEntry{}).
		Where("level = ? AND owner_code = ? AND book_id = ? AND quantity + ? >= 0",
			level, owner, bookID, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		// Either the row does not exist yet or the decrement would go
		// negative. Distinguish the two.
		var entry models.StockEntry
		err := db.Where("level = ? AND owner_code = ? AND book_id = ?", level, owner, bookID).
			First(&entry).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if delta < 0 {
				return 0, ErrInsufficientStock
			}
			entry = models.StockEntry{Level: level, OwnerCode: owner, BookID: bookID, Quantity: delta}
			if createErr := db.Create(&entry).Error; createErr != nil {
				// Lost the create race on the unique scope index; the row
				// exists now, retry the guarded update once.
				retry := db.Model(&models.StockEntry{}).
					Where("level = ? AND owner_code = ? AND book_id = ? AND quantity + ? >= 0",
						level, owner, bookID, delta).
					Update("quantity", gorm.Expr("quantity + ?", delta))
				if retry.Error != nil {
					return 0, retry.Error
				}
				if retry.RowsAffected == 0 {
					return 0, ErrInsufficientStock
				}
				return Get(db, level, owner, bookID)
			}
			return entry.Quantity, nil
		case err != nil:
			return 0, err
		default:
			return 0, ErrInsufficientStock
		}
	}

	return Get(db, level, owner, bookID)
}

// Upsert records a direct correction to a pool, idempotently. It may only
// hold or raise the quantity; anything lower than the current value fails
// with ErrUpsertDecrease so the challan decrement path cannot be bypassed.
func Upsert(db *gorm.DB, level models.Level, owner string, bookID uint, quantity int64) (int64, error) {
	if quantity < 0 {
		return 0, ErrInsufficientStock
	}

	res := db.Model(&models.StockEntry{}).
		Where("level = ? AND owner_code = ? AND book_id = ? AND quantity <= ?",
			level, owner, bookID, quantity).
		Update("quantity", quantity)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		return quantity, nil
	}

	var entry models.StockEntry
	err := db.Where("level = ? AND owner_code = ? AND book_id = ?", level, owner, bookID).
		First(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = models.StockEntry{Level: level, OwnerCode: owner, BookID: bookID, Quantity: quantity}
		if createErr := db.Create(&entry).Error; createErr != nil {
			return 0, createErr
		}
		return quantity, nil
	case err != nil:
		return 0, err
	default:
		return 0, ErrUpsertDecrease
	}
}

// List returns stock rows for a filter; empty filter fields are ignored.
func List(db *gorm.DB, level models.Level, owner string, bookID uint) ([]models.StockEntry, error) {
	q := db.Model(&models.StockEntry{}).Preload("Book")
	if level != "" {
		q = q.Where("level = ?", level)
	}
	if owner != "" {
		q = q.Where("owner_code = ?", owner)
	}
	if bookID > 0 {
		q = q.Where("book_id = ?", bookID)
	}

	var entries []models.StockEntry
	if err := q.Order("level, owner_code, book_id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
