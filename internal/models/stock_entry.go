package models

import "time"

// StockEntry: how many copies of a book a given owner currently holds.
// Quantity never goes below zero; the only writers are the challan issue path
// (decrement at source), the challan receipt path (increment at destination)
// and the manual correction upsert.
type StockEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Level     Level  `gorm:"size:20;not null;uniqueIndex:idx_stock_scope,priority:1"`
	OwnerCode string `gorm:"size:20;not null;uniqueIndex:idx_stock_scope,priority:2"`
	BookID    uint   `gorm:"not null;uniqueIndex:idx_stock_scope,priority:3"`
	Book      Book
	Quantity  int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
