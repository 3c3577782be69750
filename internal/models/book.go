package models

import "time"

// Book is a catalog entry registered at state level. Never deleted while a
// requisition or stock row references it; deactivate instead.
type Book struct {
	ID            uint   `gorm:"primaryKey"`
	Title         string `gorm:"size:200;not null;uniqueIndex:idx_books_title_class_year,priority:1"`
	ClassLevel    int    `gorm:"not null;uniqueIndex:idx_books_title_class_year,priority:2"`
	AcademicYear  string `gorm:"size:10;not null;uniqueIndex:idx_books_title_class_year,priority:3"` // e.g. "2026-27"
	Subject       string `gorm:"size:50;not null;index"`
	Category      string `gorm:"size:30;index"` // TEXT_BOOK, WORK_BOOK, GUIDE
	Medium        string `gorm:"size:30"`
	UnitRatePaise int64  `gorm:"not null;default:0"`
	Active        bool   `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
