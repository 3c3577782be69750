package models

import "time"

// Level is one tier of the distribution hierarchy. Identity of a stock owner
// is always (Level, owner code); names are display data only.
type Level string

const (
	LevelState    Level = "STATE"
	LevelDistrict Level = "DISTRICT"
	LevelBlock    Level = "BLOCK"
	LevelSchool   Level = "SCHOOL"
)

// StateOwnerCode is the owner code of the single state-level stock pool.
const StateOwnerCode = "STATE"

type District struct {
	ID        uint   `gorm:"primaryKey"`
	Code      string `gorm:"size:20;not null;uniqueIndex"`
	Name      string `gorm:"size:100;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Blocks []Block `gorm:"foreignKey:DistrictID"`
}

// Block is the inspectorate tier (IS) under a district.
type Block struct {
	ID         uint   `gorm:"primaryKey"`
	Code       string `gorm:"size:20;not null;uniqueIndex"`
	Name       string `gorm:"size:100;not null"`
	DistrictID uint   `gorm:"index;not null"`
	District   District
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Schools []School `gorm:"foreignKey:BlockID"`
}

type SchoolCategory string

const (
	SchoolGovernment SchoolCategory = "GOVT"
	SchoolPrivate    SchoolCategory = "PRIVATE"
)

type School struct {
	ID         uint           `gorm:"primaryKey"`
	UDISE      string         `gorm:"size:20;not null;uniqueIndex"`
	Name       string         `gorm:"size:150;not null"`
	Category   SchoolCategory `gorm:"size:10;not null;default:'GOVT'"`
	Enrollment int            `gorm:"not null;default:0"`
	BlockID    uint           `gorm:"index;not null"`
	Block      Block
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
