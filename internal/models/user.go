package models

import "time"

type UserRole string

const (
	RoleStateAdmin    UserRole = "state_admin"
	RoleDistrictAdmin UserRole = "district_admin"
	RoleBlockAdmin    UserRole = "block_admin"
	RoleSchool        UserRole = "school"
)

// Level returns the hierarchy tier a role acts at.
func (r UserRole) Level() Level {
	switch r {
	case RoleDistrictAdmin:
		return LevelDistrict
	case RoleBlockAdmin:
		return LevelBlock
	case RoleSchool:
		return LevelSchool
	default:
		return LevelState
	}
}

type User struct {
	ID           uint     `gorm:"primaryKey"`
	Name         string   `gorm:"size:100;not null"`
	Email        string   `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string   `gorm:"size:255;not null"`
	Role         UserRole `gorm:"size:20;not null"`
	// OwnerCode scopes the user to one hierarchy node: district code, block
	// code or school UDISE. Empty for state admins.
	OwnerCode string `gorm:"size:20;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
