package model

import (
	"time"
)

// Role is the account type of a user
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

func (r Role) IsValid() bool {
	return r == RoleTenant || r == RoleLandlord
}

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Role         Role      `gorm:"size:20;not null;index" json:"role"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	PropertyID   *uint     `gorm:"index" json:"property_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Property is a rental unit. LandlordID is the account that receives
// maintenance notifications for it.
type Property struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:200;not null;uniqueIndex" json:"name"`
	Address    string    `gorm:"size:500" json:"address"`
	LandlordID uint      `gorm:"not null;index" json:"landlord_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
