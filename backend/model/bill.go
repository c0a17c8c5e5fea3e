package model

import (
	"time"
)

type BillStatus string

const (
	BillPaid    BillStatus = "paid"
	BillDue     BillStatus = "due"
	BillOverdue BillStatus = "overdue"
)

// Bill is one charge in a tenant's billing history. Amounts are in minor units.
type Bill struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"not null;index" json:"tenant_id"`
	PropertyID  uint       `gorm:"not null;index" json:"property_id"`
	Description string     `gorm:"size:255;not null" json:"description"`
	AmountCents int64      `gorm:"not null" json:"amount_cents"`
	Currency    string     `gorm:"size:3;not null;default:'USD'" json:"currency"`
	DueDate     time.Time  `gorm:"not null;index" json:"due_date"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StatusAt derives the bill state at the given instant.
func (b *Bill) StatusAt(now time.Time) BillStatus {
	switch {
	case b.PaidAt != nil:
		return BillPaid
	case now.After(b.DueDate):
		return BillOverdue
	default:
		return BillDue
	}
}
