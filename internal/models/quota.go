package models

import "time"

// QuotaType represents the renewal cadence of a quota limit
type QuotaType string

const (
	QuotaTypeMonthly QuotaType = "monthly"
)

// QuotaLimit is an account's transfer entitlement. Name is the account name;
// the external transfer server enforces against this table directly.
type QuotaLimit struct {
	ID            uint      `gorm:"column:id;primaryKey" json:"id"`
	Name          string    `gorm:"column:name;size:100;uniqueIndex;not null" json:"name"`
	BytesOutAvail int64     `gorm:"column:bytes_out_avail;not null;default:0" json:"bytes_out_avail"`
	QuotaType     QuotaType `gorm:"column:quota_type;size:20;not null;default:monthly" json:"quota_type"`
}

func (QuotaLimit) TableName() string {
	return "quota_limits"
}

// QuotaTally is an account's consumption counter. Written by job submission
// (pre-charge), job failure (refund) and the quota synchronizer.
type QuotaTally struct {
	ID            uint      `gorm:"column:id;primaryKey" json:"id"`
	Name          string    `gorm:"column:name;size:100;uniqueIndex;not null" json:"name"`
	BytesOutUsed  int64     `gorm:"column:bytes_out_used;not null;default:0" json:"bytes_out_used"`
	LastRenewedAt time.Time `gorm:"column:last_renewed_at" json:"last_renewed_at"`
}

func (QuotaTally) TableName() string {
	return "quota_tallies"
}
