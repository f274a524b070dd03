package models

import "time"

// Account represents a provisioned transfer login. Rows are created by the
// storefront's provisioning flow; this subsystem only reads them.
type Account struct {
	ID     uint   `gorm:"column:id;primaryKey" json:"id"`
	UserID uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	Name   string `gorm:"column:name;size:100;uniqueIndex;not null" json:"name"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Subscription links a user to a paid order. A user is active while any of
// their subscriptions has date_end in the future.
type Subscription struct {
	ID      uint      `gorm:"column:id;primaryKey" json:"id"`
	UserID  uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	OrderID uint      `gorm:"column:order_id;not null" json:"order_id"`
	DateEnd time.Time `gorm:"column:date_end;not null;index" json:"date_end"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Order links a subscription back to the plan that was purchased.
type Order struct {
	ID     uint `gorm:"column:id;primaryKey" json:"id"`
	UserID uint `gorm:"column:user_id;not null;index" json:"user_id"`
	PlanID uint `gorm:"column:plan_id;not null" json:"plan_id"`
}

func (Order) TableName() string {
	return "orders"
}

// Plan describes an entitlement tier. Gigas is the monthly outbound transfer
// allowance in gigabytes.
type Plan struct {
	ID    uint   `gorm:"column:id;primaryKey" json:"id"`
	Name  string `gorm:"column:name;size:100;not null" json:"name"`
	Gigas int64  `gorm:"column:gigas;default:0" json:"gigas"`
}

func (Plan) TableName() string {
	return "plans"
}
