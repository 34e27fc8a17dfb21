package models

import "time"

// ViewHistory is one viewer visit. ExitedAt stays nil while the viewer is inside.
type ViewHistory struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	BroadcastID uint       `gorm:"not null;index" json:"broadcast_id"`
	ViewerID    string     `gorm:"size:100;not null;index" json:"viewer_id"`
	EnteredAt   time.Time  `gorm:"not null" json:"entered_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
}

// OrderStatus values the sales aggregation cares about.
const (
	OrderStatusPaid     = "PAID"
	OrderStatusCanceled = "CANCELED"
)

// Order is a purchase placed against the catalog.
type Order struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	MemberID  uint        `gorm:"not null;index" json:"member_id"`
	Status    string      `gorm:"size:20;not null;index" json:"status"`
	PaidAt    *time.Time  `gorm:"index" json:"paid_at,omitempty"`
	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderItem is one product line of an order.
type OrderItem struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	OrderID   uint  `gorm:"not null;index" json:"order_id"`
	ProductID uint  `gorm:"not null;index" json:"product_id"`
	Quantity  int   `gorm:"not null" json:"quantity"`
	UnitPrice int64 `gorm:"not null" json:"unit_price"`
}
