package models

import "time"

// Product is the slice of the catalog the broadcast engine touches.
type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SellerID    uint      `gorm:"not null;index" json:"seller_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Price       int64     `gorm:"not null" json:"price"`
	CostPrice   int64     `gorm:"not null;default:0" json:"cost_price"`
	StockQty    int       `gorm:"not null;default:0" json:"stock_qty"`
	SafetyStock int       `gorm:"not null;default:0" json:"safety_stock"`
	Status      string    `gorm:"size:20;not null;default:'ON_SALE'" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SellableStock is what a broadcast may allocate.
func (p *Product) SellableStock() int {
	n := p.StockQty - p.SafetyStock
	if n < 0 {
		return 0
	}
	return n
}

// BroadcastProductStatus is the sales state of a pinned product.
type BroadcastProductStatus string

const (
	BroadcastProductSelling BroadcastProductStatus = "SELLING"
	BroadcastProductSoldOut BroadcastProductStatus = "SOLDOUT"
	BroadcastProductDeleted BroadcastProductStatus = "DELETED"
)

// BroadcastProduct pins a product to a broadcast with an optional live price.
type BroadcastProduct struct {
	ID           uint                   `gorm:"primaryKey" json:"id"`
	BroadcastID  uint                   `gorm:"not null;index" json:"broadcast_id"`
	ProductID    uint                   `gorm:"not null;index" json:"product_id"`
	BpPrice      *int64                 `json:"bp_price,omitempty"`
	BpQuantity   int                    `gorm:"not null" json:"bp_quantity"`
	DisplayOrder int                    `gorm:"not null" json:"display_order"`
	IsPinned     bool                   `gorm:"not null;default:false" json:"is_pinned"`
	Status       BroadcastProductStatus `gorm:"size:20;not null" json:"status"`
}

// HasLivePrice reports whether the seller declared a temporary price.
func (bp *BroadcastProduct) HasLivePrice() bool {
	return bp.BpPrice != nil
}
