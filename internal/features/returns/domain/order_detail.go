package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderGeneralDetail is the ERP order header captured during enrichment.
type OrderGeneralDetail struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;index"`

	ERPOrderID          string `gorm:"size:50;index"`
	InternalOrderNumber string `gorm:"size:50"`

	PurchaseDate *time.Time
	StatusCode   int
	OrderStatus  string `gorm:"size:50"`

	IsFBA   bool `gorm:"default:false"`
	IsPrime bool `gorm:"default:false"`

	CustomerNumber string `gorm:"size:50"`
	PaymentMethod  string `gorm:"size:100"`

	CreatedAt time.Time
}

// OrderProductDetail is a product row from the ERP order, one per position.
type OrderProductDetail struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;index"`

	SKU         string `gorm:"size:100;index"`
	Name        string `gorm:"type:text"`
	Description string `gorm:"type:text"`

	Quantity   int
	NetPrice   decimal.Decimal `gorm:"type:numeric(10,2)"`
	GrossPrice decimal.Decimal `gorm:"type:numeric(10,2)"`
	TaxRate    decimal.Decimal `gorm:"type:numeric(5,2)"`

	Weight   decimal.Decimal `gorm:"type:numeric(10,3)"`
	EAN      string          `gorm:"size:50"`
	Supplier string          `gorm:"size:255"`

	CreatedAt time.Time
}

// OrderShipmentInfo is an outbound shipment row from the ERP order.
type OrderShipmentInfo struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;index"`

	TrackingNumber string `gorm:"size:100"`
	CarrierName    string `gorm:"size:100"`
	ShippedAt      *time.Time

	CreatedAt time.Time
}
