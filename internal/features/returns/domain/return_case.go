package domain

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// InternalStatus tracks where a return case sits in the processing pipeline.
//
// Status Flow:
// PENDING_RMA → RMA_RECEIVED → ELIGIBLE → LABEL_GENERATED → LABEL_UPLOADED → LABEL_SUBMITTED → COMPLETED
// with NO_RMA_FOUND, DUPLICATE_CLOSED, NOT_ELIGIBLE, ALREADY_LABEL_SUBMITTED
// and PROCESSING_ERROR as side exits.
type InternalStatus string

const (
	StatusPendingRMA            InternalStatus = "PENDING_RMA"
	StatusNoRMAFound            InternalStatus = "NO_RMA_FOUND"
	StatusRMAReceived           InternalStatus = "RMA_RECEIVED"
	StatusDuplicateClosed       InternalStatus = "DUPLICATE_CLOSED"
	StatusNotEligible           InternalStatus = "NOT_ELIGIBLE"
	StatusAlreadyLabelSubmitted InternalStatus = "ALREADY_LABEL_SUBMITTED"
	StatusEligible              InternalStatus = "ELIGIBLE"
	StatusLabelGenerated        InternalStatus = "LABEL_GENERATED"
	StatusLabelUploaded         InternalStatus = "LABEL_UPLOADED"
	StatusLabelSubmitted        InternalStatus = "LABEL_SUBMITTED"
	StatusProcessingError       InternalStatus = "PROCESSING_ERROR"
	StatusCompleted             InternalStatus = "COMPLETED"
)

// PortalState is the return request state as reported by the seller portal.
type PortalState string

const (
	PortalStateCompleted       PortalState = "Completed"
	PortalStatePendingLabel    PortalState = "PendingLabel"
	PortalStatePendingRefund   PortalState = "PendingRefund"
	PortalStatePendingApproval PortalState = "PendingApproval"
	PortalStateClosed          PortalState = "Closed"
)

// LabelState tracks the lifecycle of a generated carrier label.
type LabelState string

const (
	LabelStateCreated   LabelState = "CREATED"
	LabelStateUploaded  LabelState = "UPLOADED"
	LabelStateSubmitted LabelState = "SUBMITTED"
	LabelStateError     LabelState = "ERROR"
)

// Resolution values the portal reports for a return item.
const (
	ResolutionStandardRefund    = "StandardRefund"
	ResolutionRefundOnFirstScan = "RefundOnFirstScan"
	ResolutionReturnlessRefund  = "ReturnlessRefund"
	ResolutionAutomatedRefund   = "AutomatedRefund"
	ResolutionReturnOnly        = "ReturnOnly"
)

// ReturnCase is the main return entity ingested from the seller portal.
type ReturnCase struct {
	ID uint `gorm:"primaryKey"`

	// Portal identifiers.
	CaseID        string `gorm:"size:100;not null;uniqueIndex"`
	OrderID       string `gorm:"size:50;not null;index"`
	RMAID         string `gorm:"size:50;index"`
	InternalRMA   string `gorm:"size:50;index"`
	MarketplaceID string `gorm:"size:50;index"`

	// Internal processing status.
	InternalStatus InternalStatus `gorm:"size:50;not null;default:PENDING_RMA;index"`
	LastError      string         `gorm:"type:text"`

	// Portal return state.
	PortalState PortalState `gorm:"size:50;index"`

	// Order and value information.
	TotalOrderValue decimal.Decimal `gorm:"type:numeric(12,2)"`
	CurrencyCode    string          `gorm:"size:10;default:EUR"`
	CustomerID      string          `gorm:"size:100"`
	CustomerName    string          `gorm:"size:255"`

	// Dates.
	OrderDate   *time.Time
	RequestDate *time.Time `gorm:"index"`
	ApproveDate *time.Time
	CloseDate   *time.Time

	// Return details.
	InPolicy       bool   `gorm:"default:true"`
	PrimeReturn    bool   `gorm:"default:false"`
	AutoAuthorized bool   `gorm:"default:false"`
	GiftReturn     bool   `gorm:"default:false"`
	OOCReturn      bool   `gorm:"default:false"`
	HasPriorRefund bool   `gorm:"default:false"`
	SalesChannel   string `gorm:"size:50"`
	RefundStatus   string `gorm:"size:50"`

	// Duplicate resolution.
	DuplicateOf string `gorm:"size:100"`

	// Raw payload storage for change detection.
	RawData  []byte `gorm:"type:jsonb"`
	DataHash string `gorm:"size:64"`

	LabelSubmittedAt *time.Time

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time

	Items          []ReturnItem    `gorm:"constraint:OnDelete:CASCADE"`
	Address        *ReturnAddress  `gorm:"constraint:OnDelete:CASCADE"`
	PortalLabel    *PortalLabel    `gorm:"constraint:OnDelete:CASCADE"`
	GeneratedLabel *GeneratedLabel `gorm:"constraint:OnDelete:CASCADE"`
}

// ComputeHash returns the MD5 of the raw portal payload for change detection.
func (r *ReturnCase) ComputeHash() string {
	if len(r.RawData) == 0 {
		return ""
	}
	sum := md5.Sum(r.RawData)
	return hex.EncodeToString(sum[:])
}

// RecordError stores the error message and moves the case to PROCESSING_ERROR.
func (r *ReturnCase) RecordError(msg string) {
	r.LastError = msg
	r.InternalStatus = StatusProcessingError
}

// HasPortalTracking reports whether the portal already shows a carrier
// tracking id for this case.
func (r *ReturnCase) HasPortalTracking() bool {
	return r.PortalLabel != nil && r.PortalLabel.CarrierTrackingID != ""
}

// ReturnItem is a single item within a return case.
type ReturnItem struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;index"`

	ASIN        string `gorm:"size:20;not null;index"`
	MerchantSKU string `gorm:"size:100"`
	OrderItemID string `gorm:"size:50"`

	ProductTitle     string `gorm:"type:text"`
	ProductLink      string `gorm:"type:text"`
	ProductImageLink string `gorm:"type:text"`

	Quantity         int    `gorm:"default:1"`
	ReasonCode       string `gorm:"size:100;index"`
	CustomerComments string `gorm:"type:text"`

	Resolution         string `gorm:"size:50"`
	ReplacementOrderID string `gorm:"size:50"`

	UnitPrice decimal.Decimal `gorm:"type:numeric(10,2)"`
	InPolicy  bool            `gorm:"default:true"`

	CreatedAt time.Time
}

// ReturnAddress is the customer return address from the routing details API.
type ReturnAddress struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;uniqueIndex"`

	Name        string `gorm:"size:255"`
	LineOne     string `gorm:"size:500"`
	LineTwo     string `gorm:"size:500"`
	LineThree   string `gorm:"size:500"`
	City        string `gorm:"size:100"`
	Region      string `gorm:"size:100"`
	PostalCode  string `gorm:"size:20"`
	CountryCode string `gorm:"size:10;default:DE;index"`
	PhoneNumber string `gorm:"size:50"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usable reports whether the address is complete enough to book a label.
func (a *ReturnAddress) Usable() bool {
	return a != nil && a.Name != "" && a.LineOne != "" && a.City != "" && a.PostalCode != ""
}

// PortalLabel holds the label details the portal itself provided, if any.
type PortalLabel struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;uniqueIndex"`

	LabelType         string          `gorm:"size:50"`
	CarrierName       string          `gorm:"size:50"`
	CarrierTrackingID string          `gorm:"size:100"`
	LabelPrice        decimal.Decimal `gorm:"type:numeric(10,2)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GeneratedLabel is a carrier label created by this worker.
type GeneratedLabel struct {
	ID           uint `gorm:"primaryKey"`
	ReturnCaseID uint `gorm:"not null;index"`

	TrackingNumber string     `gorm:"size:100;not null;index"`
	StorageKey     string     `gorm:"size:500"`
	State          LabelState `gorm:"size:50;default:CREATED;index"`

	SubmittedAt *time.Time
	CreatedAt   time.Time
}
