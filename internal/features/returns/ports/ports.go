package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// PortalReturn is a return request as fetched from the seller portal.
type PortalReturn struct {
	// CaseID is the portal's unique return request id.
	CaseID string
	// OrderID is the marketplace order the return belongs to.
	OrderID string
	// RMAID is the portal side RMA identifier, if any.
	RMAID string
	// MarketplaceID identifies the marketplace.
	MarketplaceID string
	// State is the portal return request state.
	State string

	OrderDate   *time.Time
	RequestDate *time.Time
	ApproveDate *time.Time
	CloseDate   *time.Time

	TotalOrderValue decimal.Decimal
	CurrencyCode    string
	CustomerID      string
	CustomerName    string

	InPolicy       bool
	PrimeReturn    bool
	AutoAuthorized bool
	GiftReturn     bool
	OOCReturn      bool
	HasPriorRefund bool
	SalesChannel   string
	RefundStatus   string

	Items []PortalReturnItem
	Label *PortalLabelDetails

	// Raw is the untouched portal payload, stored for change detection.
	Raw json.RawMessage
}

// PortalReturnItem is a single item on a portal return request.
type PortalReturnItem struct {
	ASIN             string
	MerchantSKU      string
	OrderItemID      string
	ProductTitle     string
	ProductLink      string
	ProductImageLink string
	Quantity         int
	ReasonCode       string
	CustomerComments string
	Resolution       string
	UnitPrice        decimal.Decimal
	InPolicy         bool
}

// PortalLabelDetails are the label details the portal already holds.
type PortalLabelDetails struct {
	LabelType         string
	CarrierName       string
	CarrierTrackingID string
	LabelPrice        decimal.Decimal
}

// RoutingDetails is the customer return address from the portal routing API.
type RoutingDetails struct {
	Name        string
	LineOne     string
	LineTwo     string
	LineThree   string
	City        string
	Region      string
	PostalCode  string
	CountryCode string
	PhoneNumber string
}

// UploadSlot describes a presigned upload target issued by the portal.
type UploadSlot struct {
	// URL is the upload endpoint.
	URL string
	// Method is the HTTP method to use, usually PUT or POST.
	Method string
	// Headers are extra headers required by the slot.
	Headers map[string]string
	// Fields are multipart form fields for POST style slots.
	Fields map[string]string
	// Reference identifies the slot when registering the document.
	Reference string
}

// SellerPortal is the transport to the seller portal. All calls require a
// valid session; implementations surface resilience.ErrSessionExpired when
// the portal bounces a request to login.
type SellerPortal interface {
	// FetchReturns pages through all return requests of the last daysBack days.
	FetchReturns(ctx context.Context, daysBack int) ([]PortalReturn, error)

	// FetchReturn refetches a single return request by case id.
	FetchReturn(ctx context.Context, caseID string) (*PortalReturn, error)

	// FetchRoutingDetails loads the customer return address for a case.
	FetchRoutingDetails(ctx context.Context, caseID string) (*RoutingDetails, error)

	// FetchCSRFToken obtains the anti-forgery token used by mutating calls.
	FetchCSRFToken(ctx context.Context) (string, error)

	// FetchUploadSlot requests a presigned slot for a label image.
	FetchUploadSlot(ctx context.Context, csrf, caseID, fileName string, size int) (*UploadSlot, error)

	// UploadBinary pushes the label image into the slot.
	UploadBinary(ctx context.Context, slot *UploadSlot, data []byte, contentType string) error

	// RegisterDocument pushes the image into the portal's document service
	// and returns the document version id used for submission.
	RegisterDocument(ctx context.Context, csrf, caseID, fileName string, data []byte, contentType string) (string, error)

	// SubmitReturn completes the return with tracking number and document.
	SubmitReturn(ctx context.Context, csrf, caseID, trackingNumber, carrier, docVersionID string) error
}

// ERPOrderData bundles the enrichment rows fetched from the ERP for an order.
type ERPOrderData struct {
	General   *domain.OrderGeneralDetail
	Products  []domain.OrderProductDetail
	Shipments []domain.OrderShipmentInfo
}

// ERPGateway reads from the merchandise management mirror.
type ERPGateway interface {
	// LookupRMA resolves the internal RMA number for a marketplace order.
	// Returns an empty string when no RMA exists yet.
	LookupRMA(ctx context.Context, orderID string) (string, error)

	// FetchOrderData loads the enrichment rows for an order.
	FetchOrderData(ctx context.Context, orderID string) (*ERPOrderData, error)
}

// CaseRepository persists return cases and their child records.
type CaseRepository interface {
	// FindByCaseID loads a case with all associations, ErrNotFound if missing.
	FindByCaseID(ctx context.Context, caseID string) (*domain.ReturnCase, error)

	// Save creates or updates a case including its associations.
	Save(ctx context.Context, rc *domain.ReturnCase) error

	// SaveAddress stores the return address for a case.
	SaveAddress(ctx context.Context, addr *domain.ReturnAddress) error

	// SaveLabel stores a generated label for a case.
	SaveLabel(ctx context.Context, label *domain.GeneratedLabel) error

	// ListByStatus loads all cases currently in one of the given statuses.
	ListByStatus(ctx context.Context, statuses ...domain.InternalStatus) ([]*domain.ReturnCase, error)

	// ListComparable loads all cases relevant for duplicate detection.
	ListComparable(ctx context.Context) ([]*domain.ReturnCase, error)

	// ListMissingAddress loads cases without a stored return address.
	ListMissingAddress(ctx context.Context) ([]*domain.ReturnCase, error)

	// AggregateByStatus returns case counts and order value sums grouped
	// by internal status.
	AggregateByStatus(ctx context.Context) (map[domain.InternalStatus]StatusAggregate, error)
}

// StatusAggregate is one row of the per-status pipeline aggregation.
type StatusAggregate struct {
	// Count is the number of cases in the status.
	Count int64
	// Value is the summed order value of those cases.
	Value decimal.Decimal
}

// EnrichmentRepository persists ERP enrichment rows per case.
type EnrichmentRepository interface {
	// Replace swaps all enrichment rows of a case with the given data.
	Replace(ctx context.Context, caseID uint, data *ERPOrderData) error

	// Purge removes all enrichment rows of a case.
	Purge(ctx context.Context, caseID uint) error
}

// CreateLabelRequest is the input for booking a return label with a carrier.
type CreateLabelRequest struct {
	CaseID      string
	OrderID     string
	RMA         string
	CustomerRef string
	Shipper     RoutingDetails
	WeightGrams int
}

// CreatedLabel is the result of a successful label booking.
type CreatedLabel struct {
	TrackingNumber string
	LabelPDF       []byte
	RoutingCode    string
}

// LabelTransport books return labels with a carrier.
type LabelTransport interface {
	// CreateReturnLabel books a label and returns tracking number plus PDF.
	CreateReturnLabel(ctx context.Context, req CreateLabelRequest) (*CreatedLabel, error)
}

// LabelStore persists label documents.
type LabelStore interface {
	// Put stores a document under the given key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get retrieves a document by key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ImageConverter turns a label PDF into the image format the portal accepts.
type ImageConverter interface {
	// Convert returns the converted bytes and their content type.
	Convert(pdf []byte) ([]byte, string, error)
}
