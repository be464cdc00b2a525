package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ERPGateway reads order and RMA data from the merchandise management
// mirror. The mirror keeps the original Wawi table layout.
type ERPGateway struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewERPGateway creates an ERPGateway on the given mirror connection.
func NewERPGateway(db *gorm.DB) *ERPGateway {
	return &ERPGateway{
		db:     db,
		logger: logger.Get(),
	}
}

// LookupRMA resolves the internal order number (AU number) for a marketplace
// order. It first tries an exact match on the external order number, then a
// prefix match for orders that carry a suffix in the mirror.
func (g *ERPGateway) LookupRMA(ctx context.Context, orderID string) (string, error) {
	var rma string

	err := g.db.WithContext(ctx).Raw(
		`SELECT a."cAuftragsNr" FROM verkauf_tauftrag a WHERE a."cExterneAuftragsnummer" = ? LIMIT 1`,
		orderID,
	).Scan(&rma).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("rma exact lookup failed for %s: %w", orderID, err)
	}

	if rma == "" {
		err = g.db.WithContext(ctx).Raw(
			`SELECT a."cAuftragsNr" FROM verkauf_tauftrag a WHERE a."cExterneAuftragsnummer" LIKE ? ORDER BY a."cAuftragsNr" LIMIT 1`,
			orderID+"%",
		).Scan(&rma).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("rma prefix lookup failed for %s: %w", orderID, err)
		}
	}

	rma = strings.TrimSpace(rma)
	if rma != "" {
		g.logger.Debug("Resolved internal RMA",
			zap.String("order_id", orderID),
			zap.String("rma", rma),
		)
	}
	return rma, nil
}

// erpOrderRow is the order header row scanned from the mirror.
type erpOrderRow struct {
	OrderID        string     `gorm:"column:order_id"`
	InternalNumber string     `gorm:"column:internal_number"`
	PurchaseDate   *time.Time `gorm:"column:purchase_date"`
	StatusCode     int        `gorm:"column:status_code"`
	OrderStatus    string     `gorm:"column:order_status"`
	FBA            bool       `gorm:"column:fba"`
	Prime          bool       `gorm:"column:prime"`
	CustomerNumber string     `gorm:"column:customer_number"`
	PaymentMethod  string     `gorm:"column:payment_method"`
}

// erpProductRow is an order position row scanned from the mirror.
type erpProductRow struct {
	SKU         string          `gorm:"column:sku"`
	Name        string          `gorm:"column:name"`
	Description string          `gorm:"column:description"`
	Quantity    int             `gorm:"column:quantity"`
	NetPrice    decimal.Decimal `gorm:"column:net_price"`
	GrossPrice  decimal.Decimal `gorm:"column:gross_price"`
	TaxRate     decimal.Decimal `gorm:"column:tax_rate"`
	Weight      decimal.Decimal `gorm:"column:weight"`
	EAN         string          `gorm:"column:ean"`
	Supplier    string          `gorm:"column:supplier"`
}

// erpShipmentRow is an outbound shipment row scanned from the mirror.
type erpShipmentRow struct {
	TrackingNumber string     `gorm:"column:tracking_number"`
	CarrierName    string     `gorm:"column:carrier_name"`
	ShippedAt      *time.Time `gorm:"column:shipped_at"`
}

// FetchOrderData loads the enrichment rows for an order from the mirror.
func (g *ERPGateway) FetchOrderData(ctx context.Context, orderID string) (*ports.ERPOrderData, error) {
	data := &ports.ERPOrderData{}

	var header erpOrderRow
	err := g.db.WithContext(ctx).Raw(`
		SELECT
			amz."cOrderId"              AS order_id,
			au."cAuftragsNr"            AS internal_number,
			amz."dPurchaseDate"         AS purchase_date,
			amz."nStatus"               AS status_code,
			amz."cOrderStatus"          AS order_status,
			amz."nFBA"::bool            AS fba,
			amz."nPrime"::bool          AS prime,
			au."cKundenNr"              AS customer_number,
			au."cZahlungsart"           AS payment_method
		FROM pf_amazon_bestellung amz
		LEFT JOIN verkauf_tauftrag au ON au."cExterneAuftragsnummer" = amz."cOrderId"
		WHERE amz."cOrderId" = ?
		LIMIT 1`, orderID,
	).Scan(&header).Error
	if err != nil {
		return nil, fmt.Errorf("order header query failed for %s: %w", orderID, err)
	}
	if header.OrderID != "" {
		data.General = &domain.OrderGeneralDetail{
			ERPOrderID:          header.OrderID,
			InternalOrderNumber: header.InternalNumber,
			PurchaseDate:        header.PurchaseDate,
			StatusCode:          header.StatusCode,
			OrderStatus:         header.OrderStatus,
			IsFBA:               header.FBA,
			IsPrime:             header.Prime,
			CustomerNumber:      header.CustomerNumber,
			PaymentMethod:       header.PaymentMethod,
		}
	}

	var products []erpProductRow
	err = g.db.WithContext(ctx).Raw(`
		SELECT
			pos."cArtNr"                AS sku,
			pos."cName"                 AS name,
			art."cKurzBeschreibung"     AS description,
			pos."nQuantityPurchased"    AS quantity,
			pos."fPreisNetto"           AS net_price,
			pos."fPreisBrutto"          AS gross_price,
			pos."fMwSt"                 AS tax_rate,
			art."fGewicht"              AS weight,
			art."cBarcode"              AS ean,
			lief."cName"                AS supplier
		FROM pf_amazon_bestellung amz
		JOIN pf_amazon_bestellungpos pos ON pos."kAmazonBestellung" = amz."kAmazonBestellung"
		LEFT JOIN tartikel art ON art."cArtNr" = pos."cArtNr"
		LEFT JOIN tlieferant lief ON lief."kLieferant" = art."kLieferant"
		WHERE amz."cOrderId" = ?`, orderID,
	).Scan(&products).Error
	if err != nil {
		return nil, fmt.Errorf("order products query failed for %s: %w", orderID, err)
	}
	for _, row := range products {
		data.Products = append(data.Products, domain.OrderProductDetail{
			SKU:         row.SKU,
			Name:        row.Name,
			Description: row.Description,
			Quantity:    row.Quantity,
			NetPrice:    row.NetPrice,
			GrossPrice:  row.GrossPrice,
			TaxRate:     row.TaxRate,
			Weight:      row.Weight,
			EAN:         row.EAN,
			Supplier:    row.Supplier,
		})
	}

	var shipments []erpShipmentRow
	err = g.db.WithContext(ctx).Raw(`
		SELECT
			v."cIdentCode"              AS tracking_number,
			va."cName"                  AS carrier_name,
			v."dVersendet"              AS shipped_at
		FROM verkauf_tauftrag au
		JOIN tversand v ON v."kLieferschein" IN (
			SELECT ls."kLieferschein" FROM tlieferschein ls WHERE ls."kBestellung" = au."kAuftrag"
		)
		LEFT JOIN tversandart va ON va."kVersandArt" = v."kVersandArt"
		WHERE au."cExterneAuftragsnummer" = ?`, orderID,
	).Scan(&shipments).Error
	if err != nil {
		return nil, fmt.Errorf("order shipments query failed for %s: %w", orderID, err)
	}
	for _, row := range shipments {
		data.Shipments = append(data.Shipments, domain.OrderShipmentInfo{
			TrackingNumber: row.TrackingNumber,
			CarrierName:    row.CarrierName,
			ShippedAt:      row.ShippedAt,
		})
	}

	return data, nil
}
