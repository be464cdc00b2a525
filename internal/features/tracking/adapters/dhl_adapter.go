package adapter

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/config"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/httpclient"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

const (
	dhlTrackingURL   = "https://cig.dhl.de/services/production/rest/sendungsverfolgung"
	dhlEventLayout   = "02.01.2006 15:04"
	dhlBatchSize     = 20
	dhlMaxAge        = 90 * 24 * time.Hour
	dhlMinProofBytes = 10
)

// dhlDeliveredCodes are event ICE codes that count as delivered.
var dhlDeliveredCodes = map[string]bool{
	"DLVRD": true,
	"PCKDU": true,
}

// dhlExceptionCodes are event ICE codes that count as a delivery problem.
var dhlExceptionCodes = map[string]bool{
	"NTDEL": true,
	"SRTED": true,
	"RETUR": true,
	"RSTRY": true,
}

// DHLAdapter reads shipment state from the DHL piece tracking XML API.
// Requests are batched; a failed batch falls back to per-piece requests so a
// single bad number cannot poison the whole batch.
type DHLAdapter struct {
	cfg     config.CarrierConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewDHLAdapter creates a DHL tracking adapter.
func NewDHLAdapter(cfg config.CarrierConfig) *DHLAdapter {
	return &DHLAdapter{
		cfg:     cfg,
		baseURL: dhlTrackingURL,
		client: &http.Client{
			Transport: &httpclient.LoggingRoundTripper{Proxied: http.DefaultTransport},
			Timeout:   30 * time.Second,
		},
		logger: logger.Get(),
	}
}

// Tag returns "dhl".
func (a *DHLAdapter) Tag() string { return "dhl" }

// Matches reports whether the number looks like a DHL shipment number.
func (a *DHLAdapter) Matches(trackingNumber string) bool {
	if !allDigits(trackingNumber) {
		return false
	}
	return len(trackingNumber) >= 16 && len(trackingNumber) <= 20
}

// BatchSize returns the piece codes per request.
func (a *DHLAdapter) BatchSize() int { return dhlBatchSize }

// MaxTrackingAge returns how long DHL keeps piece data.
func (a *DHLAdapter) MaxTrackingAge() time.Duration { return dhlMaxAge }

// EventStrategy returns replace; DHL always reports the full event list.
func (a *DHLAdapter) EventStrategy() ports.EventStrategy { return ports.EventsReplace }

// dhlNode is one element of DHL's generic nested XML response.
type dhlNode struct {
	Name          string    `xml:"name,attr"`
	Code          string    `xml:"code,attr"`
	Error         string    `xml:"error,attr"`
	PieceCode     string    `xml:"piece-code,attr"`
	PieceStatus   string    `xml:"piece-status,attr"`
	DeliveryFlag  string    `xml:"delivery-event-flag,attr"`
	DestCountry   string    `xml:"dest-country,attr"`
	EventTime     string    `xml:"event-timestamp,attr"`
	EventStatus   string    `xml:"event-status,attr"`
	EventLocation string    `xml:"event-location,attr"`
	EventCountry  string    `xml:"event-country,attr"`
	EventICE      string    `xml:"event-ice,attr"`
	EventRIC      string    `xml:"event-ric,attr"`
	Image         string    `xml:"image,attr"`
	MimeType      string    `xml:"mime-type,attr"`
	Children      []dhlNode `xml:"data"`
}

// Fetch loads the current state for up to BatchSize piece codes.
func (a *DHLAdapter) Fetch(ctx context.Context, trackingNumbers []string) (map[string]*ports.StatusPayload, error) {
	root, err := a.request(ctx, "d-get-piece-detail", strings.Join(trackingNumbers, ";"))
	if err != nil {
		if len(trackingNumbers) == 1 {
			return nil, err
		}
		a.logger.Warn("DHL batch request failed, retrying per piece",
			zap.Int("batch_size", len(trackingNumbers)),
			zap.Error(err),
		)
		return a.fetchSingles(ctx, trackingNumbers)
	}

	out := make(map[string]*ports.StatusPayload)
	for _, shipment := range collectNodes(root, "piece-shipment") {
		payload := a.toPayload(shipment)
		out[shipment.PieceCode] = payload
	}
	return out, nil
}

// fetchSingles requests every piece code on its own, skipping failures.
func (a *DHLAdapter) fetchSingles(ctx context.Context, trackingNumbers []string) (map[string]*ports.StatusPayload, error) {
	out := make(map[string]*ports.StatusPayload)
	for _, num := range trackingNumbers {
		root, err := a.request(ctx, "d-get-piece-detail", num)
		if err != nil {
			a.logger.Warn("DHL piece request failed", zap.String("tracking_number", num), zap.Error(err))
			continue
		}
		for _, shipment := range collectNodes(root, "piece-shipment") {
			out[shipment.PieceCode] = a.toPayload(shipment)
		}
	}
	return out, nil
}

// FetchProof retrieves the signature image for a delivered piece.
func (a *DHLAdapter) FetchProof(ctx context.Context, trackingNumber string) (*domain.ProofOfDelivery, error) {
	root, err := a.request(ctx, "d-get-signature", trackingNumber)
	if err != nil {
		return nil, err
	}

	node := findImageNode(root)
	if node == nil || node.Image == "" {
		return nil, fmt.Errorf("no signature available for %s", trackingNumber)
	}

	image, err := hex.DecodeString(node.Image)
	if err != nil {
		return nil, &resilience.DataError{Op: "dhl_signature", Msg: "signature image is not valid hex"}
	}
	if len(image) < dhlMinProofBytes {
		return nil, &resilience.DataError{Op: "dhl_signature", Msg: "signature image too small"}
	}

	mime := node.MimeType
	if mime == "" {
		mime = "image/gif"
	}
	return &domain.ProofOfDelivery{
		Image:       image,
		MimeType:    mime,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// request performs one XML API call and parses the response tree.
func (a *DHLAdapter) request(ctx context.Context, operation, pieceCode string) (*dhlNode, error) {
	query := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8" standalone="no"?><data appname=%q password=%q request=%q language-code="de" piece-code=%q/>`,
		a.cfg.TrackingZTToken, a.cfg.TrackingPassword, operation, pieceCode,
	)

	reqURL := a.baseURL + "?xml=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if a.cfg.TrackingAppName != "" {
		req.SetBasicAuth(a.cfg.TrackingAppName, a.cfg.TrackingPassword)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dhl tracking request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dhl response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.TransportError{StatusCode: resp.StatusCode, Op: "dhl_" + operation, Body: truncateBody(body)}
	}

	var root dhlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, &resilience.DataError{Op: "dhl_" + operation, Msg: "malformed xml response"}
	}
	if root.Code != "" && root.Code != "0" {
		return nil, fmt.Errorf("dhl api error code %s: %s", root.Code, root.Error)
	}
	return &root, nil
}

// toPayload classifies one piece-shipment node.
func (a *DHLAdapter) toPayload(shipment dhlNode) *ports.StatusPayload {
	payload := &ports.StatusPayload{Status: shipment.PieceStatus}

	eventNodes := collectNodes(&shipment, "piece-event")
	for i, ev := range eventNodes {
		timestamp, err := time.Parse(dhlEventLayout, ev.EventTime)
		if err != nil {
			continue
		}
		event := domain.TrackingEvent{
			Timestamp:   timestamp,
			Code:        ev.EventICE,
			Detail:      ev.EventRIC,
			Sequence:    i,
			Status:      ev.EventStatus,
			Location:    ev.EventLocation,
			CountryCode: ev.EventCountry,
		}
		payload.Events = append(payload.Events, event)

		if dhlDeliveredCodes[ev.EventICE] {
			payload.Delivered = true
			ts := timestamp
			payload.DeliveredAt = &ts
		}
	}

	if shipment.DeliveryFlag == "1" {
		payload.Delivered = true
	}
	if !payload.Delivered && len(payload.Events) > 0 {
		last := payload.Events[len(payload.Events)-1]
		payload.Exception = dhlExceptionCodes[last.Code]
	}
	if len(payload.Events) > 0 && payload.Status == "" {
		payload.Status = payload.Events[len(payload.Events)-1].Status
	}

	// Signatures exist for domestic deliveries only.
	payload.ProofAvailable = payload.Delivered && strings.EqualFold(shipment.DestCountry, "DE")
	return payload
}

// collectNodes walks the tree and returns all nodes with the given name.
func collectNodes(node *dhlNode, name string) []dhlNode {
	var out []dhlNode
	for i := range node.Children {
		child := &node.Children[i]
		if child.Name == name {
			out = append(out, *child)
		}
		out = append(out, collectNodes(child, name)...)
	}
	return out
}

// findImageNode returns the first node carrying a signature image.
func findImageNode(node *dhlNode) *dhlNode {
	if node.Image != "" {
		return node
	}
	for i := range node.Children {
		if found := findImageNode(&node.Children[i]); found != nil {
			return found
		}
	}
	return nil
}

// truncateBody limits response bodies kept in error messages.
func truncateBody(body []byte) string {
	const max = 500
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// allDigits reports whether s is non-empty and numeric.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
