package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/httpclient"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/domain"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/tracking/ports"

	"go.uber.org/zap"
)

const (
	dpdTrackingURL = "https://tracking.dpd.de/rest/plc/de_DE"
	dpdMaxAge      = 60 * 24 * time.Hour
	dpdPODTarget   = "DOCUMENT_POD_V2"
)

// dpdDeliveredCodes are scan type codes that count as delivered.
var dpdDeliveredCodes = map[string]bool{
	"13":    true,
	"DODEY": true,
}

// dpdExceptionCodes are scan type codes that count as a delivery problem.
var dpdExceptionCodes = map[string]bool{
	"04": true,
	"08": true,
	"14": true,
}

// dpdTimeLayouts are the timestamp formats seen in the public API.
var dpdTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"02.01.2006, 15:04",
	"02.01.2006 15:04",
}

// DPDAdapter reads shipment state from the public DPD parcel life cycle API.
// The API serves one parcel per request.
type DPDAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewDPDAdapter creates a DPD tracking adapter.
func NewDPDAdapter() *DPDAdapter {
	return &DPDAdapter{
		baseURL: dpdTrackingURL,
		client: &http.Client{
			Transport: &httpclient.LoggingRoundTripper{Proxied: http.DefaultTransport},
			Timeout:   30 * time.Second,
		},
		logger: logger.Get(),
	}
}

// Tag returns "dpd".
func (a *DPDAdapter) Tag() string { return "dpd" }

// Matches reports whether the number looks like a DPD parcel number.
func (a *DPDAdapter) Matches(trackingNumber string) bool {
	return allDigits(trackingNumber) && len(trackingNumber) == 14
}

// BatchSize returns 1; the life cycle API has no batch endpoint.
func (a *DPDAdapter) BatchSize() int { return 1 }

// MaxTrackingAge returns how long DPD keeps parcel data.
func (a *DPDAdapter) MaxTrackingAge() time.Duration { return dpdMaxAge }

// EventStrategy returns merge; the API truncates older scans, so a full
// replace would lose history.
func (a *DPDAdapter) EventStrategy() ports.EventStrategy { return ports.EventsMerge }

// dpdResponse is the subset of the life cycle payload this worker reads.
type dpdResponse struct {
	ParcelLifecycleResponse struct {
		ParcelLifeCycleData struct {
			ScanInfo struct {
				Scan []dpdScan `json:"scan"`
			} `json:"scanInfo"`
			StatusInfo []struct {
				Status          string `json:"status"`
				Label           string `json:"label"`
				IsCurrentStatus bool   `json:"isCurrentStatus"`
			} `json:"statusInfo"`
			ShipmentInfo struct {
				Links []struct {
					Target string `json:"target"`
					URL    string `json:"url"`
				} `json:"links"`
			} `json:"shipmentInfo"`
		} `json:"parcelLifeCycleData"`
	} `json:"parcellifecycleResponse"`
}

type dpdScan struct {
	Date     string `json:"date"`
	ScanData struct {
		ScanType struct {
			Name string `json:"name"`
		} `json:"scanType"`
		Location string `json:"location"`
		Country  string `json:"country"`
	} `json:"scanData"`
	ScanDescription struct {
		Content []string `json:"content"`
	} `json:"scanDescription"`
}

// Fetch loads the current state for one parcel number. A parcel unknown to
// DPD is omitted from the result.
func (a *DPDAdapter) Fetch(ctx context.Context, trackingNumbers []string) (map[string]*ports.StatusPayload, error) {
	out := make(map[string]*ports.StatusPayload)
	for _, num := range trackingNumbers {
		payload, err := a.fetchOne(ctx, num)
		if err != nil {
			if errors.Is(err, ports.ErrNoTrackingData) {
				continue
			}
			return nil, err
		}
		out[num] = payload
	}
	return out, nil
}

// fetchOne requests and classifies a single parcel.
func (a *DPDAdapter) fetchOne(ctx context.Context, trackingNumber string) (*ports.StatusPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+trackingNumber, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dpd tracking request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dpd response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ports.ErrNoTrackingData
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.TransportError{StatusCode: resp.StatusCode, Op: "dpd_tracking", Body: truncateBody(body)}
	}

	var parsed dpdResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &resilience.DataError{Op: "dpd_tracking", Msg: "malformed json response"}
	}

	data := parsed.ParcelLifecycleResponse.ParcelLifeCycleData
	if len(data.ScanInfo.Scan) == 0 && len(data.StatusInfo) == 0 {
		return nil, ports.ErrNoTrackingData
	}

	payload := &ports.StatusPayload{}
	for i, scan := range data.ScanInfo.Scan {
		timestamp, ok := parseDPDTime(scan.Date)
		if !ok {
			continue
		}
		status := ""
		if len(scan.ScanDescription.Content) > 0 {
			status = scan.ScanDescription.Content[0]
		}
		code := scan.ScanData.ScanType.Name

		payload.Events = append(payload.Events, domain.TrackingEvent{
			Timestamp:   timestamp,
			Code:        code,
			Sequence:    i,
			Status:      status,
			Location:    scan.ScanData.Location,
			CountryCode: scan.ScanData.Country,
		})

		switch {
		case dpdDeliveredCodes[code]:
			payload.Delivered = true
			ts := timestamp
			payload.DeliveredAt = &ts
		case dpdExceptionCodes[code]:
			payload.Exception = true
		}
	}

	for _, status := range data.StatusInfo {
		if status.IsCurrentStatus {
			payload.Status = status.Label
			if status.Status == "DELIVERED" {
				payload.Delivered = true
			}
		}
	}
	if payload.Delivered {
		payload.Exception = false
	}

	for _, link := range data.ShipmentInfo.Links {
		if link.Target == dpdPODTarget && link.URL != "" {
			payload.ProofAvailable = true
			break
		}
	}
	return payload, nil
}

// FetchProof returns the carrier hosted proof document URL.
func (a *DPDAdapter) FetchProof(ctx context.Context, trackingNumber string) (*domain.ProofOfDelivery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+trackingNumber, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dpd tracking request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dpd response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.TransportError{StatusCode: resp.StatusCode, Op: "dpd_pod", Body: truncateBody(body)}
	}

	var parsed dpdResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &resilience.DataError{Op: "dpd_pod", Msg: "malformed json response"}
	}

	for _, link := range parsed.ParcelLifecycleResponse.ParcelLifeCycleData.ShipmentInfo.Links {
		if link.Target == dpdPODTarget && link.URL != "" {
			return &domain.ProofOfDelivery{
				DocumentURL: link.URL,
				RetrievedAt: time.Now().UTC(),
			}, nil
		}
	}
	return nil, fmt.Errorf("no proof of delivery available for %s", trackingNumber)
}

// parseDPDTime tries the known timestamp layouts.
func parseDPDTime(value string) (time.Time, bool) {
	for _, layout := range dpdTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
