package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/config"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/httpclient"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"go.uber.org/zap"
)

const (
	dhlTokenURL   = "https://api-eu.dhl.com/parcel/de/account/auth/ropc/v1/token"
	dhlReturnsURL = "https://api-eu.dhl.com/parcel/de/shipping/returns/v1/orders"
)

// DHLLabelTransport books return labels through the DHL Parcel DE Returns
// API. Authentication uses the OAuth ROPC flow; the token is cached until
// shortly before expiry.
type DHLLabelTransport struct {
	cfg    config.CarrierConfig
	client *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewDHLLabelTransport creates a transport with the given credentials.
func NewDHLLabelTransport(cfg config.CarrierConfig) *DHLLabelTransport {
	return &DHLLabelTransport{
		cfg: cfg,
		client: &http.Client{
			Transport: &httpclient.LoggingRoundTripper{Proxied: http.DefaultTransport},
			Timeout:   30 * time.Second,
		},
		logger: logger.Get(),
	}
}

// tokenResponse is the OAuth token payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ensureToken fetches a fresh OAuth token if the cached one expired.
func (t *DHLLabelTransport) ensureToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accessToken != "" && time.Now().Before(t.tokenExpiry) {
		return t.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", t.cfg.LabelUser)
	form.Set("password", t.cfg.LabelPassword)
	form.Set("client_id", t.cfg.LabelAPIKey)
	form.Set("client_secret", t.cfg.LabelAPISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dhlTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &resilience.TransportError{StatusCode: resp.StatusCode, Op: "dhl_token", Body: truncate(string(body), 500)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", &resilience.DataError{Op: "dhl_token", Msg: err.Error()}
	}
	if token.AccessToken == "" {
		return "", &resilience.DataError{Op: "dhl_token", Msg: "empty access token"}
	}

	t.accessToken = token.AccessToken
	t.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	t.logger.Info("DHL access token obtained", zap.Int("expires_in", token.ExpiresIn))

	return t.accessToken, nil
}

// returnOrderResponse is the DHL label booking response.
type returnOrderResponse struct {
	ShipmentNo              string `json:"shipmentNo"`
	InternationalShipmentNo string `json:"internationalShipmentNo"`
	RoutingCode             string `json:"routingCode"`
	Label                   struct {
		B64 string `json:"b64"`
	} `json:"label"`
}

// CreateReturnLabel books a label and returns tracking number plus PDF.
func (t *DHLLabelTransport) CreateReturnLabel(ctx context.Context, req ports.CreateLabelRequest) (*ports.CreatedLabel, error) {
	token, err := t.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	street, house := splitStreet(req.Shipper.LineOne)

	weightKg := 1.0
	if req.WeightGrams > 0 {
		weightKg = float64(req.WeightGrams) / 1000.0
	}

	payload := map[string]any{
		"receiverId": t.cfg.ReceiverID,
		"shipper": map[string]any{
			"name1":         clip(req.Shipper.Name, 35),
			"addressStreet": clip(street, 35),
			"addressHouse":  clip(houseOrDefault(house), 10),
			"city":          clip(req.Shipper.City, 35),
			"postalCode":    clip(req.Shipper.PostalCode, 10),
		},
		"customerReference": clip(req.CustomerRef, 35),
		"itemWeight": map[string]any{
			"uom":   "kg",
			"value": weightKg,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal label payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, dhlReturnsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build label request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("label request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &resilience.TransportError{StatusCode: resp.StatusCode, Op: "dhl_create_label", Body: truncate(string(respBody), 500)}
	}

	var order returnOrderResponse
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, &resilience.DataError{Op: "dhl_create_label", Msg: err.Error()}
	}
	if order.ShipmentNo == "" {
		return nil, &resilience.DataError{Op: "dhl_create_label", Msg: "no shipment number in response"}
	}

	pdf, err := base64.StdEncoding.DecodeString(order.Label.B64)
	if err != nil {
		return nil, &resilience.DataError{Op: "dhl_create_label", Msg: "label is not valid base64"}
	}
	if len(pdf) == 0 {
		return nil, &resilience.DataError{Op: "dhl_create_label", Msg: "label payload is empty"}
	}

	t.logger.Info("DHL return label created",
		zap.String("case_id", req.CaseID),
		zap.String("tracking_number", order.ShipmentNo),
	)

	return &ports.CreatedLabel{
		TrackingNumber: order.ShipmentNo,
		LabelPDF:       pdf,
		RoutingCode:    order.RoutingCode,
	}, nil
}

// splitStreet separates a street line into street name and house number.
func splitStreet(line string) (string, string) {
	line = strings.TrimSpace(line)
	idx := strings.LastIndex(line, " ")
	if idx < 0 {
		return line, ""
	}
	candidate := line[idx+1:]
	if len(candidate) > 0 && candidate[0] >= '0' && candidate[0] <= '9' {
		return strings.TrimSpace(line[:idx]), candidate
	}
	return line, ""
}

func houseOrDefault(house string) string {
	if house == "" {
		return "1"
	}
	return house
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
