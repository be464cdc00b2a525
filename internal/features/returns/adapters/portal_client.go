package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/httpclient"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/logger"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/core/resilience"
	"github.com/ElectronicxApp/ex-amazon-return-worker/internal/features/returns/ports"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	returnsAPIPath      = "/returns/api/listreturns-v2"
	routingAPIPath      = "/returns/api/routingDetails"
	actionsAPIPath      = "/returns/manage-actions"
	s3ArgsAPIPath       = "/returns/get-s3-arguments"
	documentArgsAPIPath = "/returns/get-alexandria-arguments-v2"
	updateReturnAPIPath = "/returns/update-return-request-v2"
	returnsListPagePath = "/gp/returns/list/v2"
	portalPageSize      = 100
	csrfHeaderName      = "Anti-Csrftoken-A2z"
	portalUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"
)

var csrfPattern = regexp.MustCompile(`csrfToken["']?\s*[:=]\s*["']([^"']+)["']`)

// PortalClient implements ports.SellerPortal against the seller portal's
// private JSON APIs. Authentication is cookie based; the session feature
// injects fresh cookies through SetCookies after each login.
type PortalClient struct {
	baseURL       string
	marketplaceID string

	mu     sync.Mutex
	client *http.Client

	logger *zap.Logger
}

// NewPortalClient creates a PortalClient for the given portal origin.
func NewPortalClient(baseURL, marketplaceID string, timeout time.Duration) *PortalClient {
	jar, _ := cookiejar.New(nil)
	return &PortalClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		marketplaceID: marketplaceID,
		client: &http.Client{
			Transport: &httpclient.LoggingRoundTripper{Proxied: http.DefaultTransport},
			Jar:       jar,
			Timeout:   timeout,
		},
		logger: logger.Get(),
	}
}

// SetCookies replaces the client's session cookies.
func (p *PortalClient) SetCookies(cookies []*http.Cookie) error {
	origin, err := url.Parse(p.baseURL)
	if err != nil {
		return fmt.Errorf("invalid portal base url: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	jar.SetCookies(origin, cookies)
	p.client.Jar = jar

	p.logger.Debug("Portal session cookies updated", zap.Int("cookies", len(cookies)))
	return nil
}

// FetchReturns pages through all return requests of the ingestion window.
func (p *PortalClient) FetchReturns(ctx context.Context, daysBack int) ([]ports.PortalReturn, error) {
	var all []ports.PortalReturn
	scrollID := ""

	for {
		page, err := p.fetchReturnsPage(ctx, daysBack, scrollID)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.ReturnRequests {
			ret, err := parsePortalReturn(raw)
			if err != nil {
				p.logger.Warn("Skipping unparseable return payload", zap.Error(err))
				continue
			}
			all = append(all, *ret)
		}

		if page.ScrollID == "" || len(page.ReturnRequests) == 0 {
			break
		}
		scrollID = page.ScrollID
	}

	p.logger.Info("Fetched return requests from portal", zap.Int("count", len(all)))
	return all, nil
}

// returnsPage is one page of the list returns API.
type returnsPage struct {
	ReturnRequests []json.RawMessage `json:"returnRequests"`
	ScrollID       string            `json:"scrollId"`
}

func (p *PortalClient) fetchReturnsPage(ctx context.Context, daysBack int, scrollID string) (*returnsPage, error) {
	q := url.Values{}
	q.Set("marketplaceIds", p.marketplaceID)
	q.Set("onPendingActionsTab", "false")
	q.Set("orderBy", "CreatedDateDesc")
	q.Set("pageSize", fmt.Sprintf("%d", portalPageSize))
	q.Set("selectedDateRange", fmt.Sprintf("%d", daysBack))
	if scrollID != "" {
		q.Set("scrollId", scrollID)
	}

	body, err := p.get(ctx, "fetch_returns", returnsAPIPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var page returnsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &resilience.DataError{Op: "fetch_returns", Msg: err.Error()}
	}
	return &page, nil
}

// FetchReturn refetches a single return request.
func (p *PortalClient) FetchReturn(ctx context.Context, caseID string) (*ports.PortalReturn, error) {
	q := url.Values{}
	q.Set("returnRequestId", caseID)
	q.Set("marketplaceId", p.marketplaceID)

	body, err := p.get(ctx, "fetch_return", actionsAPIPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	ret, err := parsePortalReturn(body)
	if err != nil {
		return nil, &resilience.DataError{Op: "fetch_return", Msg: err.Error()}
	}
	return ret, nil
}

// routingResponse is the portal's routing details payload.
type routingResponse struct {
	Name            string `json:"name"`
	AddressFieldOne string `json:"addressFieldOne"`
	AddressFieldTwo string `json:"addressFieldTwo"`
	AddressFieldThr string `json:"addressFieldThree"`
	City            string `json:"city"`
	StateOrRegion   string `json:"stateOrRegion"`
	PostalCode      string `json:"postalCode"`
	CountryCode     string `json:"countryCode"`
	PhoneNumber     string `json:"phoneNumber"`
}

// FetchRoutingDetails loads the customer return address for a case.
func (p *PortalClient) FetchRoutingDetails(ctx context.Context, caseID string) (*ports.RoutingDetails, error) {
	q := url.Values{}
	q.Set("returnRequestId", caseID)
	q.Set("marketplaceId", p.marketplaceID)

	body, err := p.get(ctx, "fetch_routing_details", routingAPIPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp routingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &resilience.DataError{Op: "fetch_routing_details", Msg: err.Error()}
	}

	return &ports.RoutingDetails{
		Name:        resp.Name,
		LineOne:     resp.AddressFieldOne,
		LineTwo:     resp.AddressFieldTwo,
		LineThree:   resp.AddressFieldThr,
		City:        resp.City,
		Region:      resp.StateOrRegion,
		PostalCode:  resp.PostalCode,
		CountryCode: resp.CountryCode,
		PhoneNumber: resp.PhoneNumber,
	}, nil
}

// FetchCSRFToken extracts the anti-forgery token from the returns list page.
func (p *PortalClient) FetchCSRFToken(ctx context.Context) (string, error) {
	body, err := p.get(ctx, "fetch_csrf", returnsListPagePath, map[string]string{
		"Accept": "text/html,application/xhtml+xml",
	})
	if err != nil {
		return "", err
	}

	match := csrfPattern.FindSubmatch(body)
	if match == nil {
		return "", &resilience.DataError{Op: "fetch_csrf", Msg: "csrf token not found in page"}
	}
	return string(match[1]), nil
}

// s3ArgsResponse is the portal's presigned S3 slot payload.
type s3ArgsResponse struct {
	BucketName string            `json:"bucketName"`
	Key        string            `json:"key"`
	Fields     map[string]string `json:"fields"`
}

// FetchUploadSlot requests a presigned S3 slot for a label image.
func (p *PortalClient) FetchUploadSlot(ctx context.Context, csrf, caseID, fileName string, size int) (*ports.UploadSlot, error) {
	q := url.Values{}
	q.Set("returnRequestId", caseID)
	q.Set("marketplaceId", p.marketplaceID)
	q.Set("fileName", fileName)
	q.Set("fileSize", fmt.Sprintf("%d", size))

	body, err := p.get(ctx, "fetch_upload_slot", s3ArgsAPIPath+"?"+q.Encode(), map[string]string{
		csrfHeaderName: csrf,
	})
	if err != nil {
		return nil, err
	}

	var resp s3ArgsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &resilience.DataError{Op: "fetch_upload_slot", Msg: err.Error()}
	}
	if resp.BucketName == "" {
		return nil, &resilience.DataError{Op: "fetch_upload_slot", Msg: "no bucket in response"}
	}

	fields := map[string]string{"key": resp.Key}
	for k, v := range resp.Fields {
		fields[k] = v
	}

	return &ports.UploadSlot{
		URL:       fmt.Sprintf("https://%s.s3.amazonaws.com", resp.BucketName),
		Method:    http.MethodPost,
		Headers:   map[string]string{csrfHeaderName: csrf, "Origin": p.baseURL, "Referer": p.baseURL + "/"},
		Fields:    fields,
		Reference: resp.Key,
	}, nil
}

// UploadBinary pushes the label image into a presigned slot.
func (p *PortalClient) UploadBinary(ctx context.Context, slot *ports.UploadSlot, data []byte, contentType string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for k, v := range slot.Fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}

	part, err := writer.CreateFormFile("file", slot.Reference)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write file payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	headers := map[string]string{"Content-Type": writer.FormDataContentType()}
	for k, v := range slot.Headers {
		headers[k] = v
	}

	_, err = p.do(ctx, "upload_binary", slot.Method, slot.URL, &buf, headers)
	return err
}

// documentArgsResponse is the portal's document service arguments payload.
type documentArgsResponse struct {
	UploadURL string `json:"Upload_URL"`
}

// documentUploadResponse carries the document version id after registration.
type documentUploadResponse struct {
	DocumentVersionID string `json:"documentVersionId"`
}

// RegisterDocument pushes the image into the portal's document service.
func (p *PortalClient) RegisterDocument(ctx context.Context, csrf, caseID, fileName string, data []byte, contentType string) (string, error) {
	q := url.Values{}
	q.Set("returnRequestId", caseID)
	q.Set("marketplaceId", p.marketplaceID)

	argsBody, err := p.get(ctx, "fetch_document_args", documentArgsAPIPath+"?"+q.Encode(), map[string]string{
		csrfHeaderName: csrf,
		"Referer":      p.actionsReferer(caseID),
	})
	if err != nil {
		return "", err
	}

	var args documentArgsResponse
	if err := json.Unmarshal(argsBody, &args); err != nil {
		return "", &resilience.DataError{Op: "fetch_document_args", Msg: err.Error()}
	}
	if args.UploadURL == "" {
		return "", &resilience.DataError{Op: "fetch_document_args", Msg: "no upload url in response"}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	body, err := p.do(ctx, "register_document", http.MethodPost, p.baseURL+args.UploadURL, &buf, map[string]string{
		"Content-Type": writer.FormDataContentType(),
		csrfHeaderName: csrf,
		"Origin":       p.baseURL,
		"Referer":      p.actionsReferer(caseID),
	})
	if err != nil {
		return "", err
	}

	var resp documentUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &resilience.DataError{Op: "register_document", Msg: err.Error()}
	}
	if resp.DocumentVersionID == "" {
		return "", &resilience.DataError{Op: "register_document", Msg: "no document version id in response"}
	}
	return resp.DocumentVersionID, nil
}

// SubmitReturn completes the return with the generated tracking number.
func (p *PortalClient) SubmitReturn(ctx context.Context, csrf, caseID, trackingNumber, carrier, docVersionID string) error {
	payload := map[string]any{
		"returnRequestId":   caseID,
		"marketplaceId":     p.marketplaceID,
		"action":            "completeReturn",
		"trackingId":        trackingNumber,
		"carrier":           carrier,
		"documentVersionId": docVersionID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal submit payload: %w", err)
	}

	_, err = p.do(ctx, "submit_return", http.MethodPost, p.baseURL+updateReturnAPIPath, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
		csrfHeaderName: csrf,
		"Origin":       p.baseURL,
		"Referer":      p.actionsReferer(caseID),
	})
	return err
}

func (p *PortalClient) actionsReferer(caseID string) string {
	return fmt.Sprintf("%s/gp/returns/list/v2/actions?returnRequestId=%s&marketplaceId=%s&tabId=1", p.baseURL, caseID, p.marketplaceID)
}

// get performs a GET against a portal path.
func (p *PortalClient) get(ctx context.Context, op, path string, headers map[string]string) ([]byte, error) {
	return p.do(ctx, op, http.MethodGet, p.baseURL+path, nil, headers)
}

// do executes a request with the shared headers and session error mapping.
func (p *PortalClient) do(ctx context.Context, op, method, rawURL string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	req.Header.Set("User-Agent", portalUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de-DE;q=0.8,de;q=0.7")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	// A bounce to the login flow means the session died mid-request.
	if strings.Contains(resp.Request.URL.Path, "/ap/signin") {
		return nil, fmt.Errorf("%s: %w", op, resilience.ErrSessionExpired)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.TransportError{
			StatusCode: resp.StatusCode,
			Op:         op,
			Body:       truncate(string(payload), 500),
		}
	}

	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// portalReturnPayload mirrors the portal's return request JSON.
type portalReturnPayload struct {
	ReturnRequestID   string `json:"returnRequestId"`
	OrderID           string `json:"orderId"`
	RmaID             string `json:"rmaId"`
	MarketplaceID     string `json:"marketplaceId"`
	State             string `json:"returnRequestState"`
	ReturnRequestDate int64  `json:"returnRequestDate"`
	OrderDate         int64  `json:"orderDate"`
	ApproveDate       int64  `json:"approveDate"`
	CloseDate         int64  `json:"closeDate"`

	TotalOrderValue struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"totalOrderValue"`

	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`

	InPolicy       bool   `json:"inPolicy"`
	PrimeReturn    bool   `json:"primeReturn"`
	AutoAuthorized bool   `json:"autoAuthorized"`
	GiftReturn     bool   `json:"giftReturn"`
	OOCReturn      bool   `json:"oocReturn"`
	HasPriorRefund bool   `json:"hasPriorRefund"`
	SalesChannel   string `json:"salesChannel"`
	RefundStatus   string `json:"refundStatus"`

	Items []struct {
		ASIN             string `json:"asin"`
		MerchantSKU      string `json:"merchantSku"`
		OrderItemID      string `json:"orderItemId"`
		ProductTitle     string `json:"productTitle"`
		ProductLink      string `json:"productLink"`
		ProductImageLink string `json:"productImageLink"`
		ReturnQuantity   int    `json:"returnQuantity"`
		ReturnReasonCode string `json:"returnReasonCode"`
		CustomerComments string `json:"customerComments"`
		Resolution       string `json:"resolution"`
		UnitPrice        struct {
			Amount string `json:"amount"`
		} `json:"unitPrice"`
		InPolicy bool `json:"inPolicy"`
	} `json:"items"`

	LabelDetails *struct {
		LabelType         string `json:"labelType"`
		CarrierName       string `json:"carrierName"`
		CarrierTrackingID string `json:"carrierTrackingId"`
		LabelPrice        struct {
			Amount string `json:"amount"`
		} `json:"labelPrice"`
	} `json:"labelDetails"`
}

// parsePortalReturn converts a raw portal payload into the portable DTO.
func parsePortalReturn(raw json.RawMessage) (*ports.PortalReturn, error) {
	var payload portalReturnPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode return payload: %w", err)
	}
	if payload.ReturnRequestID == "" {
		return nil, fmt.Errorf("return payload has no returnRequestId")
	}
	if payload.OrderID == "" {
		return nil, fmt.Errorf("return %s has no orderId", payload.ReturnRequestID)
	}

	ret := &ports.PortalReturn{
		CaseID:         payload.ReturnRequestID,
		OrderID:        payload.OrderID,
		RMAID:          payload.RmaID,
		MarketplaceID:  payload.MarketplaceID,
		State:          payload.State,
		OrderDate:      epochMillis(payload.OrderDate),
		RequestDate:    epochMillis(payload.ReturnRequestDate),
		ApproveDate:    epochMillis(payload.ApproveDate),
		CloseDate:      epochMillis(payload.CloseDate),
		CurrencyCode:   payload.TotalOrderValue.CurrencyCode,
		CustomerID:     payload.CustomerID,
		CustomerName:   payload.CustomerName,
		InPolicy:       payload.InPolicy,
		PrimeReturn:    payload.PrimeReturn,
		AutoAuthorized: payload.AutoAuthorized,
		GiftReturn:     payload.GiftReturn,
		OOCReturn:      payload.OOCReturn,
		HasPriorRefund: payload.HasPriorRefund,
		SalesChannel:   payload.SalesChannel,
		RefundStatus:   payload.RefundStatus,
		Raw:            raw,
	}

	if v, err := decimal.NewFromString(payload.TotalOrderValue.Amount); err == nil {
		ret.TotalOrderValue = v
	}

	for _, item := range payload.Items {
		quantity := item.ReturnQuantity
		if quantity == 0 {
			quantity = 1
		}
		dto := ports.PortalReturnItem{
			ASIN:             item.ASIN,
			MerchantSKU:      item.MerchantSKU,
			OrderItemID:      item.OrderItemID,
			ProductTitle:     item.ProductTitle,
			ProductLink:      item.ProductLink,
			ProductImageLink: item.ProductImageLink,
			Quantity:         quantity,
			ReasonCode:       item.ReturnReasonCode,
			CustomerComments: item.CustomerComments,
			Resolution:       item.Resolution,
			InPolicy:         item.InPolicy,
		}
		if v, err := decimal.NewFromString(item.UnitPrice.Amount); err == nil {
			dto.UnitPrice = v
		}
		ret.Items = append(ret.Items, dto)
	}

	if payload.LabelDetails != nil {
		label := &ports.PortalLabelDetails{
			LabelType:         payload.LabelDetails.LabelType,
			CarrierName:       payload.LabelDetails.CarrierName,
			CarrierTrackingID: payload.LabelDetails.CarrierTrackingID,
		}
		if v, err := decimal.NewFromString(payload.LabelDetails.LabelPrice.Amount); err == nil {
			label.LabelPrice = v
		}
		ret.Label = label
	}

	return ret, nil
}

// epochMillis converts portal epoch milliseconds to a time pointer.
func epochMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
