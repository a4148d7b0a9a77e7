package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"order-payment-service/internal/config"
	"order-payment-service/internal/model"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

type Paypal struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string
	serviceBaseURL     string
	rate               decimal.Decimal
}

type PaypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type paypalAmount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type paypalCapture struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	CustomID string       `json:"custom_id"`
	Amount   paypalAmount `json:"amount"`
}

type paypalPurchaseUnit struct {
	CustomID string       `json:"custom_id"`
	Amount   paypalAmount `json:"amount"`
	Payments struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments"`
}

type PaypalOrderResult struct {
	ID            string               `json:"id"`
	Links         []PaypalLink         `json:"links"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

// NewPaypal builds the card adapter. Orders are priced in VND and charged in
// USD at the configured fixed rate.
func NewPaypal(cfg *config.Paypal, serviceBaseURL string, usdRate int64, timeout time.Duration) *Paypal {
	return &Paypal{
		httpClient:         newHTTPClient(timeout),
		baseApiURL:         cfg.BaseApiURL,
		paypalClientID:     cfg.ClientID,
		paypalClientSecret: cfg.ClientSecret,
		serviceBaseURL:     serviceBaseURL,
		rate:               decimal.NewFromInt(usdRate),
	}
}

func (c *Paypal) Method() model.PaymentMethod { return model.PaymentMethodPaypal }

func (c *Paypal) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", errors.Wrap(err, "http new request")
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "http client do")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("paypal oauth error %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", errors.Wrap(err, "decode token response")
	}
	if res.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	return res.AccessToken, nil
}

func (c *Paypal) CreateRedirect(ctx context.Context, req Request) (*Redirect, error) {
	const op = "create order"

	usd := ToUSD(req.Amount, c.rate)
	if !usd.IsPositive() {
		return nil, wrapErr(c.Method(), op, errors.New("amount must be positive"))
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"custom_id":   req.Correlation.Encode(),
				"description": req.Description,
				"amount": map[string]string{
					"currency_code": "USD",
					"value":         usd.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": c.serviceBaseURL + "/api/payments/paypal/return",
			"cancel_url": c.serviceBaseURL + "/api/payments/paypal/cancel",
		},
	}

	var result PaypalOrderResult
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, &result); err != nil {
		return nil, wrapErr(c.Method(), op, err)
	}

	approveURL := extractApproveURL(result.Links)
	if approveURL == "" {
		return nil, wrapErr(c.Method(), op, errors.New("no approve link in paypal response"))
	}

	return &Redirect{URL: approveURL, ProviderRef: result.ID}, nil
}

// Capture captures an approved order. The returned Result carries the
// captured amount converted back to VND.
func (c *Paypal) Capture(ctx context.Context, orderID string) (*Result, error) {
	const op = "capture order"

	var result PaypalOrderResult
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, wrapErr(c.Method(), op, err)
	}

	if len(result.PurchaseUnits) == 0 || len(result.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, wrapErr(c.Method(), op, errors.New("no capture in paypal response"))
	}
	capture := result.PurchaseUnits[0].Payments.Captures[0]

	customID := capture.CustomID
	if customID == "" {
		customID = result.PurchaseUnits[0].CustomID
	}
	corr, err := DecodeCorrelation(customID)
	if err != nil {
		return nil, wrapErr(c.Method(), op, err)
	}

	usd, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil {
		return nil, wrapErr(c.Method(), op, errors.Wrap(err, "parse capture amount"))
	}

	return &Result{
		Correlation: corr,
		Success:     result.Status == "COMPLETED" && capture.Status == "COMPLETED",
		Amount:      FromUSD(usd, c.rate),
		ProviderRef: capture.ID,
		Code:        capture.Status,
	}, nil
}

// GetOrder looks an order up without changing it. The cancel path uses it to
// recover which attempt the buyer walked away from, and the return path to
// read back a capture that already happened.
func (c *Paypal) GetOrder(ctx context.Context, orderID string) (*Result, error) {
	const op = "get order"

	var result PaypalOrderResult
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &result); err != nil {
		return nil, wrapErr(c.Method(), op, err)
	}
	if len(result.PurchaseUnits) == 0 {
		return nil, wrapErr(c.Method(), op, errors.New("no purchase unit in paypal response"))
	}

	unit := result.PurchaseUnits[0]
	corr, err := DecodeCorrelation(unit.CustomID)
	if err != nil {
		return nil, wrapErr(c.Method(), op, err)
	}
	usd, _ := decimal.NewFromString(unit.Amount.Value)

	res := &Result{
		Correlation: corr,
		Success:     result.Status == "COMPLETED",
		Amount:      FromUSD(usd, c.rate),
		ProviderRef: result.ID,
		Code:        result.Status,
	}
	if len(unit.Payments.Captures) > 0 {
		capture := unit.Payments.Captures[0]
		if captured, err := decimal.NewFromString(capture.Amount.Value); err == nil {
			res.Amount = FromUSD(captured, c.rate)
		}
		res.ProviderRef = capture.ID
		res.Success = res.Success && capture.Status == "COMPLETED"
	}
	return res, nil
}

func (c *Paypal) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return errors.Wrap(err, "get paypal access token")
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal req payload")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
	if err != nil {
		return errors.Wrap(err, "http new request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http client do")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return errors.Errorf("paypal error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode paypal response")
	}
	return nil
}

func extractApproveURL(links []PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// ToUSD converts a VND amount at rate VND per USD, rounded to cents.
func ToUSD(vnd, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return vnd.DivRound(rate, 4).Round(2)
}

// FromUSD converts back to whole VND.
func FromUSD(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).Round(0)
}
