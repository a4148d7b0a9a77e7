package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"order-payment-service/internal/config"
	"order-payment-service/internal/model"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MoMo struct {
	httpClient  *http.Client
	endpoint    string
	partnerCode string
	accessKey   string
	secretKey   string
	redirectURL string
	ipnURL      string
}

func NewMoMo(cfg *config.MoMo, serviceBaseURL string, timeout time.Duration) *MoMo {
	return &MoMo{
		httpClient:  newHTTPClient(timeout),
		endpoint:    cfg.Endpoint,
		partnerCode: cfg.PartnerCode,
		accessKey:   cfg.AccessKey,
		secretKey:   cfg.SecretKey,
		redirectURL: serviceBaseURL + "/api/payments/momo/return",
		ipnURL:      serviceBaseURL + "/api/payments/momo/ipn",
	}
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
	RequestID  string `json:"requestId"`
}

// MoMoCallback is the payload of both the browser return (query string)
// and the IPN (JSON body).
type MoMoCallback struct {
	PartnerCode  string `json:"partnerCode" query:"partnerCode"`
	OrderID      string `json:"orderId" query:"orderId"`
	RequestID    string `json:"requestId" query:"requestId"`
	Amount       int64  `json:"amount" query:"amount"`
	OrderInfo    string `json:"orderInfo" query:"orderInfo"`
	OrderType    string `json:"orderType" query:"orderType"`
	TransID      int64  `json:"transId" query:"transId"`
	ResultCode   int    `json:"resultCode" query:"resultCode"`
	Message      string `json:"message" query:"message"`
	PayType      string `json:"payType" query:"payType"`
	ResponseTime int64  `json:"responseTime" query:"responseTime"`
	ExtraData    string `json:"extraData" query:"extraData"`
	Signature    string `json:"signature" query:"signature"`
}

func (m *MoMo) Method() model.PaymentMethod { return model.PaymentMethodMoMo }

func (m *MoMo) CreateRedirect(ctx context.Context, req Request) (*Redirect, error) {
	const op = "create payment"

	amount := req.Amount.Truncate(0).IntPart()
	if amount <= 0 {
		return nil, wrapErr(m.Method(), op, errors.New("amount must be positive"))
	}

	body := momoCreateRequest{
		PartnerCode: m.partnerCode,
		RequestID:   uuid.NewString(),
		Amount:      amount,
		OrderID:     req.Correlation.AttemptID,
		OrderInfo:   req.Description,
		RedirectURL: m.redirectURL,
		IpnURL:      m.ipnURL,
		RequestType: "captureWallet",
		ExtraData:   req.Correlation.Encode(),
		Lang:        "vi",
	}
	body.Signature = m.sign(fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		m.accessKey, body.Amount, body.ExtraData, body.IpnURL, body.OrderID, body.OrderInfo,
		body.PartnerCode, body.RedirectURL, body.RequestID, body.RequestType,
	))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, wrapErr(m.Method(), op, errors.Wrap(err, "marshal req payload"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.endpoint+"/v2/gateway/api/create", bytes.NewReader(payload))
	if err != nil {
		return nil, wrapErr(m.Method(), op, errors.Wrap(err, "http new request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapErr(m.Method(), op, errors.Wrap(err, "http client do"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(m.Method(), op, errors.Wrap(err, "read response"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, wrapErr(m.Method(), op, errors.Errorf("momo error %d: %s", resp.StatusCode, string(raw)))
	}

	var result momoCreateResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, wrapErr(m.Method(), op, errors.Wrap(err, "decode momo response"))
	}
	if result.ResultCode != 0 || result.PayURL == "" {
		return nil, wrapErr(m.Method(), op, errors.Errorf("momo result %d: %s", result.ResultCode, result.Message))
	}

	return &Redirect{URL: result.PayURL, ProviderRef: result.RequestID}, nil
}

// VerifyCallback checks the HMAC-SHA256 signature over the sorted callback fields.
func (m *MoMo) VerifyCallback(cb *MoMoCallback) (*Result, error) {
	want := m.sign(m.callbackRaw(cb))
	if !hmac.Equal([]byte(cb.Signature), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	corr, err := DecodeCorrelation(cb.ExtraData)
	if err != nil {
		return nil, err
	}

	return &Result{
		Correlation: corr,
		Success:     cb.ResultCode == 0,
		Amount:      decimal.NewFromInt(cb.Amount),
		ProviderRef: strconv.FormatInt(cb.TransID, 10),
		Code:        strconv.Itoa(cb.ResultCode),
		Message:     cb.Message,
	}, nil
}

func (m *MoMo) callbackRaw(cb *MoMoCallback) string {
	return fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		m.accessKey, cb.Amount, cb.ExtraData, cb.Message, cb.OrderID, cb.OrderInfo, cb.OrderType,
		cb.PartnerCode, cb.PayType, cb.RequestID, cb.ResponseTime, cb.ResultCode, cb.TransID,
	)
}

func (m *MoMo) sign(data string) string {
	mac := hmac.New(sha256.New, []byte(m.secretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
