package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"order-payment-service/internal/config"
	"order-payment-service/internal/model"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const vnpaySuccessCode = "00"

type VNPay struct {
	payURL     string
	tmnCode    string
	hashSecret string
	returnURL  string
	now        func() time.Time
}

func NewVNPay(cfg *config.VNPay, serviceBaseURL string) *VNPay {
	return &VNPay{
		payURL:     cfg.PayURL,
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		returnURL:  serviceBaseURL + "/api/payments/vnpay/return",
		now:        time.Now,
	}
}

func (v *VNPay) Method() model.PaymentMethod { return model.PaymentMethodVNPay }

// CreateRedirect builds a signed pay URL. VNPay needs no server-to-server
// call here, so the only failure is a bad amount.
func (v *VNPay) CreateRedirect(_ context.Context, req Request) (*Redirect, error) {
	if !req.Amount.IsPositive() {
		return nil, wrapErr(v.Method(), "create redirect", errors.New("amount must be positive"))
	}

	now := v.now().In(vietnamTime)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.tmnCode)
	params.Set("vnp_Amount", req.Amount.Mul(decimal.NewFromInt(100)).Truncate(0).String())
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", req.Correlation.Encode())
	params.Set("vnp_OrderInfo", req.Description)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", v.returnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format("20060102150405"))
	params.Set("vnp_ExpireDate", now.Add(15*time.Minute).Format("20060102150405"))

	query := v.canonical(params)
	signed := query + "&vnp_SecureHash=" + v.sign(query)

	return &Redirect{URL: v.payURL + "?" + signed}, nil
}

// VerifyReturn checks vnp_SecureHash over every other vnp_ parameter. It is
// used for both the browser return and the IPN, which carry the same set.
func (v *VNPay) VerifyReturn(params url.Values) (*Result, error) {
	got := params.Get("vnp_SecureHash")
	if got == "" {
		return nil, ErrInvalidSignature
	}

	fields := url.Values{}
	for k, vals := range params {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		fields[k] = vals
	}

	want := v.sign(v.canonical(fields))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	corr, err := DecodeCorrelation(params.Get("vnp_TxnRef"))
	if err != nil {
		return nil, err
	}

	raw, err := decimal.NewFromString(params.Get("vnp_Amount"))
	if err != nil {
		return nil, errors.Wrap(err, "parse vnp_Amount")
	}

	code := params.Get("vnp_ResponseCode")
	status := params.Get("vnp_TransactionStatus")
	return &Result{
		Correlation: corr,
		Success:     code == vnpaySuccessCode && (status == "" || status == vnpaySuccessCode),
		Amount:      raw.Div(decimal.NewFromInt(100)),
		ProviderRef: params.Get("vnp_TransactionNo"),
		Code:        code,
		Message:     params.Get("vnp_OrderInfo"),
	}, nil
}

// canonical is the sorted, URL-encoded key=value&... string VNPay signs.
func (v *VNPay) canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

func (v *VNPay) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(v.hashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
