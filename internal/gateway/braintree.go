package gateway

import (
	"context"
	"net/url"
	"order-payment-service/internal/config"
	"order-payment-service/internal/model"

	"github.com/braintree-go/braintree-go"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// BraintreeAPI is the part of the Braintree SDK the adapter calls.
type BraintreeAPI interface {
	GenerateClientToken(ctx context.Context) (string, error)
	CreateSale(ctx context.Context, req *braintree.TransactionRequest) (*braintree.Transaction, error)
}

type braintreeSDK struct {
	gateway *braintree.Braintree
}

// NewBraintreeAPI initializes the Braintree SDK gateway
func NewBraintreeAPI(cfg *config.Braintree) BraintreeAPI {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	return &braintreeSDK{
		gateway: braintree.New(
			env,
			cfg.MerchantID,
			cfg.PublicKey,
			cfg.PrivateKey,
		),
	}
}

func (s *braintreeSDK) GenerateClientToken(ctx context.Context) (string, error) {
	return s.gateway.ClientToken().Generate(ctx)
}

func (s *braintreeSDK) CreateSale(ctx context.Context, req *braintree.TransactionRequest) (*braintree.Transaction, error) {
	return s.gateway.Transaction().Create(ctx, req)
}

// Braintree is a hosted-checkout card adapter: the redirect lands the buyer on
// our checkout page, which tokenizes the card with a client token and posts
// the nonce back for the sale.
type Braintree struct {
	api         BraintreeAPI
	checkoutURL string
	rate        decimal.Decimal
}

func NewBraintree(api BraintreeAPI, checkoutURL string, usdRate int64) *Braintree {
	return &Braintree{
		api:         api,
		checkoutURL: checkoutURL,
		rate:        decimal.NewFromInt(usdRate),
	}
}

func (b *Braintree) Method() model.PaymentMethod { return model.PaymentMethodBraintree }

func (b *Braintree) CreateRedirect(_ context.Context, req Request) (*Redirect, error) {
	usd := ToUSD(req.Amount, b.rate)
	if !usd.IsPositive() {
		return nil, wrapErr(b.Method(), "create redirect", errors.New("amount must be positive"))
	}

	q := url.Values{}
	q.Set("ref", req.Correlation.Encode())
	q.Set("amount", usd.StringFixed(2))
	q.Set("currency", "USD")

	return &Redirect{URL: b.checkoutURL + "?" + q.Encode()}, nil
}

func (b *Braintree) ClientToken(ctx context.Context) (string, error) {
	token, err := b.api.GenerateClientToken(ctx)
	if err != nil {
		return "", wrapErr(b.Method(), "generate client token", err)
	}
	return token, nil
}

// Sale charges the nonce for amountVND, converted to USD. A processor
// decline is a normal unsuccessful Result, not an error.
func (b *Braintree) Sale(ctx context.Context, nonce string, corr Correlation, amountVND decimal.Decimal) (*Result, error) {
	const op = "sale"

	usd := ToUSD(amountVND, b.rate)
	// Braintree expects NewDecimal(unscaled, scale): "11.60" -> NewDecimal(1160, 2)
	cents := usd.Mul(decimal.NewFromInt(100)).IntPart()

	tx, err := b.api.CreateSale(ctx, &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             braintree.NewDecimal(cents, 2),
		PaymentMethodNonce: nonce,
		OrderId:            corr.Encode(),
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true, // Captures the funds immediately
		},
	})
	message := ""
	if err != nil {
		// a decline comes back as a 422 carrying the declined transaction
		var btErr *braintree.BraintreeError
		if !errors.As(err, &btErr) || btErr.Transaction == nil {
			return nil, wrapErr(b.Method(), op, err)
		}
		tx = btErr.Transaction
		message = btErr.ErrorMessage
	}
	if tx.ProcessorResponseText != "" {
		message = tx.ProcessorResponseText
	}

	charged := usd
	if tx.Amount != nil {
		charged = decimal.New(tx.Amount.Unscaled, -int32(tx.Amount.Scale))
	}

	success := false
	switch tx.Status {
	case braintree.TransactionStatusSubmittedForSettlement,
		braintree.TransactionStatusSettling,
		braintree.TransactionStatusSettled,
		braintree.TransactionStatusAuthorized:
		success = true
	}

	return &Result{
		Correlation: corr,
		Success:     success,
		Amount:      FromUSD(charged, b.rate),
		ProviderRef: tx.Id,
		Code:        string(tx.Status),
		Message:     message,
	}, nil
}
