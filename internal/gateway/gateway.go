// Package gateway holds one adapter per external payment provider. Every
// adapter turns an amount plus a correlation token into a browser redirect,
// and turns the provider's return payload back into a Result.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"order-payment-service/internal/model"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidSignature is returned when a callback fails signature verification.
var ErrInvalidSignature = errors.New("invalid gateway signature")

// Error wraps any failure talking to a provider.
type Error struct {
	Provider model.PaymentMethod
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", strings.ToLower(string(e.Provider)), e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(provider model.PaymentMethod, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Op: op, Err: err}
}

// Correlation identifies the attempt, and the kind of object it pays for,
// that a provider callback belongs to.
type Correlation struct {
	Kind      model.SubjectKind
	AttemptID string
}

// Encode renders the correlation as an alphanumeric token, which every
// provider accepts in its merchant reference field.
func (c Correlation) Encode() string {
	prefix := "O"
	if c.Kind == model.SubjectReservation {
		prefix = "R"
	}
	return prefix + strings.ReplaceAll(c.AttemptID, "-", "")
}

func DecodeCorrelation(token string) (Correlation, error) {
	if len(token) < 2 {
		return Correlation{}, errors.Errorf("correlation token %q too short", token)
	}

	var kind model.SubjectKind
	switch token[0] {
	case 'O':
		kind = model.SubjectOrder
	case 'R':
		kind = model.SubjectReservation
	default:
		return Correlation{}, errors.Errorf("correlation token %q: unknown kind", token)
	}

	id, err := uuid.Parse(token[1:])
	if err != nil {
		return Correlation{}, errors.Wrapf(err, "correlation token %q", token)
	}
	return Correlation{Kind: kind, AttemptID: id.String()}, nil
}

// Request is what the lifecycle engine hands an adapter. Amount is in VND.
type Request struct {
	Amount      decimal.Decimal
	Correlation Correlation
	Description string
	ClientIP    string
}

type Redirect struct {
	URL string
	// ProviderRef is the provider's id for the created payment, when it issues one.
	ProviderRef string
}

type Adapter interface {
	Method() model.PaymentMethod
	CreateRedirect(ctx context.Context, req Request) (*Redirect, error)
}

// Result is a verified provider outcome. Amount is always in VND.
type Result struct {
	Correlation Correlation
	Success     bool
	Amount      decimal.Decimal
	ProviderRef string
	Code        string
	Message     string
}

type Registry struct {
	adapters map[model.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

func (r *Registry) Get(method model.PaymentMethod) (Adapter, bool) {
	a, ok := r.adapters[method]
	return a, ok
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// vietnamTime is the zone VNPay expects its timestamps in.
var vietnamTime = time.FixedZone("ICT", 7*60*60)
