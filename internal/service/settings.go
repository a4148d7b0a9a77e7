package service

import (
	"order-payment-service/internal/config"
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the lifecycle constants shared by the services.
type Settings struct {
	AmountTolerance decimal.Decimal
	GraceWindow     time.Duration
	ReturnWindow    time.Duration
	SweepInterval   time.Duration
	GatewayTimeout  time.Duration
	VATRate         decimal.Decimal
	Now             func() time.Time
}

func NewSettings(cfg config.Payment) Settings {
	return Settings{
		AmountTolerance: decimal.NewFromInt(cfg.AmountTolerance),
		GraceWindow:     cfg.GraceWindow,
		ReturnWindow:    cfg.ReturnWindow,
		SweepInterval:   cfg.SweepInterval,
		GatewayTimeout:  cfg.GatewayTimeout,
		VATRate:         decimal.NewFromInt(cfg.VATPercent).Div(decimal.NewFromInt(100)),
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Staff  bool
}

func (a Actor) owns(userID string) bool {
	return a.UserID != "" && a.UserID == userID
}

// ClientContext is what a gateway needs to know about the buyer's browser.
type ClientContext struct {
	IP string
}
