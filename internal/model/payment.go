package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SubjectKind string

const (
	SubjectOrder       SubjectKind = "ORDER"
	SubjectReservation SubjectKind = "RESERVATION"
)

// PaymentSubject is the domain object an attempt pays for.
// The only implementations are OrderRef and ReservationRef.
type PaymentSubject interface {
	Kind() SubjectKind
	ID() string
	isPaymentSubject()
}

type OrderRef struct{ OrderID string }

func (r OrderRef) Kind() SubjectKind { return SubjectOrder }
func (r OrderRef) ID() string        { return r.OrderID }
func (OrderRef) isPaymentSubject()   {}

type ReservationRef struct{ ReservationID string }

func (r ReservationRef) Kind() SubjectKind { return SubjectReservation }
func (r ReservationRef) ID() string        { return r.ReservationID }
func (ReservationRef) isPaymentSubject()   {}

// SubjectOf rebuilds a subject from its stored columns.
func SubjectOf(kind SubjectKind, id string) (PaymentSubject, error) {
	switch kind {
	case SubjectOrder:
		return OrderRef{OrderID: id}, nil
	case SubjectReservation:
		return ReservationRef{ReservationID: id}, nil
	}
	return nil, fmt.Errorf("unknown payment subject kind %q", kind)
}

// Payment is a single attempt to pay for an order or a reservation.
type Payment struct {
	ID              string          `gorm:"primaryKey;size:36;not null"`
	SubjectType     SubjectKind     `gorm:"size:16;not null;index:idx_payment_subject"`
	SubjectID       string          `gorm:"size:36;not null;index:idx_payment_subject"`
	Method          PaymentMethod   `gorm:"size:16;not null"`
	Status          PaymentStatus   `gorm:"size:16;index;not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	TransactionCode string          `gorm:"size:64;index;not null"`
	ProviderRef     string          `gorm:"size:128;index"`
	BankingQR       string          `gorm:"type:text"`
	ConfirmedBy     *string         `gorm:"size:64"`
	FailureReason   string          `gorm:"size:255"`
	PaidAt          *time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

// NewPayment builds an UNPAID attempt. The subject columns are only ever
// populated from a PaymentSubject so both are always set.
func NewPayment(id string, subject PaymentSubject, method PaymentMethod, amount decimal.Decimal, at time.Time) *Payment {
	return &Payment{
		ID:              id,
		SubjectType:     subject.Kind(),
		SubjectID:       subject.ID(),
		Method:          method,
		Status:          PaymentStatusUnpaid,
		Amount:          amount,
		TransactionCode: TransactionCode(method, id, at),
	}
}

func (p *Payment) Subject() (PaymentSubject, error) {
	return SubjectOf(p.SubjectType, p.SubjectID)
}

// TransactionCode formats {PREFIX}-{YYYYMMDD}-{last 6 of attempt id}.
func TransactionCode(method PaymentMethod, attemptID string, at time.Time) string {
	suffix := strings.ReplaceAll(attemptID, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", method.CodePrefix(), at.Format("20060102"), strings.ToUpper(suffix))
}

type CallbackOutcome string

const (
	CallbackAccepted  CallbackOutcome = "ACCEPTED"
	CallbackFailed    CallbackOutcome = "FAILED"
	CallbackDuplicate CallbackOutcome = "DUPLICATE"
	CallbackMismatch  CallbackOutcome = "MISMATCH"
	CallbackRejected  CallbackOutcome = "REJECTED"
	CallbackLate      CallbackOutcome = "LATE"
)

// GatewayCallback is the audit trail of every return/IPN we processed,
// kept so mismatches and late payments can be reviewed by staff.
type GatewayCallback struct {
	ID          uint            `gorm:"primaryKey"`
	Provider    PaymentMethod   `gorm:"size:16;index;not null"`
	AttemptID   string          `gorm:"size:36;index"`
	ProviderRef string          `gorm:"size:128"`
	ResultCode  string          `gorm:"size:32"`
	Amount      decimal.Decimal `gorm:"type:decimal(15,2)"`
	Outcome     CallbackOutcome `gorm:"size:16;index;not null"`
	Detail      string          `gorm:"size:512"`
	CreatedAt   time.Time
}
