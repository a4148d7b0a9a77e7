package dto

import (
	"order-payment-service/internal/model"
	"order-payment-service/internal/service"
	"time"

	"github.com/shopspring/decimal"
)

type OrderItemRequest struct {
	DishID   string `json:"dish_id"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type AddressRequest struct {
	ReceiverName string `json:"receiver_name"`
	Phone        string `json:"phone"`
	Street       string `json:"street"`
	Ward         string `json:"ward"`
	District     string `json:"district"`
	City         string `json:"city"`
}

type PlaceOrderRequest struct {
	DeliveryType  string              `json:"delivery_type"`
	AddressID     *string             `json:"address_id"`
	Address       *AddressRequest     `json:"address"`
	PaymentMethod string              `json:"payment_method"`
	Items         []*OrderItemRequest `json:"items"`
	DeliveryTime  *time.Time          `json:"delivery_time"`
	VoucherID     *string             `json:"voucher_id"`
	ShippingFee   decimal.Decimal     `json:"shipping_fee"`
	ReceiverName  string              `json:"receiver_name"`
	ReceiverPhone string              `json:"receiver_phone"`
	Note          string              `json:"note"`
}

func (r *PlaceOrderRequest) ToInput(userID, clientIP string) service.PlaceOrderInput {
	in := service.PlaceOrderInput{
		UserID:        userID,
		DeliveryType:  model.DeliveryType(r.DeliveryType),
		AddressID:     r.AddressID,
		PaymentMethod: model.PaymentMethod(r.PaymentMethod),
		DeliveryTime:  r.DeliveryTime,
		VoucherID:     r.VoucherID,
		ShippingFee:   r.ShippingFee,
		ReceiverName:  r.ReceiverName,
		ReceiverPhone: r.ReceiverPhone,
		Note:          r.Note,
		Client:        service.ClientContext{IP: clientIP},
	}
	if r.Address != nil {
		in.Address = &service.AddressInput{
			ReceiverName: r.Address.ReceiverName,
			Phone:        r.Address.Phone,
			Street:       r.Address.Street,
			Ward:         r.Address.Ward,
			District:     r.Address.District,
			City:         r.Address.City,
		}
	}
	for _, item := range r.Items {
		if item == nil {
			continue
		}
		in.Items = append(in.Items, service.OrderItemInput{
			DishID:   item.DishID,
			Quantity: item.Quantity,
			Note:     item.Note,
		})
	}
	return in
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ChangeMethodRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type ConfirmPaymentRequest struct {
	AttemptID       string          `json:"attempt_id"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionCode string          `json:"transaction_code"`
}

type BraintreeCheckoutRequest struct {
	Ref   string `json:"ref"`
	Nonce string `json:"nonce"`
}

type OrderItemResponse struct {
	DishID    string          `json:"dish_id"`
	DishName  string          `json:"dish_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	Note      string          `json:"note,omitempty"`
}

type OrderResponse struct {
	ID                string               `json:"id"`
	UserID            string               `json:"user_id"`
	DeliveryType      string               `json:"delivery_type"`
	AddressID         *string              `json:"address_id"`
	ReceiverName      string               `json:"receiver_name"`
	ReceiverPhone     string               `json:"receiver_phone"`
	DeliveryTime      *time.Time           `json:"delivery_time"`
	Note              string               `json:"note,omitempty"`
	Items             []*OrderItemResponse `json:"items"`
	ItemsSubtotal     decimal.Decimal      `json:"items_subtotal"`
	VAT               decimal.Decimal      `json:"vat"`
	ShippingFee       decimal.Decimal      `json:"shipping_fee"`
	Discount          decimal.Decimal      `json:"discount"`
	Total             decimal.Decimal      `json:"total"`
	Status            string               `json:"status"`
	PaymentStatus     string               `json:"payment_status"`
	PaymentMethod     string               `json:"payment_method"`
	VoucherID         *string              `json:"voucher_id"`
	CancelReason      string               `json:"cancel_reason,omitempty"`
	ReturnReason      string               `json:"return_reason,omitempty"`
	CancelledAt       *time.Time           `json:"cancelled_at"`
	ReturnRequestedAt *time.Time           `json:"return_requested_at"`
	DeliveredAt       *time.Time           `json:"delivered_at"`
	PaidAt            *time.Time           `json:"paid_at"`
	CreatedAt         time.Time            `json:"created_at"`
}

func NewOrderResponse(o *model.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		DeliveryType:      string(o.DeliveryType),
		AddressID:         o.AddressID,
		ReceiverName:      o.ReceiverName,
		ReceiverPhone:     o.ReceiverPhone,
		DeliveryTime:      o.DeliveryTime,
		Note:              o.Note,
		Items:             make([]*OrderItemResponse, 0, len(o.Items)),
		ItemsSubtotal:     o.ItemsSubtotal,
		VAT:               o.VAT,
		ShippingFee:       o.ShippingFee,
		Discount:          o.Discount,
		Total:             o.Total,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		PaymentMethod:     string(o.PaymentMethod),
		VoucherID:         o.VoucherID,
		CancelReason:      o.CancelReason,
		ReturnReason:      o.ReturnReason,
		CancelledAt:       o.CancelledAt,
		ReturnRequestedAt: o.ReturnRequestedAt,
		DeliveredAt:       o.DeliveredAt,
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, &OrderItemResponse{
			DishID:    item.DishID,
			DishName:  item.DishName,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
			Note:      item.Note,
		})
	}
	return resp
}

type PlaceOrderResponse struct {
	Order        *OrderResponse          `json:"order"`
	Payment      *service.DispatchResult `json:"payment"`
	PaymentError string                  `json:"payment_error,omitempty"`
}

type PaymentAttemptResponse struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionCode string          `json:"transaction_code"`
	ProviderRef     string          `json:"provider_ref,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	PaidAt          *time.Time      `json:"paid_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

func NewPaymentAttemptResponse(p *model.Payment) *PaymentAttemptResponse {
	return &PaymentAttemptResponse{
		ID:              p.ID,
		Method:          string(p.Method),
		Status:          string(p.Status),
		Amount:          p.Amount,
		TransactionCode: p.TransactionCode,
		ProviderRef:     p.ProviderRef,
		FailureReason:   p.FailureReason,
		PaidAt:          p.PaidAt,
		CreatedAt:       p.CreatedAt,
	}
}

type ConfirmPaymentResponse struct {
	AttemptID string `json:"attempt_id"`
	SubjectID string `json:"subject_id"`
	Applied   bool   `json:"applied"`
	Late      bool   `json:"late"`
}

type CallbackResponse struct {
	Outcome     string `json:"outcome"`
	AttemptID   string `json:"attempt_id"`
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

type GatewayCallbackResponse struct {
	ID          uint            `json:"id"`
	Provider    string          `json:"provider"`
	AttemptID   string          `json:"attempt_id"`
	ProviderRef string          `json:"provider_ref"`
	ResultCode  string          `json:"result_code"`
	Amount      decimal.Decimal `json:"amount"`
	Outcome     string          `json:"outcome"`
	Detail      string          `json:"detail"`
	CreatedAt   time.Time       `json:"created_at"`
}

// VNPayIPNResponse is the body VNPay expects back from the IPN URL.
type VNPayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}
