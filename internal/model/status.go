package model

type OrderStatus string

const (
	OrderStatusPlaced          OrderStatus = "ORDER_PLACED"
	OrderStatusConfirmed       OrderStatus = "ORDER_CONFIRMED"
	OrderStatusPendingPickup   OrderStatus = "PENDING_PICKUP"
	OrderStatusPickedUp        OrderStatus = "PICKED_UP"
	OrderStatusInTransit       OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusDeliveryFailed  OrderStatus = "DELIVERY_FAILED"
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
	OrderStatusReturnApproved  OrderStatus = "RETURN_APPROVED"
	OrderStatusReturnRejected  OrderStatus = "RETURN_REJECTED"
	OrderStatusReturned        OrderStatus = "RETURNED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:          {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:       {OrderStatusPendingPickup},
	OrderStatusPendingPickup:   {OrderStatusPickedUp, OrderStatusInTransit},
	OrderStatusPickedUp:        {OrderStatusInTransit},
	OrderStatusInTransit:       {OrderStatusDelivered, OrderStatusDeliveryFailed},
	OrderStatusDelivered:       {OrderStatusReturnRequested},
	OrderStatusDeliveryFailed:  {OrderStatusPendingPickup, OrderStatusCancelled},
	OrderStatusReturnRequested: {OrderStatusReturnApproved, OrderStatusReturnRejected},
	OrderStatusReturnApproved:  {OrderStatusReturned},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusPendingPickup, OrderStatusPickedUp,
		OrderStatusInTransit, OrderStatusDelivered, OrderStatusDeliveryFailed, OrderStatusReturnRequested,
		OrderStatusReturnApproved, OrderStatusReturnRejected, OrderStatusReturned, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus is shared by orders, reservations and attempts.
// PENDING is only ever held by an attempt that has been handed to a gateway.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:  {PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:  {PaymentStatusUnpaid, PaymentStatusPaid},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether an attempt in this status can still be resolved.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusUnpaid || s == PaymentStatusPending
}
