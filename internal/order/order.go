// Package order implements the checkout state machine on top of
// frozen carts and payment providers.
package order

import (
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/payment"
)

// KindOrder is the entity kind under which orders are stored.
const KindOrder = "shop_order"

// State is the derived lifecycle state of an order. There is no
// transition backwards; PAID and RTS are independent flags on top of
// ORDERED, not further states.
type State string

const (
	StateOrderCreated    State = "order_created"
	StateCheckoutStarted State = "checkout_started"
	StateOrdered         State = "ordered"
)

// Order is a frozen snapshot tied to one root cart.
type Order struct {
	Key common.Key `json:"key"`
	UID string     `json:"order_uid,omitempty"`

	CartKey  *common.Key     `json:"cart,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency,omitempty"`

	BillingAddress *common.Key `json:"billing_address,omitempty"`
	Customer       *common.Key `json:"customer,omitempty"`
	Email          string      `json:"email,omitempty"`

	// OwnerSession ties anonymous orders to the creating session.
	OwnerSession string `json:"owner_session,omitempty"`

	PaymentProvider string `json:"payment_provider,omitempty"`

	// Payments is the append-only log of provider checkout attempts.
	Payments []payment.Result `json:"payment,omitempty"`

	CheckoutStarted bool `json:"checkout_started"`
	IsOrdered       bool `json:"is_ordered"`
	IsPaid          bool `json:"is_paid"`
	IsRTS           bool `json:"is_rts"`
}

// State derives the lifecycle state from the flags.
func (o *Order) State() State {
	switch {
	case o.IsOrdered:
		return StateOrdered
	case o.CheckoutStarted:
		return StateCheckoutStarted
	default:
		return StateOrderCreated
	}
}

// PaymentSnapshot builds the read-only view handed to payment
// providers.
func (o *Order) PaymentSnapshot(shippingAddress *common.Key) *payment.Order {
	return &payment.Order{
		Key:             o.Key,
		UID:             o.UID,
		Total:           o.Total,
		Currency:        o.Currency,
		CartKey:         o.CartKey,
		BillingAddress:  o.BillingAddress,
		ShippingAddress: shippingAddress,
		Customer:        o.Customer,
		Provider:        o.PaymentProvider,
		Email:           o.Email,
		IsOrdered:       o.IsOrdered,
		IsPaid:          o.IsPaid,
		IsRTS:           o.IsRTS,
	}
}
