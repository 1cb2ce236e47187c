package payment

import (
	"context"
	"time"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Prepayment lets customers order with the agreement to pay in
// advance; shipping waits until the payment arrives and is reported
// via the order's set-paid entry point.
type Prepayment struct {
	// BankDetails is rendered to the customer so they know where to
	// transfer the money.
	BankDetails map[string]string
}

// NewPrepayment builds the prepayment provider.
func NewPrepayment(bankDetails map[string]string) *Prepayment {
	return &Prepayment{BankDetails: bankDetails}
}

// Name implements Provider.
func (*Prepayment) Name() string { return "prepayment" }

// CanCheckout implements Provider.
func (*Prepayment) CanCheckout(context.Context, *Order) []common.ValidationError { return nil }

// CanOrder implements Provider.
func (*Prepayment) CanOrder(context.Context, *Order) []common.ValidationError { return nil }

// CheckoutStartData implements Provider.
func (p *Prepayment) CheckoutStartData(_ context.Context, order *Order) (any, error) {
	return map[string]any{
		"provider":     p.Name(),
		"total":        order.Total,
		"bank_details": p.BankDetails,
	}, nil
}

// Checkout implements Provider.
func (p *Prepayment) Checkout(_ context.Context, _ *Order) (*Result, error) {
	return &Result{Provider: p.Name(), CreatedAt: time.Now().UTC()}, nil
}

// Charge implements Provider. A prepayment cannot be charged; the
// customer transfers the money on their own.
func (*Prepayment) Charge(context.Context, *Order) error {
	return common.IllegalOperation("a prepayment cannot be charged")
}

// CheckPaymentState implements Provider.
func (*Prepayment) CheckPaymentState(context.Context, *Order) (bool, any, error) {
	return false, nil, common.IllegalOperation("the prepayment payment state cannot be checked by this provider")
}
