package payment

import (
	"context"
	"time"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Invoice lets customers order now and pay later against an invoice.
// The order may ship immediately but is not considered paid; payment
// reconciliation happens outside the shop and is reported back via
// the order's set-paid entry point.
type Invoice struct{}

// NewInvoice builds the invoice provider.
func NewInvoice() *Invoice { return &Invoice{} }

// Name implements Provider.
func (*Invoice) Name() string { return "invoice" }

// CanCheckout implements Provider. Invoices have no preconditions of
// their own.
func (*Invoice) CanCheckout(context.Context, *Order) []common.ValidationError { return nil }

// CanOrder implements Provider.
func (*Invoice) CanOrder(context.Context, *Order) []common.ValidationError { return nil }

// CheckoutStartData implements Provider.
func (p *Invoice) CheckoutStartData(_ context.Context, order *Order) (any, error) {
	return map[string]any{
		"provider": p.Name(),
		"total":    order.Total,
	}, nil
}

// Checkout implements Provider. Accepting the order is all an invoice
// needs.
func (p *Invoice) Checkout(_ context.Context, _ *Order) (*Result, error) {
	return &Result{Provider: p.Name(), CreatedAt: time.Now().UTC()}, nil
}

// Charge implements Provider. An invoice cannot be charged; the
// customer settles it on their own.
func (*Invoice) Charge(context.Context, *Order) error {
	return common.IllegalOperation("an invoice cannot be charged")
}

// CheckPaymentState implements Provider. Without access to the target
// bank account the state cannot be checked here.
func (*Invoice) CheckPaymentState(context.Context, *Order) (bool, any, error) {
	return false, nil, common.IllegalOperation("the invoice payment state cannot be checked by this provider")
}
