// Package payment defines the payment provider capability interface
// and the built-in offline providers.
package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Order is the read-only snapshot of order state a provider may
// inspect. The order module assembles it; providers never see or
// mutate the stored entity.
type Order struct {
	Key             common.Key
	UID             string
	Total           decimal.Decimal
	Currency        string
	CartKey         *common.Key
	BillingAddress  *common.Key
	ShippingAddress *common.Key
	Customer        *common.Key
	Provider        string
	Email           string

	IsOrdered bool
	IsPaid    bool
	IsRTS     bool
}

// Result is what a provider returns from a successful checkout call.
type Result struct {
	Provider      string          `json:"provider"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Provider is the fixed capability set every payment method offers.
// Providers that structurally cannot perform an operation return an
// ILLEGAL_OPERATION error rather than pretending success.
type Provider interface {
	Name() string

	// CanCheckout and CanOrder return provider-specific validation
	// findings; an empty list means the operation may proceed.
	CanCheckout(ctx context.Context, order *Order) []common.ValidationError
	CanOrder(ctx context.Context, order *Order) []common.ValidationError

	// CheckoutStartData returns the data a client needs to initialise
	// the provider's checkout flow.
	CheckoutStartData(ctx context.Context, order *Order) (any, error)

	// Checkout submits the order to the provider. Not retried by the
	// caller; providers must treat it as at-most-once.
	Checkout(ctx context.Context, order *Order) (*Result, error)

	// Charge captures a previously authorised payment.
	Charge(ctx context.Context, order *Order) error

	// CheckPaymentState asks the provider whether the order is paid.
	CheckPaymentState(ctx context.Context, order *Order) (bool, any, error)
}

// Registry resolves providers by name. It is populated once during
// startup wiring and read-only afterwards.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, common.InvalidArgumentf("unknown payment provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
