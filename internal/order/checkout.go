package order

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/address"
	"github.com/viur-framework/viur-shop-sub000/internal/cart"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/obs"
	"github.com/viur-framework/viur-shop-sub000/internal/payment"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Carts is the slice of cart behaviour checkout needs.
type Carts interface {
	IsValidNode(ctx context.Context, key common.Key, requireRoot bool) (bool, error)
	GetNode(ctx context.Context, key common.Key) (*cart.Node, error)
	Freeze(ctx context.Context, rootKey common.Key) (*cart.Node, error)
	DetachBasket(ctx context.Context, cartKey common.Key) error
}

// Addresses is the slice of address behaviour checkout needs.
type Addresses interface {
	Get(ctx context.Context, key common.Key) (*address.Address, error)
	Clone(ctx context.Context, key common.Key) (*address.Address, error)
}

// Event describes the payload of order lifecycle events.
type Event struct {
	Order  *Order
	Result *payment.Result
}

// Service drives orders through their lifecycle.
type Service struct {
	store     store.Store
	carts     Carts
	addresses Addresses
	providers *payment.Registry
	hooks     *hooks.Registry
	metrics   *obs.Metrics
	log       zerolog.Logger

	currency       string
	paymentTimeout time.Duration
}

// NewService builds the order service.
func NewService(
	st store.Store,
	carts Carts,
	addresses Addresses,
	providers *payment.Registry,
	registry *hooks.Registry,
	metrics *obs.Metrics,
	log zerolog.Logger,
	currency string,
	paymentTimeout time.Duration,
) *Service {
	if paymentTimeout <= 0 {
		paymentTimeout = 30 * time.Second
	}
	return &Service{
		store:          st,
		carts:          carts,
		addresses:      addresses,
		providers:      providers,
		hooks:          registry,
		metrics:        metrics,
		log:            log,
		currency:       currency,
		paymentTimeout: paymentTimeout,
	}
}

// Params carries the mutable order fields. Unset fields stay
// untouched on update; explicit nulls clear optional references.
type Params struct {
	PaymentProvider common.Optional[string]     `json:"payment_provider"`
	BillingAddress  common.Optional[common.Key] `json:"billing_address"`
	Email           common.Optional[string]     `json:"email"`
	Customer        common.Optional[common.Key] `json:"customer"`
}

// Add creates an order row from a valid root cart and copies the
// cart's current total.
func (s *Service) Add(ctx context.Context, cartKey common.Key, params Params) (*Order, error) {
	valid, err := s.carts.IsValidNode(ctx, cartKey, true)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, common.InvalidArgumentf("cart %s is not a valid root cart", cartKey)
	}
	node, err := s.carts.GetNode(ctx, cartKey)
	if err != nil {
		return nil, err
	}
	sess := session.FromContext(ctx)
	o := &Order{
		Key:          common.NewKey(KindOrder),
		CartKey:      &cartKey,
		Total:        node.Total,
		Currency:     s.currency,
		Customer:     sess.UserKey,
		OwnerSession: sess.ID,
	}
	if err := s.applyParams(ctx, o, params); err != nil {
		return nil, err
	}
	if err := store.PutAs(ctx, s.store, &store.Entity{Key: o.Key}, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Update applies a partial update to a mutable order.
func (s *Service) Update(ctx context.Context, key common.Key, params Params) (*Order, error) {
	o, ent, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, o); err != nil {
		return nil, err
	}
	if o.CheckoutStarted {
		return nil, common.InvalidState("order is frozen for checkout")
	}
	if err := s.applyParams(ctx, o, params); err != nil {
		return nil, err
	}
	if o.CartKey != nil {
		node, err := s.carts.GetNode(ctx, *o.CartKey)
		if err != nil {
			return nil, err
		}
		o.Total = node.Total
	}
	if err := store.PutAs(ctx, s.store, ent, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, key common.Key) (*Order, error) {
	o, _, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns the caller's orders.
func (s *Service) List(ctx context.Context) ([]*Order, error) {
	sess := session.FromContext(ctx)
	seen := map[string]bool{}
	var out []*Order

	collect := func(eq map[string]any) error {
		ents, err := s.store.Query(ctx, store.Query{Kind: KindOrder, Eq: eq})
		if err != nil {
			return err
		}
		for _, ent := range ents {
			if seen[ent.Key.String()] {
				continue
			}
			seen[ent.Key.String()] = true
			var o Order
			if err := ent.Decode(&o); err != nil {
				return err
			}
			o.Key = ent.Key
			out = append(out, &o)
		}
		return nil
	}
	if err := collect(map[string]any{"owner_session": sess.ID}); err != nil {
		return nil, err
	}
	if sess.UserKey != nil {
		if err := collect(map[string]any{"customer": sess.UserKey.String()}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OrderedCount returns how many completed orders the customer has.
// The discount engine uses it to tell first-order customers from
// returning ones.
func (s *Service) OrderedCount(ctx context.Context, customer common.Key) (int, error) {
	return s.store.Count(ctx, store.Query{
		Kind: KindOrder,
		Eq:   map[string]any{"customer": customer.String(), "is_ordered": true},
	})
}

// CanCheckout lists every finding that blocks checkout_start. An
// empty result means checkout may proceed.
func (s *Service) CanCheckout(ctx context.Context, o *Order) []common.ValidationError {
	var findings []common.ValidationError
	if o.CartKey == nil {
		findings = append(findings, common.ValidationError{
			Code: "missing_cart", Message: "the order has no cart", Blocking: true,
		})
	}
	provider := s.checkProvider(ctx, o, &findings)
	if provider != nil && o.CartKey != nil {
		findings = append(findings, provider.CanCheckout(ctx, s.snapshot(ctx, o))...)
	}
	return findings
}

// CheckoutStart re-verifies the checkout preconditions, freezes the
// cart, copies the frozen total, clones the billing address, and
// returns the provider's checkout initialisation data.
func (s *Service) CheckoutStart(ctx context.Context, key common.Key) (*Order, any, error) {
	o, ent, err := s.load(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireAccess(ctx, o); err != nil {
		return nil, nil, err
	}
	if o.CheckoutStarted {
		return nil, nil, common.InvalidState("checkout has already started")
	}
	if blocking := common.BlockingOnly(s.CanCheckout(ctx, o)); len(blocking) > 0 {
		return nil, nil, validationFailure("checkout preconditions failed", blocking)
	}

	frozen, err := s.carts.Freeze(ctx, *o.CartKey)
	if err != nil {
		s.countCheckout("start", "failed")
		return nil, nil, err
	}
	o.Total = frozen.Total

	if o.BillingAddress != nil {
		clone, err := s.addresses.Clone(ctx, *o.BillingAddress)
		if err != nil {
			return nil, nil, err
		}
		o.BillingAddress = &clone.Key
	}
	o.CheckoutStarted = true
	if err := store.PutAs(ctx, s.store, ent, o); err != nil {
		return nil, nil, err
	}
	if err := s.carts.DetachBasket(ctx, *o.CartKey); err != nil {
		return nil, nil, err
	}
	s.hooks.Emit(ctx, hooks.EventCheckoutStarted, &Event{Order: o}, false)
	s.countCheckout("start", "ok")

	provider, err := s.providers.Get(o.PaymentProvider)
	if err != nil {
		return nil, nil, err
	}
	startData, err := provider.CheckoutStartData(ctx, s.snapshot(ctx, o))
	if err != nil {
		return nil, nil, err
	}
	return o, startData, nil
}

// CanOrder lists every finding that blocks checkout_order.
func (s *Service) CanOrder(ctx context.Context, o *Order) []common.ValidationError {
	var findings []common.ValidationError
	if o.IsOrdered {
		findings = append(findings, common.ValidationError{
			Code: "already_ordered", Message: "the order has already been placed", Blocking: true,
		})
	}
	if o.CartKey == nil {
		findings = append(findings, common.ValidationError{
			Code: "missing_cart", Message: "the order has no cart", Blocking: true,
		})
	} else if node, err := s.carts.GetNode(ctx, *o.CartKey); err != nil || node.ShippingAddress == nil {
		findings = append(findings, common.ValidationError{
			Code: "missing_shipping_address", Message: "the cart has no shipping address", Blocking: true,
		})
	}
	if o.BillingAddress == nil {
		findings = append(findings, common.ValidationError{
			Code: "missing_billing_address", Message: "the order has no billing address", Blocking: true,
		})
	}
	provider := s.checkProvider(ctx, o, &findings)
	if provider != nil && o.CartKey != nil {
		findings = append(findings, provider.CanOrder(ctx, s.snapshot(ctx, o))...)
	}
	return findings
}

// CheckoutOrder places the order: it assigns the order UID via the
// hook, invokes the provider's checkout exactly once, and marks the
// order as ordered. Provider failures propagate verbatim; this layer
// never retries a payment call.
func (s *Service) CheckoutOrder(ctx context.Context, key common.Key) (*Order, error) {
	o, ent, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, o); err != nil {
		return nil, err
	}
	if blocking := common.BlockingOnly(s.CanOrder(ctx, o)); len(blocking) > 0 {
		s.countCheckout("order", "blocked")
		return nil, validationFailure("order preconditions failed", blocking)
	}

	if o.UID == "" {
		uid, err := s.hooks.OrderUID(ctx)
		if err != nil {
			return nil, err
		}
		o.UID = uid
	}

	provider, err := s.providers.Get(o.PaymentProvider)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	result, err := provider.Checkout(callCtx, s.snapshot(ctx, o))
	if err != nil {
		s.countCheckout("order", "provider_failed")
		if common.IsAppError(err) {
			return nil, err
		}
		return nil, common.ProviderError(o.PaymentProvider, "the payment could not be completed", err.Error(), err)
	}
	if result != nil {
		o.Payments = append(o.Payments, *result)
	}
	o.IsOrdered = true
	if err := store.PutAs(ctx, s.store, ent, o); err != nil {
		return nil, err
	}
	s.hooks.Emit(ctx, hooks.EventOrderOrdered, &Event{Order: o, Result: result}, false)
	s.countCheckout("order", "ok")
	return o, nil
}

// SetPaid marks the order as paid. External reconciliation (bank
// import, provider webhook) calls this.
func (s *Service) SetPaid(ctx context.Context, key common.Key) (*Order, error) {
	return s.setFlag(ctx, key, func(o *Order) error {
		if o.IsPaid {
			return common.InvalidState("order is already paid")
		}
		o.IsPaid = true
		return nil
	}, hooks.EventOrderPaid)
}

// SetRTS marks the order as ready to ship.
func (s *Service) SetRTS(ctx context.Context, key common.Key) (*Order, error) {
	return s.setFlag(ctx, key, func(o *Order) error {
		if o.IsRTS {
			return common.InvalidState("order is already ready to ship")
		}
		o.IsRTS = true
		return nil
	}, hooks.EventOrderRTS)
}

func (s *Service) setFlag(ctx context.Context, key common.Key, mutate func(*Order) error, event hooks.Event) (*Order, error) {
	o, ent, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !o.IsOrdered {
		return nil, common.InvalidState("order has not been placed yet")
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	if err := store.PutAs(ctx, s.store, ent, o); err != nil {
		return nil, err
	}
	s.hooks.Emit(ctx, event, &Event{Order: o}, false)
	return o, nil
}

func (s *Service) checkProvider(ctx context.Context, o *Order, findings *[]common.ValidationError) payment.Provider {
	if o.PaymentProvider == "" {
		*findings = append(*findings, common.ValidationError{
			Code: "missing_payment_provider", Message: "no payment provider selected", Blocking: true,
		})
		return nil
	}
	provider, err := s.providers.Get(o.PaymentProvider)
	if err != nil {
		*findings = append(*findings, common.ValidationError{
			Code: "unknown_payment_provider", Message: err.Error(), Blocking: true,
		})
		return nil
	}
	return provider
}

func (s *Service) snapshot(ctx context.Context, o *Order) *payment.Order {
	var shippingAddress *common.Key
	if o.CartKey != nil {
		if node, err := s.carts.GetNode(ctx, *o.CartKey); err == nil {
			shippingAddress = node.ShippingAddress
		}
	}
	return o.PaymentSnapshot(shippingAddress)
}

func (s *Service) applyParams(ctx context.Context, o *Order, params Params) error {
	if params.PaymentProvider.Set {
		if params.PaymentProvider.Value != nil {
			if _, err := s.providers.Get(*params.PaymentProvider.Value); err != nil {
				return err
			}
			o.PaymentProvider = *params.PaymentProvider.Value
		} else {
			o.PaymentProvider = ""
		}
	}
	if params.BillingAddress.Set {
		if params.BillingAddress.Value != nil {
			if _, err := s.addresses.Get(ctx, *params.BillingAddress.Value); err != nil {
				return err
			}
		}
		o.BillingAddress = params.BillingAddress.Value
	}
	if params.Email.Set {
		if params.Email.Value != nil {
			o.Email = *params.Email.Value
		} else {
			o.Email = ""
		}
	}
	if params.Customer.Set {
		o.Customer = params.Customer.Value
	}
	return nil
}

func (s *Service) load(ctx context.Context, key common.Key) (*Order, *store.Entity, error) {
	if key.Kind != KindOrder {
		return nil, nil, common.InvalidKey(key.String())
	}
	var o Order
	ent, err := store.GetAs(ctx, s.store, key, &o)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, common.NotFound("order", key.String())
		}
		return nil, nil, err
	}
	o.Key = key
	return &o, ent, nil
}

func (s *Service) requireAccess(ctx context.Context, o *Order) error {
	sess := session.FromContext(ctx)
	if o.OwnerSession != "" && o.OwnerSession == sess.ID {
		return nil
	}
	if o.Customer != nil && sess.UserKey != nil && o.Customer.Equal(*sess.UserKey) {
		return nil
	}
	return common.NotAuthorized("no access to this order")
}

func (s *Service) countCheckout(stage, outcome string) {
	if s.metrics != nil {
		s.metrics.CheckoutTotal.WithLabelValues(stage, outcome).Inc()
	}
}

func validationFailure(message string, findings []common.ValidationError) *common.AppError {
	e := common.InvalidState(message)
	e.Details = findings
	return e
}
