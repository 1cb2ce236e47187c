// Package hooks hosts the shop's customization points: named events
// that observers subscribe to, and replaceable strategy functions such
// as order UID assignment and current-country resolution.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
)

// Event identifies a lifecycle event emitted by the shop.
type Event string

const (
	EventCheckoutStarted Event = "checkout_started"
	EventOrderOrdered    Event = "order_ordered"
	EventOrderPaid       Event = "order_paid"
	EventOrderRTS        Event = "order_rts"
)

// Observer reacts to an emitted event. Payload is event specific and
// documented at the emit site.
type Observer func(ctx context.Context, event Event, payload any) error

// AssignOrderUID produces the customer-facing order number.
type AssignOrderUID func(ctx context.Context) (string, error)

// ResolveCountry resolves the ISO country of the current request.
type ResolveCountry func(ctx context.Context) (string, error)

// Registry holds observers and strategy overrides. The zero value is
// not usable; build it with NewRegistry.
type Registry struct {
	log zerolog.Logger

	mu             sync.RWMutex
	observers      map[Event][]Observer
	assignOrderUID AssignOrderUID
	resolveCountry ResolveCountry
}

// NewRegistry builds a registry with the default strategies.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:       log,
		observers: map[Event][]Observer{},
	}
}

// On subscribes an observer to an event. Observers run in
// subscription order.
func (r *Registry) On(event Event, fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[event] = append(r.observers[event], fn)
}

// Emit notifies all observers of the event. Observer errors are
// logged and swallowed unless failFast is set, in which case the
// first error aborts the remaining observers and is returned.
func (r *Registry) Emit(ctx context.Context, event Event, payload any, failFast bool) error {
	r.mu.RLock()
	observers := append([]Observer(nil), r.observers[event]...)
	r.mu.RUnlock()

	for _, fn := range observers {
		if err := fn(ctx, event, payload); err != nil {
			if failFast {
				return err
			}
			r.log.Error().Err(err).Str("event", string(event)).Msg("event observer failed")
		}
	}
	return nil
}

// SetAssignOrderUID replaces the order number strategy.
func (r *Registry) SetAssignOrderUID(fn AssignOrderUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignOrderUID = fn
}

// OrderUID returns a new customer-facing order number. The default
// derives it from the current timestamp, grouped with dashes for
// readability.
func (r *Registry) OrderUID(ctx context.Context) (string, error) {
	r.mu.RLock()
	fn := r.assignOrderUID
	r.mu.RUnlock()
	if fn != nil {
		return fn(ctx)
	}
	return defaultOrderUID(time.Now()), nil
}

// SetResolveCountry replaces the current-country strategy.
func (r *Registry) SetResolveCountry(fn ResolveCountry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveCountry = fn
}

// CurrentCountry resolves the country of the current request. Without
// an override it falls back to the session country and fails when
// that is unset, so country-dependent logic never runs on a guess.
func (r *Registry) CurrentCountry(ctx context.Context) (string, error) {
	r.mu.RLock()
	fn := r.resolveCountry
	r.mu.RUnlock()
	if fn != nil {
		return fn(ctx)
	}
	if country := session.FromContext(ctx).Country; country != "" {
		return strings.ToLower(country), nil
	}
	return "", common.InvalidState("current country cannot be resolved")
}

// defaultOrderUID renders the nanosecond timestamp as dash-grouped
// digit blocks, e.g. "1756-5441-2345-6789".
func defaultOrderUID(now time.Time) string {
	digits := fmt.Sprintf("%d", now.UnixNano()/1e5)
	var groups []string
	for len(digits) > 4 {
		groups = append(groups, digits[:4])
		digits = digits[4:]
	}
	if len(digits) > 0 {
		groups = append(groups, digits)
	}
	return strings.Join(groups, "-")
}
