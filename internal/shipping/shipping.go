// Package shipping manages shipping methods and the selection rules
// that pick one for a cart.
package shipping

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// KindShipping is the entity kind under which shipping methods are stored.
const KindShipping = "shop_shipping"

// Preference controls how a cart picks its shipping method when more
// than one candidate applies.
type Preference string

const (
	// PreferenceUser keeps whatever the customer picked explicitly.
	PreferenceUser Preference = "user"
	// PreferenceCheapest picks the lowest-priced applicable method.
	PreferenceCheapest Preference = "cheapest"
	// PreferenceMostExpensive picks the highest-priced applicable method.
	PreferenceMostExpensive Preference = "most_expensive"
)

// Valid reports whether the preference is known.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceUser, PreferenceCheapest, PreferenceMostExpensive:
		return true
	}
	return false
}

// Method is one shipping option.
type Method struct {
	Key               common.Key      `json:"key"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Price             decimal.Decimal `json:"shipping_price"`
	DeliveryTimeMin   int             `json:"delivery_time_min"`
	DeliveryTimeMax   int             `json:"delivery_time_max"`
	Countries         []string        `json:"countries,omitempty"`
	MinimumOrderValue decimal.Decimal `json:"minimum_order_value"`
	Active            bool            `json:"active"`
}

// AppliesTo reports whether the method can ship an order of the given
// value into the given country. An empty country list means
// worldwide.
func (m *Method) AppliesTo(country string, orderValue decimal.Decimal) bool {
	if !m.Active {
		return false
	}
	if orderValue.LessThan(m.MinimumOrderValue) {
		return false
	}
	if len(m.Countries) == 0 {
		return true
	}
	for _, c := range m.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// Service provides shipping method CRUD and selection.
type Service struct {
	store store.Store
	log   zerolog.Logger
}

// NewService builds the shipping service.
func NewService(st store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log}
}

// Get loads one shipping method.
func (s *Service) Get(ctx context.Context, key common.Key) (*Method, error) {
	if key.Kind != KindShipping {
		return nil, common.InvalidKey(key.String())
	}
	var m Method
	if _, err := store.GetAs(ctx, s.store, key, &m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.NotFound("shipping", key.String())
		}
		return nil, err
	}
	m.Key = key
	return &m, nil
}

// Upsert writes a shipping method. A zero key allocates a new one.
func (s *Service) Upsert(ctx context.Context, m *Method) (*Method, error) {
	if m.Key.IsZero() {
		m.Key = common.NewKey(KindShipping)
	} else if m.Key.Kind != KindShipping {
		return nil, common.InvalidKey(m.Key.String())
	}
	if m.Name == "" {
		return nil, common.InvalidArgument("shipping name is required")
	}
	if m.Price.IsNegative() {
		return nil, common.InvalidArgument("shipping price must not be negative")
	}
	if err := store.PutAs(ctx, s.store, &store.Entity{Key: m.Key}, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns all shipping methods.
func (s *Service) List(ctx context.Context) ([]*Method, error) {
	ents, err := s.store.Query(ctx, store.Query{Kind: KindShipping})
	if err != nil {
		return nil, err
	}
	methods := make([]*Method, 0, len(ents))
	for _, ent := range ents {
		var m Method
		if err := ent.Decode(&m); err != nil {
			return nil, err
		}
		m.Key = ent.Key
		methods = append(methods, &m)
	}
	return methods, nil
}

// Applicable filters the candidate methods down to those that can
// ship an order of the given value into the country.
func Applicable(methods []*Method, country string, orderValue decimal.Decimal) []*Method {
	var out []*Method
	for _, m := range methods {
		if m.AppliesTo(country, orderValue) {
			out = append(out, m)
		}
	}
	return out
}

// Choose resolves the shipping method for a cart. With PreferenceUser
// the explicit choice wins as long as it still applies; otherwise the
// cheapest or most expensive applicable method is picked. A nil
// return means no method applies.
func Choose(methods []*Method, pref Preference, chosen *common.Key, country string, orderValue decimal.Decimal) *Method {
	applicable := Applicable(methods, country, orderValue)
	if len(applicable) == 0 {
		return nil
	}
	if pref == "" {
		pref = PreferenceUser
	}
	if pref == PreferenceUser && chosen != nil {
		for _, m := range applicable {
			if m.Key.Equal(*chosen) {
				return m
			}
		}
		// The explicit choice no longer applies; fall back to cheapest.
		pref = PreferenceCheapest
	}
	best := applicable[0]
	for _, m := range applicable[1:] {
		switch pref {
		case PreferenceMostExpensive:
			if m.Price.GreaterThan(best.Price) {
				best = m
			}
		default:
			if m.Price.LessThan(best.Price) {
				best = m
			}
		}
	}
	return best
}
