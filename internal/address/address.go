// Package address manages billing and shipping addresses. Orders
// reference address clones so that editing an address book entry
// never rewrites an already placed order.
package address

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// KindAddress is the entity kind under which addresses are stored.
const KindAddress = "shop_address"

// Type distinguishes billing from shipping addresses.
type Type string

const (
	TypeBilling  Type = "billing"
	TypeShipping Type = "shipping"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	return t == TypeBilling || t == TypeShipping
}

// Address is one address book entry.
type Address struct {
	Key             common.Key  `json:"key"`
	AddressType     Type        `json:"address_type"`
	Salutation      string      `json:"salutation,omitempty"`
	Firstname       string      `json:"firstname"`
	Lastname        string      `json:"lastname"`
	CompanyName     string      `json:"company_name,omitempty"`
	StreetName      string      `json:"street_name"`
	StreetNumber    string      `json:"street_number"`
	AddressAddition string      `json:"address_addition,omitempty"`
	ZipCode         string      `json:"zip_code"`
	City            string      `json:"city"`
	Country         string      `json:"country"`
	Customer        *common.Key `json:"customer,omitempty"`
	IsDefault       bool        `json:"is_default"`
	Email           string      `json:"email,omitempty"`
	Phone           string      `json:"phone,omitempty"`

	// CloneOf points at the address book entry this order-bound copy
	// was taken from.
	CloneOf *common.Key `json:"cloned_from,omitempty"`
}

// Service provides address book CRUD and order-time cloning.
type Service struct {
	store store.Store
	log   zerolog.Logger
}

// NewService builds the address service.
func NewService(st store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log}
}

// Get loads a single address.
func (s *Service) Get(ctx context.Context, key common.Key) (*Address, error) {
	if key.Kind != KindAddress {
		return nil, common.InvalidKey(key.String())
	}
	var addr Address
	if _, err := store.GetAs(ctx, s.store, key, &addr); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.NotFound("address", key.String())
		}
		return nil, err
	}
	addr.Key = key
	return &addr, nil
}

// Upsert validates and writes an address. A zero key allocates a new
// one. When IsDefault is set, the previous default of the same
// customer and type is cleared in the same transaction.
func (s *Service) Upsert(ctx context.Context, addr *Address) (*Address, error) {
	if err := validate(addr); err != nil {
		return nil, err
	}
	if addr.Key.IsZero() {
		addr.Key = common.NewKey(KindAddress)
	} else if addr.Key.Kind != KindAddress {
		return nil, common.InvalidKey(addr.Key.String())
	}
	addr.Country = strings.ToLower(strings.TrimSpace(addr.Country))

	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if addr.IsDefault && addr.Customer != nil {
			if err := s.clearDefault(ctx, tx, *addr.Customer, addr.AddressType, addr.Key); err != nil {
				return err
			}
		}
		return store.PutAs(ctx, tx, &store.Entity{Key: addr.Key}, addr)
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// Delete removes an address book entry. Clones are left untouched.
func (s *Service) Delete(ctx context.Context, key common.Key) error {
	if key.Kind != KindAddress {
		return common.InvalidKey(key.String())
	}
	return s.store.Delete(ctx, key)
}

// ListForCustomer returns the customer's address book entries,
// optionally filtered by type. Clones are excluded.
func (s *Service) ListForCustomer(ctx context.Context, customer common.Key, addressType Type) ([]*Address, error) {
	eq := map[string]any{"customer": customer.String()}
	if addressType != "" {
		eq["address_type"] = string(addressType)
	}
	ents, err := s.store.Query(ctx, store.Query{Kind: KindAddress, Eq: eq})
	if err != nil {
		return nil, err
	}
	var out []*Address
	for _, ent := range ents {
		var addr Address
		if err := ent.Decode(&addr); err != nil {
			return nil, err
		}
		if addr.CloneOf != nil {
			continue
		}
		addr.Key = ent.Key
		out = append(out, &addr)
	}
	return out, nil
}

// Clone copies an address into a new entity pointing back at its
// source. Checkout attaches clones to the order.
func (s *Service) Clone(ctx context.Context, key common.Key) (*Address, error) {
	src, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	clone := *src
	clone.Key = common.NewKey(KindAddress)
	clone.IsDefault = false
	origin := src.Key
	if src.CloneOf != nil {
		origin = *src.CloneOf
	}
	clone.CloneOf = &origin
	if err := store.PutAs(ctx, s.store, &store.Entity{Key: clone.Key}, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (s *Service) clearDefault(ctx context.Context, tx store.Store, customer common.Key, addressType Type, keep common.Key) error {
	ents, err := tx.Query(ctx, store.Query{
		Kind: KindAddress,
		Eq: map[string]any{
			"customer":     customer.String(),
			"address_type": string(addressType),
			"is_default":   true,
		},
	})
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if ent.Key.Equal(keep) {
			continue
		}
		var other Address
		if err := ent.Decode(&other); err != nil {
			return err
		}
		other.IsDefault = false
		if err := store.PutAs(ctx, tx, ent, &other); err != nil {
			return err
		}
	}
	return nil
}

func validate(addr *Address) error {
	if !addr.AddressType.Valid() {
		return common.InvalidArgumentf("unknown address type %q", addr.AddressType)
	}
	required := []struct {
		field string
		value string
	}{
		{"firstname", addr.Firstname},
		{"lastname", addr.Lastname},
		{"street_name", addr.StreetName},
		{"zip_code", addr.ZipCode},
		{"city", addr.City},
		{"country", addr.Country},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return common.InvalidArgumentf("address is missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
