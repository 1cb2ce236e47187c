package address_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/viur-framework/viur-shop-sub000/internal/address"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

func validAddress(customer *common.Key) *address.Address {
	return &address.Address{
		AddressType:  address.TypeBilling,
		Firstname:    "Ada",
		Lastname:     "Lovelace",
		StreetName:   "Example Road",
		StreetNumber: "12",
		ZipCode:      "38100",
		City:         "Braunschweig",
		Country:      "DE",
		Customer:     customer,
	}
}

func TestUpsertValidatesRequiredFields(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())

	addr := validAddress(nil)
	addr.City = ""
	_, err := svc.Upsert(ctx, addr)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = svc.Upsert(ctx, &address.Address{AddressType: "weird"})
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))
}

func TestUpsertNormalizesCountryAndAssignsKey(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())

	saved, err := svc.Upsert(ctx, validAddress(nil))
	require.NoError(t, err)
	require.False(t, saved.Key.IsZero())
	require.Equal(t, "de", saved.Country)
}

func TestUpsertDefaultClearsPreviousDefault(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())
	customer := common.NewKey("user")

	first := validAddress(&customer)
	first.IsDefault = true
	firstSaved, err := svc.Upsert(ctx, first)
	require.NoError(t, err)

	second := validAddress(&customer)
	second.IsDefault = true
	_, err = svc.Upsert(ctx, second)
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, firstSaved.Key)
	require.NoError(t, err)
	require.False(t, reloaded.IsDefault)
}

func TestCloneIsImmutableCopy(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())

	src := validAddress(nil)
	src.IsDefault = true
	saved, err := svc.Upsert(ctx, src)
	require.NoError(t, err)

	clone, err := svc.Clone(ctx, saved.Key)
	require.NoError(t, err)
	require.False(t, clone.Key.Equal(saved.Key))
	require.False(t, clone.IsDefault)
	require.NotNil(t, clone.CloneOf)
	require.True(t, clone.CloneOf.Equal(saved.Key))

	// Editing the source afterwards leaves the clone untouched.
	saved.City = "Hannover"
	_, err = svc.Upsert(ctx, saved)
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, clone.Key)
	require.NoError(t, err)
	require.Equal(t, "Braunschweig", reloaded.City)
}

func TestCloneOfCloneKeepsOriginalOrigin(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())

	saved, err := svc.Upsert(ctx, validAddress(nil))
	require.NoError(t, err)

	first, err := svc.Clone(ctx, saved.Key)
	require.NoError(t, err)
	second, err := svc.Clone(ctx, first.Key)
	require.NoError(t, err)
	require.True(t, second.CloneOf.Equal(saved.Key))
}

func TestListForCustomerExcludesClones(t *testing.T) {
	ctx := context.Background()
	svc := address.NewService(store.NewMemory(), zerolog.Nop())
	customer := common.NewKey("user")

	saved, err := svc.Upsert(ctx, validAddress(&customer))
	require.NoError(t, err)
	_, err = svc.Clone(ctx, saved.Key)
	require.NoError(t, err)

	list, err := svc.ListForCustomer(ctx, customer, address.TypeBilling)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, list[0].Key.Equal(saved.Key))
}
