package shipping_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/shipping"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

func method(name string, price float64, minOrder float64, countries ...string) *shipping.Method {
	return &shipping.Method{
		Key:               common.NewKey(shipping.KindShipping),
		Name:              name,
		Price:             decimal.NewFromFloat(price),
		MinimumOrderValue: decimal.NewFromFloat(minOrder),
		Countries:         countries,
		Active:            true,
	}
}

func TestAppliesTo(t *testing.T) {
	m := method("standard", 4.99, 20, "de", "at")
	require.True(t, m.AppliesTo("de", decimal.NewFromInt(50)))
	require.False(t, m.AppliesTo("fr", decimal.NewFromInt(50)))
	require.False(t, m.AppliesTo("de", decimal.NewFromInt(10)))

	worldwide := method("worldwide", 9.99, 0)
	require.True(t, worldwide.AppliesTo("jp", decimal.Zero))

	inactive := method("off", 1, 0)
	inactive.Active = false
	require.False(t, inactive.AppliesTo("de", decimal.NewFromInt(100)))
}

func TestChooseUserPreferenceWins(t *testing.T) {
	cheap := method("cheap", 2.99, 0, "de")
	express := method("express", 9.99, 0, "de")
	chosen := express.Key

	got := shipping.Choose([]*shipping.Method{cheap, express}, shipping.PreferenceUser, &chosen, "de", decimal.NewFromInt(30))
	require.NotNil(t, got)
	require.True(t, got.Key.Equal(express.Key))
}

func TestChooseFallsBackToCheapestWhenChoiceGone(t *testing.T) {
	cheap := method("cheap", 2.99, 0, "de")
	express := method("express", 9.99, 50, "de")
	chosen := express.Key

	// The explicit choice no longer applies below its minimum order value.
	got := shipping.Choose([]*shipping.Method{cheap, express}, shipping.PreferenceUser, &chosen, "de", decimal.NewFromInt(10))
	require.NotNil(t, got)
	require.True(t, got.Key.Equal(cheap.Key))
}

func TestChooseMostExpensive(t *testing.T) {
	cheap := method("cheap", 2.99, 0)
	express := method("express", 9.99, 0)

	got := shipping.Choose([]*shipping.Method{cheap, express}, shipping.PreferenceMostExpensive, nil, "de", decimal.NewFromInt(30))
	require.NotNil(t, got)
	require.True(t, got.Key.Equal(express.Key))
}

func TestChooseNoApplicableMethod(t *testing.T) {
	only := method("domestic", 4.99, 0, "de")
	require.Nil(t, shipping.Choose([]*shipping.Method{only}, shipping.PreferenceCheapest, nil, "fr", decimal.NewFromInt(30)))
	require.Nil(t, shipping.Choose(nil, shipping.PreferenceCheapest, nil, "de", decimal.NewFromInt(30)))
}

func TestServiceUpsertAndList(t *testing.T) {
	ctx := context.Background()
	svc := shipping.NewService(store.NewMemory(), zerolog.Nop())

	m := method("standard", 4.99, 0, "de")
	m.Key = common.Key{}
	saved, err := svc.Upsert(ctx, m)
	require.NoError(t, err)
	require.False(t, saved.Key.IsZero())

	loaded, err := svc.Get(ctx, saved.Key)
	require.NoError(t, err)
	require.Equal(t, "standard", loaded.Name)

	methods, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, methods, 1)
}
