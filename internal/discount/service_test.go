package discount_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

type cartStub struct {
	info     discount.CartContext
	attached []*discount.Discount
	codes    []string
	children []*discount.Discount
	removed  []common.Key
}

func (c *cartStub) Info(context.Context, common.Key) (discount.CartContext, error) {
	return c.info, nil
}

func (c *cartStub) AttachDiscount(_ context.Context, _ common.Key, d *discount.Discount, code string) error {
	c.attached = append(c.attached, d)
	c.codes = append(c.codes, code)
	return nil
}

func (c *cartStub) AddFreeArticleChild(_ context.Context, _ common.Key, d *discount.Discount, code string) error {
	c.children = append(c.children, d)
	c.codes = append(c.codes, code)
	return nil
}

func (c *cartStub) RemoveDiscount(_ context.Context, _ common.Key, discountKey common.Key) error {
	c.removed = append(c.removed, discountKey)
	return nil
}

func newDiscountService(t *testing.T) (*discount.Service, *store.Memory, *cartStub) {
	t.Helper()
	mem := store.NewMemory()
	mem.UniqueFields = []string{discount.KindCondition + "/code"}
	svc := discount.NewService(mem, zerolog.Nop(), discount.ServiceConfig{})
	svc.SetEngine(discount.NewEngine(hooks.NewRegistry(zerolog.Nop()), svc, zerolog.Nop()))
	cart := &cartStub{info: discount.CartContext{Key: common.NewKey("shop_cart_node"), Total: decimal.NewFromInt(100), TotalQuantity: 2}}
	svc.SetCart(cart)
	return svc, mem, cart
}

func mustCondition(t *testing.T, svc *discount.Service, cond *discount.Condition) *discount.Condition {
	t.Helper()
	cond, err := svc.UpsertCondition(context.Background(), cond)
	require.NoError(t, err)
	return cond
}

func mustDiscount(t *testing.T, svc *discount.Service, d *discount.Discount) *discount.Discount {
	t.Helper()
	d, err := svc.UpsertDiscount(context.Background(), d)
	require.NoError(t, err)
	return d
}

func TestUpsertConditionValidates(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	_, err := svc.UpsertCondition(ctx, &discount.Condition{CodeType: "magic", QuantityVolume: -1})
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = svc.UpsertCondition(ctx, &discount.Condition{CodeType: discount.CodeUniversal, QuantityVolume: -1})
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = svc.UpsertCondition(ctx, &discount.Condition{CodeType: discount.CodeIndividual, QuantityVolume: -1})
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	require.Equal(t, discount.KindCondition, cond.Key.Kind)
	require.False(t, cond.Key.IsZero())
}

func TestUpsertConditionRejectsDuplicateCode(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: -1})
	_, err := svc.UpsertCondition(ctx, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: -1})
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestGetConditionUnknown(t *testing.T) {
	svc, _, _ := newDiscountService(t)

	_, err := svc.GetCondition(context.Background(), common.NewKey(discount.KindCondition))
	require.True(t, common.HasCode(err, common.CodeNotFound))

	_, err = svc.GetCondition(context.Background(), common.NewKey("shop_article"))
	require.True(t, common.HasCode(err, common.CodeInvalidKey))
}

func TestUpsertDiscountValidatesAndHydrates(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})

	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "ten percent",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})
	require.Len(t, d.Conditions, 1)

	loaded, err := svc.GetDiscount(ctx, d.Key)
	require.NoError(t, err)
	require.Len(t, loaded.Conditions, 1)
	require.True(t, loaded.Conditions[0].Key.Equal(cond.Key))

	_, err = svc.UpsertDiscount(ctx, &discount.Discount{
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(200),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))
}

func TestSearchByCodeAndKey(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: -1})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "summer",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	byCode, err := svc.Search(ctx, "SUMMER24", nil)
	require.NoError(t, err)
	require.True(t, byCode.Key.Equal(d.Key))

	byKey, err := svc.Search(ctx, "", &d.Key)
	require.NoError(t, err)
	require.True(t, byKey.Key.Equal(d.Key))

	_, err = svc.Search(ctx, "UNKNOWN", nil)
	require.True(t, common.HasCode(err, common.CodeNotFound))

	_, err = svc.Search(ctx, "", nil)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))
	_, err = svc.Search(ctx, "SUMMER24", &d.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))
}

func TestGenerateSubCode(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	parent := mustCondition(t, svc, &discount.Condition{
		CodeType:              discount.CodeIndividual,
		IndividualCodesAmount: 2,
		IndividualCodesPrefix: "xmas-",
		QuantityVolume:        -1,
	})

	first, err := svc.GenerateSubCode(ctx, parent.Key)
	require.NoError(t, err)
	require.True(t, first.IsSubcode)
	require.True(t, strings.HasPrefix(first.ScopeCode, "xmas-"))
	require.Equal(t, 1, first.QuantityVolume)
	require.NotNil(t, first.ParentCode)
	require.True(t, first.ParentCode.Equal(parent.Key))

	second, err := svc.GenerateSubCode(ctx, parent.Key)
	require.NoError(t, err)
	require.NotEqual(t, first.ScopeCode, second.ScopeCode)

	_, err = svc.GenerateSubCode(ctx, parent.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState), "pool of 2 must be exhausted")

	_, err = svc.GenerateSubCode(ctx, first.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState), "sub-codes cannot have sub-codes")

	plain := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	_, err = svc.GenerateSubCode(ctx, plain.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestFindSubCode(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	parent := mustCondition(t, svc, &discount.Condition{
		CodeType:              discount.CodeIndividual,
		IndividualCodesAmount: 1,
		QuantityVolume:        -1,
	})
	sub, err := svc.GenerateSubCode(ctx, parent.Key)
	require.NoError(t, err)

	found, err := svc.FindSubCode(ctx, parent.Key, sub.ScopeCode)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.Key.Equal(sub.Key))

	missing, err := svc.FindSubCode(ctx, parent.Key, "nothere")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMarkUsedIncrementsCounter(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: 3})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "summer",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	require.NoError(t, svc.MarkUsed(ctx, d, "SUMMER24"))
	require.NoError(t, svc.MarkUsed(ctx, d, ""))

	fresh, err := svc.GetCondition(ctx, cond.Key)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.QuantityUsed)
}

func TestDeleteConditionRejectsReferenced(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	mustDiscount(t, svc, &discount.Discount{
		Name:              "ten percent",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	err := svc.DeleteCondition(ctx, cond.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState))

	orphan := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	require.NoError(t, svc.DeleteCondition(ctx, orphan.Key))
	_, err = svc.GetCondition(ctx, orphan.Key)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestAutomaticDiscountsCached(t *testing.T) {
	svc, _, _ := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	auto := mustDiscount(t, svc, &discount.Discount{
		Name:                  "campaign",
		DiscountType:          discount.TypePercentage,
		Percentage:            decimal.NewFromInt(10),
		ConditionOperator:     discount.OperatorOneOf,
		ConditionKeys:         []common.Key{cond.Key},
		ActivateAutomatically: true,
	})
	mustDiscount(t, svc, &discount.Discount{
		Name:              "manual",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(20),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	got, err := svc.AutomaticDiscounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Key.Equal(auto.Key))

	// Upserting a discount drops the cached list.
	second := mustDiscount(t, svc, &discount.Discount{
		Name:                  "second campaign",
		DiscountType:          discount.TypeAbsolute,
		Absolute:              decimal.NewFromInt(5),
		ConditionOperator:     discount.OperatorOneOf,
		ConditionKeys:         []common.Key{cond.Key},
		ActivateAutomatically: true,
	})
	got, err = svc.AutomaticDiscounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NoError(t, svc.DeleteDiscount(ctx, second.Key))
	got, err = svc.AutomaticDiscounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestApplyAttachesDiscount(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: -1})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "summer",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	applied, err := svc.Apply(ctx, cart.info.Key, "SUMMER24", nil)
	require.NoError(t, err)
	require.True(t, applied.Key.Equal(d.Key))
	require.Len(t, cart.attached, 1)
	require.Equal(t, []string{"SUMMER24"}, cart.codes)
}

func TestApplyCodeIgnoresCase(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "SUMMER24", QuantityVolume: 3})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "summer",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	applied, err := svc.Apply(ctx, cart.info.Key, "summer24", nil)
	require.NoError(t, err)
	require.True(t, applied.Key.Equal(d.Key))

	// The usage counter moves no matter how the code was typed.
	require.NoError(t, svc.MarkUsed(ctx, d, "Summer24"))
	fresh, err := svc.GetCondition(ctx, cond.Key)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.QuantityUsed)
}

func TestApplyArticleScopedDiscount(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	inCart := common.NewKey("shop_article")
	cart.info.ArticleKeys = []common.Key{inCart}

	cond := mustCondition(t, svc, &discount.Condition{
		CodeType:         discount.CodeUniversal,
		ScopeCode:        "GADGET",
		ScopeArticleKeys: []common.Key{inCart},
		QuantityVolume:   -1,
	})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "gadget deal",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	applied, err := svc.Apply(ctx, cart.info.Key, "GADGET", nil)
	require.NoError(t, err)
	require.True(t, applied.Key.Equal(d.Key))

	// Scoped to an article the cart does not hold, the redeem fails.
	elsewhere := common.NewKey("shop_article")
	strict := mustCondition(t, svc, &discount.Condition{
		CodeType:         discount.CodeUniversal,
		ScopeCode:        "ELSEWHERE",
		ScopeArticleKeys: []common.Key{elsewhere},
		QuantityVolume:   -1,
	})
	mustDiscount(t, svc, &discount.Discount{
		Name:              "other deal",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{strict.Key},
	})
	_, err = svc.Apply(ctx, cart.info.Key, "ELSEWHERE", nil)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestApplyFreeArticleCreatesChild(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	article := common.NewKey("shop_article")
	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "FREEBIE", QuantityVolume: -1})
	mustDiscount(t, svc, &discount.Discount{
		Name:              "freebie",
		DiscountType:      discount.TypeFreeArticle,
		FreeArticle:       &article,
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})

	_, err := svc.Apply(ctx, cart.info.Key, "FREEBIE", nil)
	require.NoError(t, err)
	require.Empty(t, cart.attached)
	require.Len(t, cart.children, 1)
}

func TestApplyRejectsAutomaticAndInapplicable(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	cond := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeNone, QuantityVolume: -1})
	auto := mustDiscount(t, svc, &discount.Discount{
		Name:                  "campaign",
		DiscountType:          discount.TypePercentage,
		Percentage:            decimal.NewFromInt(10),
		ConditionOperator:     discount.OperatorOneOf,
		ConditionKeys:         []common.Key{cond.Key},
		ActivateAutomatically: true,
	})
	_, err := svc.Apply(ctx, cart.info.Key, "", &auto.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState))

	min := decimal.NewFromInt(1000)
	strict := mustCondition(t, svc, &discount.Condition{CodeType: discount.CodeUniversal, ScopeCode: "BIGSPENDER", ScopeMinimumOrderValue: &min, QuantityVolume: -1})
	mustDiscount(t, svc, &discount.Discount{
		Name:              "big spender",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(10),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{strict.Key},
	})
	_, err = svc.Apply(ctx, cart.info.Key, "BIGSPENDER", nil)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestRemoveDetaches(t *testing.T) {
	svc, _, cart := newDiscountService(t)

	key := common.NewKey(discount.KindDiscount)
	require.NoError(t, svc.Remove(context.Background(), cart.info.Key, key))
	require.Len(t, cart.removed, 1)
	require.True(t, cart.removed[0].Equal(key))
}

func TestIndividualCodeRedemption(t *testing.T) {
	svc, _, cart := newDiscountService(t)
	ctx := context.Background()

	parent := mustCondition(t, svc, &discount.Condition{
		CodeType:              discount.CodeIndividual,
		IndividualCodesAmount: 1,
		QuantityVolume:        -1,
	})
	d := mustDiscount(t, svc, &discount.Discount{
		Name:              "invite",
		DiscountType:      discount.TypeAbsolute,
		Absolute:          decimal.NewFromInt(5),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{parent.Key},
	})
	sub, err := svc.GenerateSubCode(ctx, parent.Key)
	require.NoError(t, err)

	applied, err := svc.Apply(ctx, cart.info.Key, sub.ScopeCode, nil)
	require.NoError(t, err)
	require.True(t, applied.Key.Equal(d.Key))

	// A completed order burns the single-use sub-code.
	require.NoError(t, svc.MarkUsed(ctx, d, sub.ScopeCode))
	_, err = svc.Apply(ctx, cart.info.Key, sub.ScopeCode, nil)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}
