package cart_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/viur-framework/viur-shop-sub000/internal/cart"
	"github.com/viur-framework/viur-shop-sub000/internal/catalog"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/price"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/shipping"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

// cartRig wires the full service graph over the in-memory store, the
// same way the binary does at startup.
type cartRig struct {
	svc       *cart.Service
	catalog   *catalog.Service
	shipping  *shipping.Service
	discounts *discount.Service
	store     *store.Memory
}

func newCartRig(t *testing.T) *cartRig {
	t.Helper()
	log := zerolog.Nop()
	mem := store.NewMemory()
	registry := hooks.NewRegistry(log)
	vatSvc := vat.NewService(nil)
	catalogSvc := catalog.NewService(mem, catalog.NewCache(nil, 0), log)
	shippingSvc := shipping.NewService(mem, log)
	discounts := discount.NewService(mem, log, discount.ServiceConfig{})
	engine := discount.NewEngine(registry, discounts, log)
	discounts.SetEngine(engine)
	calc := price.NewCalculator(engine, discounts, vatSvc, registry, nil, log)
	svc := cart.NewService(mem, catalogSvc, vatSvc, shippingSvc, calc, discounts, engine, registry, nil, log, 0)
	discounts.SetCart(svc)
	calc.SetDiscountSource(svc)
	return &cartRig{svc: svc, catalog: catalogSvc, shipping: shippingSvc, discounts: discounts, store: mem}
}

func (r *cartRig) article(t *testing.T, retail int64) *catalog.Article {
	t.Helper()
	a, err := r.catalog.Upsert(context.Background(), &catalog.Article{
		Name:         "test article",
		PriceRetail:  decimal.NewFromInt(retail),
		Availability: catalog.AvailabilityInStock,
		VatCategory:  vat.CategoryStandard,
		Listed:       true,
	})
	require.NoError(t, err)
	return a
}

func (r *cartRig) basketDiscount(t *testing.T, pct int64, code string) *discount.Discount {
	t.Helper()
	ctx := context.Background()
	cond, err := r.discounts.UpsertCondition(ctx, &discount.Condition{
		CodeType:          discount.CodeUniversal,
		ScopeCode:         code,
		ApplicationDomain: discount.DomainBasket,
		QuantityVolume:    -1,
	})
	require.NoError(t, err)
	d, err := r.discounts.UpsertDiscount(ctx, &discount.Discount{
		Name:              "basket discount",
		DiscountType:      discount.TypePercentage,
		Percentage:        decimal.NewFromInt(pct),
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})
	require.NoError(t, err)
	return d
}

func shopperCtx() context.Context {
	return session.WithSession(context.Background(), session.New("de", "de"))
}

func TestAddArticleAndAggregate(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)

	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)

	leaf, err := rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 2, cart.ModeReplace)
	require.NoError(t, err)
	require.Equal(t, 2, leaf.Quantity)
	require.True(t, leaf.Price.Current.Equal(decimal.NewFromInt(100)))
	require.True(t, leaf.Snapshot.VatRate.Equal(decimal.RequireFromString("0.19")))

	node, err := rig.svc.GetNode(ctx, root.Key)
	require.NoError(t, err)
	require.True(t, node.Total.Equal(decimal.NewFromInt(200)), "got %s", node.Total)
	require.Equal(t, 2, node.TotalQuantity)
	require.Len(t, node.Vat, 1)
	require.Equal(t, vat.CategoryStandard, node.Vat[0].Category)
	require.True(t, node.VatTotal.Equal(decimal.NewFromInt(38)))
}

func TestQuantityModes(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 3, cart.ModeReplace)
	require.NoError(t, err)

	leaf, err := rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 2, cart.ModeIncrease)
	require.NoError(t, err)
	require.Equal(t, 5, leaf.Quantity)

	leaf, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 4, cart.ModeDecrease)
	require.NoError(t, err)
	require.Equal(t, 1, leaf.Quantity)

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 2, cart.ModeDecrease)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument), "resulting quantity would be negative")

	// Decreasing to exactly zero removes the leaf.
	leaf, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeDecrease)
	require.NoError(t, err)
	require.Nil(t, leaf)
	got, err := rig.svc.GetArticle(ctx, article.Key, root.Key)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAddArticleRejections(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, "divide")
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 0, cart.ModeIncrease)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, -1, cart.ModeReplace)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeDecrease)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument), "cannot decrease a missing article")

	unlisted := article
	unlisted.Listed = false
	_, err = rig.catalog.Upsert(context.Background(), unlisted)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.True(t, common.HasCode(err, common.CodeInvalidState), "unlisted article must be rejected")
}

func TestBasketDiscountOnNodeTotal(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 2, cart.ModeReplace)
	require.NoError(t, err)

	rig.basketDiscount(t, 10, "TENOFF")
	_, err = rig.discounts.Apply(ctx, root.Key, "TENOFF", nil)
	require.NoError(t, err)

	node, err := rig.svc.GetNode(ctx, root.Key)
	require.NoError(t, err)
	require.True(t, node.Total.Equal(decimal.NewFromInt(180)), "10%% off 200, got %s", node.Total)
	require.Equal(t, "TENOFF", node.AppliedCode)
}

func TestRemoveDiscountRestoresTotal(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	d := rig.basketDiscount(t, 10, "TENOFF")
	_, err = rig.discounts.Apply(ctx, root.Key, "TENOFF", nil)
	require.NoError(t, err)
	require.NoError(t, rig.discounts.Remove(ctx, root.Key, d.Key))

	node, err := rig.svc.GetNode(ctx, root.Key)
	require.NoError(t, err)
	require.True(t, node.Total.Equal(decimal.NewFromInt(100)))
	require.Empty(t, node.AppliedCode)
	require.Nil(t, node.DiscountKey)
}

func TestMoveArticle(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	sub, err := rig.svc.CartAdd(ctx, &root.Key, cart.NodeParams{})
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	moved, err := rig.svc.MoveArticle(ctx, article.Key, root.Key, sub.Key)
	require.NoError(t, err)
	require.True(t, moved.ParentKey.Equal(sub.Key))

	inSub, err := rig.svc.GetArticle(ctx, article.Key, sub.Key)
	require.NoError(t, err)
	require.NotNil(t, inSub)
}

func TestMoveArticleAcrossTreesFails(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	wishlist, err := rig.svc.CartAdd(ctx, nil, cart.NodeParams{})
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	_, err = rig.svc.MoveArticle(ctx, article.Key, root.Key, wishlist.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))
}

func TestChildNodesInheritTypeAndRoot(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)

	sub, err := rig.svc.CartAdd(ctx, &root.Key, cart.NodeParams{})
	require.NoError(t, err)
	require.Equal(t, cart.TypeBasket, sub.CartType)
	require.True(t, sub.Root().Equal(root.Key))
	require.False(t, sub.IsRootNode)

	standalone, err := rig.svc.CartAdd(ctx, nil, cart.NodeParams{})
	require.NoError(t, err)
	require.True(t, standalone.IsRootNode)
	require.Equal(t, cart.TypeWishlist, standalone.CartType)
}

func TestAccessControl(t *testing.T) {
	rig := newCartRig(t)
	owner := shopperCtx()
	root, err := rig.svc.EnsureBasket(owner)
	require.NoError(t, err)

	stranger := shopperCtx()
	_, err = rig.svc.GetNode(stranger, root.Key)
	require.True(t, common.HasCode(err, common.CodeNotAuthorized))

	_, err = rig.svc.CartUpdate(stranger, root.Key, cart.NodeParams{})
	require.True(t, common.HasCode(err, common.CodeNotAuthorized))
}

func TestCartListReturnsOwnedRoots(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	wishlist, err := rig.svc.CartAdd(ctx, nil, cart.NodeParams{})
	require.NoError(t, err)

	// A root of another session must not show up.
	_, err = rig.svc.EnsureBasket(shopperCtx())
	require.NoError(t, err)

	roots, err := rig.svc.CartList(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	keys := map[string]bool{}
	for _, n := range roots {
		keys[n.Key.String()] = true
	}
	require.True(t, keys[root.Key.String()])
	require.True(t, keys[wishlist.Key.String()])
}

func TestFreezePersistsTotalsAndBlocksMutation(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 2, cart.ModeReplace)
	require.NoError(t, err)

	frozen, err := rig.svc.Freeze(ctx, root.Key)
	require.NoError(t, err)
	require.True(t, frozen.Frozen)
	require.True(t, frozen.Total.Equal(decimal.NewFromInt(200)))

	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeIncrease)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
	_, err = rig.svc.CartUpdate(ctx, root.Key, cart.NodeParams{})
	require.True(t, common.HasCode(err, common.CodeInvalidState))
	_, err = rig.svc.Freeze(ctx, root.Key)
	require.True(t, common.HasCode(err, common.CodeInvalidState), "double freeze")

	// A frozen node serves its persisted totals even after a price
	// change in the catalog.
	refreshed := *article
	refreshed.PriceRetail = decimal.NewFromInt(1)
	_, err = rig.catalog.Upsert(context.Background(), &refreshed)
	require.NoError(t, err)
	node, err := rig.svc.GetNode(shopperCtxFor(t, root), root.Key)
	require.NoError(t, err)
	require.True(t, node.Total.Equal(decimal.NewFromInt(200)))
}

// shopperCtxFor builds a fresh session that still owns the given root,
// mimicking a later request of the same shopper.
func shopperCtxFor(t *testing.T, root *cart.Node) context.Context {
	t.Helper()
	sess := session.New("de", "de")
	sess.ID = root.OwnerSession
	return session.WithSession(context.Background(), sess)
}

func TestFreezeRejectsStaleArticles(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	gone := *article
	gone.Availability = catalog.AvailabilityOutOfStock
	_, err = rig.catalog.Upsert(context.Background(), &gone)
	require.NoError(t, err)

	_, err = rig.svc.Freeze(ctx, root.Key)
	require.True(t, common.HasCode(err, common.CodeStaleCart))
	appErr := common.AsAppError(err)
	require.Contains(t, appErr.Details, article.Key.String())

	node, err := rig.svc.GetNode(ctx, root.Key)
	require.NoError(t, err)
	require.False(t, node.Frozen, "a failed freeze leaves the cart untouched")
}

func TestEnsureBasketRecoversDanglingPointer(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()

	first, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	again, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	require.True(t, first.Key.Equal(again.Key))

	require.NoError(t, rig.store.Delete(context.Background(), first.Key))
	replacement, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	require.False(t, replacement.Key.Equal(first.Key))
}

func TestFreeArticleNodeHoldsOneUnit(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	freebie := rig.article(t, 50)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)

	cond, err := rig.discounts.UpsertCondition(context.Background(), &discount.Condition{
		CodeType:       discount.CodeUniversal,
		ScopeCode:      "FREEBIE",
		QuantityVolume: -1,
	})
	require.NoError(t, err)
	_, err = rig.discounts.UpsertDiscount(context.Background(), &discount.Discount{
		Name:              "freebie",
		DiscountType:      discount.TypeFreeArticle,
		FreeArticle:       &freebie.Key,
		ConditionOperator: discount.OperatorOneOf,
		ConditionKeys:     []common.Key{cond.Key},
	})
	require.NoError(t, err)

	_, err = rig.discounts.Apply(ctx, root.Key, "FREEBIE", nil)
	require.NoError(t, err)

	children, err := rig.svc.Children(ctx, root.Key)
	require.NoError(t, err)
	require.Len(t, children, 1)
	freeNode := children[0].Node
	require.NotNil(t, freeNode)
	require.Equal(t, "FREEBIE", freeNode.AppliedCode)

	_, err = rig.svc.AddOrUpdateArticle(ctx, freebie.Key, freeNode.Key, 2, cart.ModeReplace)
	require.True(t, common.HasCode(err, common.CodeInvalidArgument))

	// The free unit itself prices at zero.
	node, err := rig.svc.GetNode(ctx, root.Key)
	require.NoError(t, err)
	require.True(t, node.Total.IsZero(), "got %s", node.Total)
}

func TestRedemptionsCollectsCodes(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	d := rig.basketDiscount(t, 10, "TENOFF")
	_, err = rig.discounts.Apply(ctx, root.Key, "TENOFF", nil)
	require.NoError(t, err)

	redemptions, err := rig.svc.Redemptions(ctx, root.Key)
	require.NoError(t, err)
	require.Len(t, redemptions, 1)
	require.True(t, redemptions[0].Discount.Key.Equal(d.Key))
	require.Equal(t, "TENOFF", redemptions[0].Code)
}

func TestShippingCostAddedAtRoot(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)

	_, err := rig.shipping.Upsert(context.Background(), &shipping.Method{
		Name:   "standard",
		Price:  decimal.RequireFromString("4.95"),
		Active: true,
	})
	require.NoError(t, err)

	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, root.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	status := shipping.PreferenceCheapest
	node, err := rig.svc.CartUpdate(ctx, root.Key, cart.NodeParams{
		ShippingStatus: common.Some(status),
	})
	require.NoError(t, err)
	require.True(t, node.ShippingCost.Equal(decimal.RequireFromString("4.95")))
	require.True(t, node.Total.Equal(decimal.RequireFromString("104.95")), "got %s", node.Total)
}

func TestRemoveDeletesSubtree(t *testing.T) {
	rig := newCartRig(t)
	ctx := shopperCtx()
	article := rig.article(t, 100)
	root, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	sub, err := rig.svc.CartAdd(ctx, &root.Key, cart.NodeParams{})
	require.NoError(t, err)
	_, err = rig.svc.AddOrUpdateArticle(ctx, article.Key, sub.Key, 1, cart.ModeReplace)
	require.NoError(t, err)

	require.NoError(t, rig.svc.Remove(ctx, root.Key))
	_, err = rig.svc.GetNode(ctx, root.Key)
	require.True(t, common.HasCode(err, common.CodeNotFound))
	_, err = rig.svc.GetNode(ctx, sub.Key)
	require.True(t, common.HasCode(err, common.CodeNotFound))

	// The basket pointer is detached too: the next access creates a
	// fresh root.
	fresh, err := rig.svc.EnsureBasket(ctx)
	require.NoError(t, err)
	require.False(t, fresh.Key.Equal(root.Key))
}
