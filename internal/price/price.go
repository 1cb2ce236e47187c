// Package price computes the externally visible price breakdown for
// one article or one cart leaf, including the best reachable discount
// combination.
package price

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/catalog"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/obs"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

// Breakdown is the computed price of one article or leaf. All values
// are rounded to money precision at computation time so downstream
// aggregation stays consistent. Current is the gross price; VatValue
// is defined as VatRate × Current and CurrentNet as Current − VatValue,
// so net plus tax always reproduces the gross value.
type Breakdown struct {
	Retail          decimal.Decimal `json:"retail"`
	Recommended     decimal.Decimal `json:"recommended"`
	Current         decimal.Decimal `json:"current"`
	CurrentNet      decimal.Decimal `json:"current_net"`
	Saved           decimal.Decimal `json:"saved"`
	SavedPercentage decimal.Decimal `json:"saved_percentage"`
	VatRate         decimal.Decimal `json:"vat_rate"`
	VatValue        decimal.Decimal `json:"vat_value"`

	// AppliedDiscounts names the discounts of the winning combination.
	AppliedDiscounts []common.Key `json:"applied_discounts,omitempty"`
}

// LeafInfo carries the leaf fields the calculator needs. The cart
// module assembles it from the leaf's frozen article snapshot.
type LeafInfo struct {
	Key         common.Key
	ParentKey   common.Key
	ArticleKey  common.Key
	Retail      decimal.Decimal
	Recommended decimal.Decimal
	Quantity    int
	VatCategory vat.Category
	IsLowPrice  bool
}

// DiscountSource yields the discounts attached to the ancestor chain
// of a cart leaf. The cart module implements it; errors are treated
// as "no cart discount" by the calculator.
type DiscountSource interface {
	CartDiscounts(ctx context.Context, parent common.Key) ([]*discount.Discount, error)
}

// Calculator produces price breakdowns, memoized per request session.
type Calculator struct {
	engine    *discount.Engine
	discounts *discount.Service
	source    DiscountSource
	vat       *vat.Service
	hooks     *hooks.Registry
	metrics   *obs.Metrics
	log       zerolog.Logger
}

// NewCalculator builds the calculator. The cart-backed discount
// source is injected later via SetDiscountSource.
func NewCalculator(engine *discount.Engine, discounts *discount.Service, vatSvc *vat.Service, registry *hooks.Registry, metrics *obs.Metrics, log zerolog.Logger) *Calculator {
	return &Calculator{
		engine:    engine,
		discounts: discounts,
		vat:       vatSvc,
		hooks:     registry,
		metrics:   metrics,
		log:       log,
	}
}

// SetDiscountSource wires the cart dependency.
func (c *Calculator) SetDiscountSource(source DiscountSource) { c.source = source }

// ForArticle computes the breakdown of a bare catalog article. Only
// automatic campaign discounts apply.
func (c *Calculator) ForArticle(ctx context.Context, article *catalog.Article) (*Breakdown, error) {
	cacheKey := fmt.Sprintf("price:article:%s", article.Key)
	sess := session.FromContext(ctx)
	if cached, ok := sess.Cached(cacheKey); ok {
		return cached.(*Breakdown), nil
	}

	ec := discount.EvalContext{Article: &discount.ArticleContext{
		Key:        article.Key,
		Retail:     article.PriceRetail,
		IsLowPrice: article.IsLowPrice,
	}}
	applicable, err := c.automaticDiscounts(ctx, ec)
	if err != nil {
		return nil, err
	}
	breakdown, err := c.compute(ctx, article.PriceRetail, article.PriceRecommended, article.VatCategory, applicable)
	if err != nil {
		return nil, err
	}
	sess.SetCached(cacheKey, breakdown)
	return breakdown, nil
}

// ForLeaf computes the breakdown of a cart leaf. On top of automatic
// discounts, the discounts attached to the leaf's ancestor nodes
// apply. Those were validated when they were attached, so they are
// not re-evaluated here; a failure collecting them degrades to "no
// cart discount" rather than aborting the computation.
func (c *Calculator) ForLeaf(ctx context.Context, leaf LeafInfo) (*Breakdown, error) {
	start := time.Now()
	cacheKey := fmt.Sprintf("price:leaf:%s", leaf.Key)
	sess := session.FromContext(ctx)
	if cached, ok := sess.Cached(cacheKey); ok {
		return cached.(*Breakdown), nil
	}

	ec := discount.EvalContext{Article: &discount.ArticleContext{
		Key:        leaf.ArticleKey,
		Retail:     leaf.Retail,
		IsLowPrice: leaf.IsLowPrice,
	}}
	applicable, err := c.automaticDiscounts(ctx, ec)
	if err != nil {
		return nil, err
	}
	if c.source != nil {
		attached, err := c.source.CartDiscounts(ctx, leaf.ParentKey)
		if err != nil {
			c.log.Warn().Err(err).Str("leaf", leaf.Key.String()).Msg("collecting cart discounts failed, pricing without them")
		} else {
			for _, d := range attached {
				// Basket-domain discounts act on the node total during
				// aggregation, not on individual leaves.
				if priceAffecting(d) && d.Domain() != discount.DomainBasket {
					applicable = append(applicable, d)
				}
			}
		}
	}
	breakdown, err := c.compute(ctx, leaf.Retail, leaf.Recommended, leaf.VatCategory, applicable)
	if err != nil {
		return nil, err
	}
	sess.SetCached(cacheKey, breakdown)
	if c.metrics != nil {
		c.metrics.ObservePriceCompute(time.Since(start))
	}
	return breakdown, nil
}

func (c *Calculator) automaticDiscounts(ctx context.Context, ec discount.EvalContext) ([]*discount.Discount, error) {
	all, err := c.discounts.AutomaticDiscounts(ctx)
	if err != nil {
		return nil, err
	}
	var applicable []*discount.Discount
	for _, d := range all {
		if !priceAffecting(d) {
			continue
		}
		if d.Domain() == discount.DomainBasket {
			continue
		}
		if c.engine.Applicable(ctx, d, ec) {
			applicable = append(applicable, d)
		}
	}
	return applicable, nil
}

func (c *Calculator) compute(ctx context.Context, retail, recommended decimal.Decimal, category vat.Category, applicable []*discount.Discount) (*Breakdown, error) {
	retail = common.RoundMoney(retail)
	current, bestSet, err := discount.BestPrice(retail, applicable)
	if err != nil {
		return nil, err
	}

	saved := decimal.Zero
	if retail.GreaterThan(current) {
		saved = common.RoundMoney(retail.Sub(current))
	}
	savedPct := decimal.Zero
	if !current.IsZero() {
		savedPct = common.RoundMoney(saved.Div(current).Mul(decimal.NewFromInt(100)))
	}

	rate := decimal.Zero
	if c.vat != nil && category != "" {
		country, err := c.hooks.CurrentCountry(ctx)
		if err != nil {
			c.log.Debug().Err(err).Msg("no current country, vat rate defaults to zero")
		} else {
			rate = c.vat.Rate(country, category)
		}
	}
	vatValue := common.RoundMoney(current.Mul(rate))

	breakdown := &Breakdown{
		Retail:          retail,
		Recommended:     common.RoundMoney(recommended),
		Current:         current,
		CurrentNet:      common.RoundMoney(current.Sub(vatValue)),
		Saved:           saved,
		SavedPercentage: savedPct,
		VatRate:         rate,
		VatValue:        vatValue,
	}
	for _, d := range bestSet {
		breakdown.AppliedDiscounts = append(breakdown.AppliedDiscounts, d.Key)
	}
	return breakdown, nil
}

func priceAffecting(d *discount.Discount) bool {
	switch d.DiscountType {
	case discount.TypePercentage, discount.TypeAbsolute, discount.TypeFreeArticle:
		return true
	}
	return false
}
