package discount

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
)

// ArticleContext is the evaluation context for a bare catalog item.
type ArticleContext struct {
	Key        common.Key
	Retail     decimal.Decimal
	IsLowPrice bool
}

// CartContext is the evaluation context for a cart.
type CartContext struct {
	Key           common.Key
	Total         decimal.Decimal
	TotalQuantity int

	// ArticleKeys lists the articles present as leaves anywhere in the
	// cart tree; article-scoped conditions check membership here during
	// redemption.
	ArticleKeys []common.Key
}

// EvalContext carries everything a scope check may inspect. Article
// and Cart are mutually exclusive; cart-dependent dimensions are
// vacuously satisfied in a pure article context.
type EvalContext struct {
	Article       *ArticleContext
	Cart          *CartContext
	Code          string
	CustomerGroup CustomerGroup
}

// SubCodeFinder resolves an individual code against the generated
// sub-code pool of a parent condition.
type SubCodeFinder interface {
	FindSubCode(ctx context.Context, parent common.Key, code string) (*Condition, error)
}

// CustomerHistory counts a customer's completed orders. The order
// module implements it; customer-group scopes derive first-order vs
// follow-up-order from the count.
type CustomerHistory interface {
	OrderedCount(ctx context.Context, customer common.Key) (int, error)
}

// Engine evaluates discount scopes and searches for the lowest-price
// discount combination.
type Engine struct {
	hooks    *hooks.Registry
	subCodes SubCodeFinder
	history  CustomerHistory
	log      zerolog.Logger
	now      func() time.Time
}

// NewEngine builds the engine.
func NewEngine(registry *hooks.Registry, subCodes SubCodeFinder, log zerolog.Logger) *Engine {
	return &Engine{hooks: registry, subCodes: subCodes, log: log, now: time.Now}
}

// SetCustomerHistory wires the order-count source. Injected after
// construction because the order module sits above this one.
func (e *Engine) SetCustomerHistory(history CustomerHistory) { e.history = history }

// ConditionSatisfied checks every configured dimension of the
// condition against the context. An unset dimension passes; all
// configured dimensions must pass.
func (e *Engine) ConditionSatisfied(ctx context.Context, cond *Condition, ec EvalContext) bool {
	if cond.Exhausted() {
		return false
	}
	if cond.ScopeMinimumOrderValue != nil {
		switch {
		case ec.Cart != nil:
			if ec.Cart.Total.LessThan(*cond.ScopeMinimumOrderValue) {
				return false
			}
		case ec.Article != nil:
			// In an article context the threshold applies to the
			// article's retail price.
			if ec.Article.Retail.LessThan(*cond.ScopeMinimumOrderValue) {
				return false
			}
		}
	}
	if cond.ScopeMinimumQuantity != nil && ec.Cart != nil &&
		ec.Cart.TotalQuantity < *cond.ScopeMinimumQuantity {
		return false
	}
	now := e.now()
	if cond.ScopeDateStart != nil && cond.ScopeDateStart.After(now) {
		return false
	}
	if cond.ScopeDateEnd != nil && cond.ScopeDateEnd.Before(now) {
		return false
	}
	if cond.ScopeLanguage != "" && cond.ScopeLanguage != session.FromContext(ctx).Language {
		return false
	}
	if len(cond.ScopeCountry) > 0 {
		country, err := e.hooks.CurrentCountry(ctx)
		if err != nil {
			// Without a resolvable country the country scope fails closed.
			e.log.Debug().Err(err).Str("condition", cond.Key.String()).Msg("country scope failed closed")
			return false
		}
		if !containsString(cond.ScopeCountry, country) {
			return false
		}
	}
	if cond.ScopeCustomerGroup != "" && cond.ScopeCustomerGroup != GroupAll {
		group := ec.CustomerGroup
		if group == "" {
			group = e.customerGroup(ctx)
		}
		if group != cond.ScopeCustomerGroup {
			return false
		}
	}
	if len(cond.ScopeArticleKeys) > 0 && !e.articleScopeSatisfied(cond, ec) {
		return false
	}
	if !cond.CombinableLowPrice && ec.Article != nil && ec.Article.IsLowPrice {
		return false
	}
	return e.codeSatisfied(ctx, cond, ec.Code)
}

// articleScopeSatisfied checks the article restriction: key membership
// for an article context, leaf presence in the tree for a cart
// context.
func (e *Engine) articleScopeSatisfied(cond *Condition, ec EvalContext) bool {
	switch {
	case ec.Article != nil:
		return common.ContainsKey(cond.ScopeArticleKeys, ec.Article.Key)
	case ec.Cart != nil:
		for _, key := range cond.ScopeArticleKeys {
			if common.ContainsKey(ec.Cart.ArticleKeys, key) {
				return true
			}
		}
	}
	return false
}

// customerGroup derives the caller's group from their completed order
// count. Anonymous callers and lookup failures yield no group, so
// group-scoped conditions fail closed.
func (e *Engine) customerGroup(ctx context.Context) CustomerGroup {
	sess := session.FromContext(ctx)
	if e.history == nil || sess.UserKey == nil {
		return ""
	}
	ordered, err := e.history.OrderedCount(ctx, *sess.UserKey)
	if err != nil {
		e.log.Debug().Err(err).Msg("customer group lookup failed closed")
		return ""
	}
	if ordered == 0 {
		return GroupFirstOrder
	}
	return GroupFollowUpOrder
}

func (e *Engine) codeSatisfied(ctx context.Context, cond *Condition, code string) bool {
	switch cond.CodeType {
	case "", CodeNone:
		return true
	case CodeUniversal:
		return code != "" && strings.EqualFold(cond.ScopeCode, code)
	case CodeIndividual:
		if code == "" || e.subCodes == nil {
			return false
		}
		sub, err := e.subCodes.FindSubCode(ctx, cond.Key, code)
		if err != nil {
			e.log.Debug().Err(err).Str("condition", cond.Key.String()).Msg("sub-code lookup failed")
			return false
		}
		return sub != nil && !sub.Exhausted()
	}
	return false
}

// Applicable resolves the discount's conditions per its operator:
// ONE_OF needs at least one satisfied condition, ALL needs every
// condition satisfied. A discount with no satisfied condition is
// never applicable.
func (e *Engine) Applicable(ctx context.Context, d *Discount, ec EvalContext) bool {
	if len(d.Conditions) == 0 {
		return false
	}
	satisfied := 0
	for _, cond := range d.Conditions {
		if e.ConditionSatisfied(ctx, cond, ec) {
			satisfied++
		} else if d.ConditionOperator == OperatorAll {
			return false
		}
	}
	return satisfied > 0
}

// Apply computes the discounted price. FREE_ARTICLE zeroes the price,
// ABSOLUTE subtracts without flooring, PERCENTAGE scales. Any other
// type is a programming error and fails hard. The result is rounded
// to money precision.
func Apply(d *Discount, price decimal.Decimal) (decimal.Decimal, error) {
	switch d.DiscountType {
	case TypeFreeArticle:
		return decimal.Zero, nil
	case TypeAbsolute:
		return common.RoundMoney(price.Sub(d.Absolute)), nil
	case TypePercentage:
		factor := decimal.NewFromInt(1).Sub(d.Percentage.Div(decimal.NewFromInt(100)))
		return common.RoundMoney(price.Mul(factor)), nil
	}
	return decimal.Zero, common.InvalidStatef("discount type %q cannot be applied to a price", d.DiscountType)
}

// BestPrice finds the candidate set of already-applicable discounts
// that yields the lowest price. Candidates are each discount alone
// plus one set of all combinable discounts, applied in insertion
// order. Ties keep the first-found lowest; with no candidates the
// base price stands.
func BestPrice(base decimal.Decimal, applicable []*Discount) (decimal.Decimal, []*Discount, error) {
	best := common.RoundMoney(base)
	var bestSet []*Discount

	var combinables []*Discount
	for _, d := range applicable {
		if d.Combinable() {
			combinables = append(combinables, d)
		}
	}

	candidates := make([][]*Discount, 0, len(applicable)+1)
	for _, d := range applicable {
		candidates = append(candidates, []*Discount{d})
	}
	if len(combinables) > 1 {
		candidates = append(candidates, combinables)
	}

	for _, set := range candidates {
		price := common.RoundMoney(base)
		var err error
		for _, d := range set {
			price, err = Apply(d, price)
			if err != nil {
				return decimal.Zero, nil, err
			}
		}
		if price.LessThan(best) {
			best = price
			bestSet = set
		}
	}
	return best, bestSet, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
