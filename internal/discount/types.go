// Package discount implements discount conditions, scope matching,
// and the combination search that finds the lowest reachable price.
package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Entity kinds used in the store.
const (
	KindDiscount  = "shop_discount"
	KindCondition = "shop_discount_condition"
)

// Type selects how a discount changes the price.
type Type string

const (
	TypePercentage   Type = "percentage"
	TypeAbsolute     Type = "absolute"
	TypeFreeArticle  Type = "free_article"
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeAbsolute, TypeFreeArticle, TypeFreeShipping:
		return true
	}
	return false
}

// CodeType describes how a condition is redeemed.
type CodeType string

const (
	// CodeNone means the condition needs no code at all.
	CodeNone CodeType = "none"
	// CodeUniversal is a single shared code string.
	CodeUniversal CodeType = "universal"
	// CodeIndividual is a pool of generated single-use sub-codes.
	CodeIndividual CodeType = "individual"
)

// ApplicationDomain restricts where a discount may act.
type ApplicationDomain string

const (
	DomainAll     ApplicationDomain = "all"
	DomainArticle ApplicationDomain = "article"
	DomainBasket  ApplicationDomain = "basket"
)

// ConditionOperator combines a discount's conditions.
type ConditionOperator string

const (
	OperatorOneOf ConditionOperator = "one_of"
	OperatorAll   ConditionOperator = "all"
)

// CustomerGroup narrows a condition to a class of customers.
type CustomerGroup string

const (
	GroupAll           CustomerGroup = "all"
	GroupFirstOrder    CustomerGroup = "first_order"
	GroupFollowUpOrder CustomerGroup = "follow_up_order"
)

// Condition is one matchable scope. All configured dimensions must
// pass for the condition to be satisfied; an unset dimension is
// vacuously satisfied.
type Condition struct {
	Key               common.Key        `json:"key"`
	Name              string            `json:"name,omitempty"`
	CodeType          CodeType          `json:"code_type"`
	ApplicationDomain ApplicationDomain `json:"application_domain,omitempty"`

	// QuantityVolume limits how often the condition may be redeemed;
	// -1 means unlimited.
	QuantityVolume int `json:"quantity_volume"`
	QuantityUsed   int `json:"quantity_used"`

	ScopeCode             string `json:"code,omitempty"`
	IndividualCodesAmount int    `json:"individual_codes_amount,omitempty"`
	IndividualCodesPrefix string `json:"individual_codes_prefix,omitempty"`

	ScopeMinimumOrderValue *decimal.Decimal `json:"scope_minimum_order_value,omitempty"`
	ScopeMinimumQuantity   *int             `json:"scope_minimum_quantity,omitempty"`
	ScopeDateStart         *time.Time       `json:"scope_date_start,omitempty"`
	ScopeDateEnd           *time.Time       `json:"scope_date_end,omitempty"`
	ScopeLanguage          string           `json:"scope_language,omitempty"`
	ScopeCountry           []string         `json:"scope_country,omitempty"`
	ScopeCustomerGroup     CustomerGroup    `json:"scope_customer_group,omitempty"`
	ScopeArticleKeys       []common.Key     `json:"scope_article,omitempty"`

	CombinableOtherDiscount bool `json:"scope_combinable_other_discount"`
	CombinableLowPrice      bool `json:"scope_combinable_low_price"`

	IsSubcode  bool        `json:"is_subcode,omitempty"`
	ParentCode *common.Key `json:"parent_code,omitempty"`
}

// Exhausted reports whether the redeem volume is used up.
func (c *Condition) Exhausted() bool {
	return c.QuantityVolume >= 0 && c.QuantityUsed >= c.QuantityVolume
}

// Discount is a named price modification gated by one or more
// conditions.
type Discount struct {
	Key         common.Key `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`

	DiscountType Type            `json:"discount_type"`
	Absolute     decimal.Decimal `json:"absolute"`
	Percentage   decimal.Decimal `json:"percentage"`
	FreeArticle  *common.Key     `json:"free_article,omitempty"`

	ConditionKeys     []common.Key      `json:"condition"`
	ConditionOperator ConditionOperator `json:"condition_operator"`

	ActivateAutomatically bool `json:"activate_automatically"`

	// Conditions holds the hydrated condition entities. It is loaded
	// on read and never persisted alongside the discount.
	Conditions []*Condition `json:"-"`
}

// Validate enforces the structural invariants: exactly one magnitude
// field populated matching the type, and all conditions sharing one
// application domain.
func (d *Discount) Validate() error {
	if !d.DiscountType.Valid() {
		return common.InvalidArgumentf("unknown discount type %q", d.DiscountType)
	}
	switch d.ConditionOperator {
	case OperatorOneOf, OperatorAll:
	default:
		return common.InvalidArgumentf("unknown condition operator %q", d.ConditionOperator)
	}
	switch d.DiscountType {
	case TypePercentage:
		if d.Percentage.LessThanOrEqual(decimal.Zero) || d.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return common.InvalidArgument("percentage must be in (0, 100]")
		}
		if !d.Absolute.IsZero() || d.FreeArticle != nil {
			return common.InvalidArgument("percentage discount must not carry other magnitudes")
		}
	case TypeAbsolute:
		if d.Absolute.LessThanOrEqual(decimal.Zero) {
			return common.InvalidArgument("absolute amount must be greater than 0")
		}
		if !d.Percentage.IsZero() || d.FreeArticle != nil {
			return common.InvalidArgument("absolute discount must not carry other magnitudes")
		}
	case TypeFreeArticle:
		if d.FreeArticle == nil {
			return common.InvalidArgument("free article discount requires an article reference")
		}
		if !d.Percentage.IsZero() || !d.Absolute.IsZero() {
			return common.InvalidArgument("free article discount must not carry other magnitudes")
		}
	case TypeFreeShipping:
		if !d.Percentage.IsZero() || !d.Absolute.IsZero() || d.FreeArticle != nil {
			return common.InvalidArgument("free shipping discount must not carry magnitudes")
		}
	}
	if len(d.ConditionKeys) == 0 {
		return common.InvalidArgument("discount requires at least one condition")
	}
	var domain ApplicationDomain
	for _, cond := range d.Conditions {
		if cond.ApplicationDomain == "" || cond.ApplicationDomain == DomainAll {
			continue
		}
		if domain == "" {
			domain = cond.ApplicationDomain
			continue
		}
		if cond.ApplicationDomain != domain {
			return common.InvalidArgument("discount conditions must share one application domain")
		}
	}
	return nil
}

// Domain returns the effective application domain of the discount,
// derived from its conditions. Unset everywhere means DomainAll.
func (d *Discount) Domain() ApplicationDomain {
	for _, cond := range d.Conditions {
		if cond.ApplicationDomain != "" && cond.ApplicationDomain != DomainAll {
			return cond.ApplicationDomain
		}
	}
	return DomainAll
}

// Combinable reports whether the discount may join the combined
// candidate set of the best-price search: operator ALL with every
// condition combinable, operator ONE_OF with a single condition, or
// operator ONE_OF with at least one combinable condition.
func (d *Discount) Combinable() bool {
	switch d.ConditionOperator {
	case OperatorAll:
		for _, cond := range d.Conditions {
			if !cond.CombinableOtherDiscount {
				return false
			}
		}
		return len(d.Conditions) > 0
	case OperatorOneOf:
		if len(d.Conditions) == 1 {
			return true
		}
		for _, cond := range d.Conditions {
			if cond.CombinableOtherDiscount {
				return true
			}
		}
	}
	return false
}
