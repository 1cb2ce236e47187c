// Package cart maintains the node/leaf forest of baskets and
// wishlists and computes their aggregate totals.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/catalog"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/price"
	"github.com/viur-framework/viur-shop-sub000/internal/shipping"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

// Entity kinds used in the store.
const (
	KindNode   = "shop_cart_node"
	KindLeaf   = "shop_cart_leaf"
	KindBasket = "shop_basket"
)

// Type distinguishes baskets from wishlists.
type Type string

const (
	TypeBasket   Type = "basket"
	TypeWishlist Type = "wishlist"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	return t == TypeBasket || t == TypeWishlist
}

// QuantityMode controls how add_or_update interprets the quantity.
type QuantityMode string

const (
	ModeReplace  QuantityMode = "replace"
	ModeIncrease QuantityMode = "increase"
	ModeDecrease QuantityMode = "decrease"
)

// Valid reports whether the mode is known.
func (m QuantityMode) Valid() bool {
	switch m {
	case ModeReplace, ModeIncrease, ModeDecrease:
		return true
	}
	return false
}

// VatEntry is one tax bracket's share of a node total.
type VatEntry struct {
	Category   vat.Category    `json:"category"`
	Percentage decimal.Decimal `json:"percentage"`
	Value      decimal.Decimal `json:"value"`
}

// Node is an inner vertex of the cart forest. The computed fields are
// derived from its direct children on read and only persisted when
// the cart freezes for an order.
type Node struct {
	Key       common.Key  `json:"key"`
	ParentKey *common.Key `json:"parent,omitempty"`
	RootKey   *common.Key `json:"parentrepo,omitempty"`

	IsRootNode      bool   `json:"is_root_node"`
	CartType        Type   `json:"cart_type"`
	Name            string `json:"name,omitempty"`
	CustomerComment string `json:"customer_comment,omitempty"`

	ShippingAddress *common.Key         `json:"shipping_address,omitempty"`
	ShippingKey     *common.Key         `json:"shipping,omitempty"`
	ShippingStatus  shipping.Preference `json:"shipping_status,omitempty"`
	DiscountKey     *common.Key         `json:"discount,omitempty"`
	// AppliedCode remembers the code the discount was redeemed with,
	// so completed orders can move the right usage counter.
	AppliedCode string `json:"applied_code,omitempty"`

	// OwnerSession and OwnerUser gate reachability. A root is
	// available to a caller who owns it by session or by user key.
	OwnerSession string      `json:"owner_session,omitempty"`
	OwnerUser    *common.Key `json:"owner_user,omitempty"`

	Frozen bool `json:"frozen"`

	Total         decimal.Decimal `json:"total"`
	TotalQuantity int             `json:"total_quantity"`
	VatTotal      decimal.Decimal `json:"vat_total"`
	Vat           []VatEntry      `json:"vat,omitempty"`

	// ShippingCost is resolved from the selected shipping method
	// during aggregation and persisted on freeze.
	ShippingCost decimal.Decimal `json:"shipping_cost"`
}

// Root returns the key of the tree this node belongs to. A root node
// is its own root.
func (n *Node) Root() common.Key {
	if n.RootKey != nil {
		return *n.RootKey
	}
	return n.Key
}

// Leaf is one article line. The article snapshot is captured when the
// leaf is created and not re-synced automatically.
type Leaf struct {
	Key        common.Key `json:"key"`
	ParentKey  common.Key `json:"parent"`
	RootKey    common.Key `json:"parentrepo"`
	ArticleKey common.Key `json:"article"`

	Quantity int              `json:"quantity"`
	Snapshot catalog.Snapshot `json:"article_snapshot"`

	// LowPrice mirrors the article flag at add time; it gates
	// combinability of discounts.
	LowPrice bool `json:"is_low_price"`

	// Price is computed on read and persisted only on freeze.
	Price *price.Breakdown `json:"price,omitempty"`
}

// Child is one direct child of a node, either a sub-node or a leaf.
type Child struct {
	Node *Node `json:"node,omitempty"`
	Leaf *Leaf `json:"leaf,omitempty"`
}
