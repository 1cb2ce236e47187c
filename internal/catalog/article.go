package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

// KindArticle is the entity kind under which articles are stored.
const KindArticle = "shop_article"

// Availability describes whether an article can currently be bought.
type Availability string

const (
	AvailabilityInStock      Availability = "instock"
	AvailabilityOutOfStock   Availability = "outofstock"
	AvailabilityLimited      Availability = "limited"
	AvailabilityDiscontinued Availability = "discontinued"
	AvailabilityPreorder     Availability = "preorder"
)

// Buyable reports whether the availability permits adding the article
// to a basket.
func (a Availability) Buyable() bool {
	switch a {
	case AvailabilityInStock, AvailabilityLimited, AvailabilityPreorder:
		return true
	}
	return false
}

// Valid reports whether the availability is a known value.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityLimited,
		AvailabilityDiscontinued, AvailabilityPreorder:
		return true
	}
	return false
}

// Article is a sellable product as the shop sees it. Product data
// management itself lives outside the shop; these are the fields the
// pricing and cart machinery needs.
type Article struct {
	Key              common.Key      `json:"key"`
	ArtNo            string          `json:"art_no"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	PriceRetail      decimal.Decimal `json:"price_retail"`
	PriceRecommended decimal.Decimal `json:"price_recommended"`
	Availability     Availability    `json:"availability"`
	Listed           bool            `json:"shop_listed"`
	Image            string          `json:"image,omitempty"`
	VatCategory      vat.Category    `json:"vat_category"`
	ShippingKeys     []common.Key    `json:"shipping,omitempty"`
	IsWeee           bool            `json:"is_weee"`
	IsLowPrice       bool            `json:"is_low_price"`
}

// Snapshot is the immutable copy of article data written into a cart
// leaf when its cart freezes. Orders render from snapshots so later
// catalog edits never change a placed order.
type Snapshot struct {
	ArtNo            string          `json:"art_no"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	PriceRetail      decimal.Decimal `json:"price_retail"`
	PriceRecommended decimal.Decimal `json:"price_recommended"`
	Availability     Availability    `json:"availability"`
	Image            string          `json:"image,omitempty"`
	VatCategory      vat.Category    `json:"vat_category"`
	VatRate          decimal.Decimal `json:"vat_rate"`
}

// Snapshot copies the order-relevant article fields, stamping in the
// VAT rate that applied at freeze time.
func (a *Article) Snapshot(vatRate decimal.Decimal) Snapshot {
	return Snapshot{
		ArtNo:            a.ArtNo,
		Name:             a.Name,
		Description:      a.Description,
		PriceRetail:      a.PriceRetail,
		PriceRecommended: a.PriceRecommended,
		Availability:     a.Availability,
		Image:            a.Image,
		VatCategory:      a.VatCategory,
		VatRate:          vatRate,
	}
}
