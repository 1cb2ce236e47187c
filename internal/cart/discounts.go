package cart

import (
	"context"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Info implements discount.Cart. Besides the totals it lists every
// article present as a leaf in the tree, so article-scoped conditions
// can check leaf presence during redemption.
func (s *Service) Info(ctx context.Context, cartKey common.Key) (discount.CartContext, error) {
	node, err := s.GetNode(ctx, cartKey)
	if err != nil {
		return discount.CartContext{}, err
	}
	root := node.Root()
	leafEnts, err := s.store.Query(ctx, store.Query{Kind: KindLeaf, Root: &root})
	if err != nil {
		return discount.CartContext{}, err
	}
	var articles []common.Key
	for _, ent := range leafEnts {
		var leaf Leaf
		if err := ent.Decode(&leaf); err != nil {
			return discount.CartContext{}, err
		}
		articles = append(articles, leaf.ArticleKey)
	}
	return discount.CartContext{
		Key:           node.Key,
		Total:         node.Total,
		TotalQuantity: node.TotalQuantity,
		ArticleKeys:   articles,
	}, nil
}

// AttachDiscount implements discount.Cart. A node carries at most one
// discount reference.
func (s *Service) AttachDiscount(ctx context.Context, cartKey common.Key, d *discount.Discount, code string) error {
	node, ent, err := s.loadNode(ctx, cartKey)
	if err != nil {
		return err
	}
	if err := s.requireAccess(ctx, node); err != nil {
		return err
	}
	if node.Frozen {
		return common.InvalidState("cart is frozen")
	}
	if node.DiscountKey != nil {
		if node.DiscountKey.Equal(d.Key) {
			return nil
		}
		return common.InvalidState("cart already carries a discount")
	}
	key := d.Key
	node.DiscountKey = &key
	node.AppliedCode = code
	if err := store.PutAs(ctx, s.store, ent, node); err != nil {
		return err
	}
	s.countMutation("discount_attach")
	s.invalidateTreeCaches(ctx, cartKey)
	if s.metrics != nil {
		s.metrics.DiscountApplyTotal.WithLabelValues(string(d.DiscountType), "attached").Inc()
	}
	return nil
}

// AddFreeArticleChild implements discount.Cart: a child node bound to
// the discount holding exactly one unit of the free article.
func (s *Service) AddFreeArticleChild(ctx context.Context, cartKey common.Key, d *discount.Discount, code string) error {
	if d.FreeArticle == nil {
		return common.InvalidState("free article discount has no article")
	}
	name := "Free article"
	key := d.Key
	node, err := s.CartAdd(ctx, &cartKey, NodeParams{
		Name:        common.Some(name),
		DiscountKey: common.Some(key),
	})
	if err != nil {
		return err
	}
	if code != "" {
		fresh, ent, err := s.loadNode(ctx, node.Key)
		if err != nil {
			return err
		}
		fresh.AppliedCode = code
		if err := store.PutAs(ctx, s.store, ent, fresh); err != nil {
			return err
		}
	}
	if _, err := s.AddOrUpdateArticle(ctx, *d.FreeArticle, node.Key, 1, ModeReplace); err != nil {
		// Roll the empty node back so a failed redeem leaves no debris.
		if rmErr := s.Remove(ctx, node.Key); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("node", node.Key.String()).Msg("could not remove free article node after failure")
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.DiscountApplyTotal.WithLabelValues(string(d.DiscountType), "attached").Inc()
	}
	return nil
}

// RemoveDiscount implements discount.Cart. It clears a direct
// reference on the node or removes the free-article child node the
// discount created.
func (s *Service) RemoveDiscount(ctx context.Context, cartKey common.Key, discountKey common.Key) error {
	node, ent, err := s.loadNode(ctx, cartKey)
	if err != nil {
		return err
	}
	if err := s.requireAccess(ctx, node); err != nil {
		return err
	}
	if node.Frozen {
		return common.InvalidState("cart is frozen")
	}
	if node.DiscountKey != nil && node.DiscountKey.Equal(discountKey) {
		node.DiscountKey = nil
		node.AppliedCode = ""
		if err := store.PutAs(ctx, s.store, ent, node); err != nil {
			return err
		}
		s.countMutation("discount_remove")
		s.invalidateTreeCaches(ctx, cartKey)
		return nil
	}

	childNodes, err := s.store.Query(ctx, store.Query{Kind: KindNode, Parent: &cartKey})
	if err != nil {
		return err
	}
	for _, childEnt := range childNodes {
		var child Node
		if err := childEnt.Decode(&child); err != nil {
			return err
		}
		child.Key = childEnt.Key
		if child.DiscountKey != nil && child.DiscountKey.Equal(discountKey) {
			if err := s.Remove(ctx, child.Key); err != nil {
				return err
			}
			s.countMutation("discount_remove")
			return nil
		}
	}
	return common.NotFound("discount on cart", discountKey.String())
}

// Redemption pairs a discount attached somewhere in a cart tree with
// the code it was redeemed under.
type Redemption struct {
	Discount *discount.Discount
	Code     string
}

// Redemptions collects every attached discount in the subtree below
// root. The order-ordered observer uses it to move usage counters
// once checkout completed.
func (s *Service) Redemptions(ctx context.Context, root common.Key) ([]Redemption, error) {
	var out []Redemption
	queue := []common.Key{root}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		node, _, err := s.loadNode(ctx, key)
		if err != nil {
			return nil, err
		}
		if node.DiscountKey != nil {
			d, err := s.discounts.GetDiscount(ctx, *node.DiscountKey)
			if err != nil {
				return nil, err
			}
			out = append(out, Redemption{Discount: d, Code: node.AppliedCode})
		}
		childNodes, err := s.store.Query(ctx, store.Query{Kind: KindNode, Parent: &key})
		if err != nil {
			return nil, err
		}
		for _, ent := range childNodes {
			queue = append(queue, ent.Key)
		}
	}
	return out, nil
}

// CartDiscounts implements price.DiscountSource: it walks from the
// leaf's parent up to the root and collects every attached discount,
// nearest node first.
func (s *Service) CartDiscounts(ctx context.Context, parent common.Key) ([]*discount.Discount, error) {
	var discounts []*discount.Discount
	current := &parent
	for current != nil {
		node, _, err := s.loadNode(ctx, *current)
		if err != nil {
			return nil, err
		}
		if node.DiscountKey != nil {
			d, err := s.discounts.GetDiscount(ctx, *node.DiscountKey)
			if err != nil {
				return nil, err
			}
			discounts = append(discounts, d)
		}
		current = node.ParentKey
	}
	return discounts, nil
}
