package cart

import (
	"context"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Freeze walks the subtree of a root cart, verifies every article is
// still sellable, and persists the computed totals, leaf prices, and
// discount references as an immutable copy for order placement.
//
// The policy for unsellable articles is a hard failure: the cart is
// left untouched and the error lists every offending article so the
// customer can fix the cart in one pass.
func (s *Service) Freeze(ctx context.Context, rootKey common.Key) (*Node, error) {
	root, _, err := s.loadNode(ctx, rootKey)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, root); err != nil {
		return nil, err
	}
	if !root.IsRootNode {
		return nil, common.InvalidState("only a root cart can be frozen")
	}
	if root.Frozen {
		return nil, common.InvalidState("cart is already frozen")
	}

	var (
		nodes    []*Node
		leaves   []*Leaf
		stale    []string
	)
	if err := s.collectSubtree(ctx, root, &nodes, &leaves); err != nil {
		return nil, err
	}
	for _, leaf := range leaves {
		article, err := s.catalog.Get(ctx, leaf.ArticleKey)
		if err != nil {
			if common.HasCode(err, common.CodeNotFound) {
				stale = append(stale, leaf.ArticleKey.String())
				continue
			}
			return nil, err
		}
		if !article.Listed || !article.Availability.Buyable() {
			stale = append(stale, leaf.ArticleKey.String())
		}
	}
	if len(stale) > 0 {
		return nil, common.StaleCart("cart contains articles that are no longer sellable", stale)
	}

	// Compute prices and totals before writing anything.
	for _, leaf := range leaves {
		breakdown, err := s.calc.ForLeaf(ctx, s.leafInfo(leaf))
		if err != nil {
			return nil, err
		}
		leaf.Price = breakdown
	}
	s.invalidateTreeCaches(ctx, rootKey)
	for i := len(nodes) - 1; i >= 0; i-- {
		// Children before parents so each parent folds fresh values.
		if err := s.aggregate(ctx, nodes[i]); err != nil {
			return nil, err
		}
	}

	err = s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		for _, leaf := range leaves {
			parent := leaf.ParentKey
			rootRef := leaf.RootKey
			ent := &store.Entity{Key: leaf.Key, Parent: &parent, Root: &rootRef}
			if err := store.PutAs(ctx, tx, ent, leaf); err != nil {
				return err
			}
		}
		for _, node := range nodes {
			node.Frozen = true
			ent := &store.Entity{Key: node.Key, Parent: node.ParentKey, Root: node.RootKey}
			if err := store.PutAs(ctx, tx, ent, node); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.countMutation("freeze")
	s.invalidateTreeCaches(ctx, rootKey)
	return nodes[0], nil
}

// collectSubtree gathers the nodes and leaves of a subtree in
// breadth-first order, root first.
func (s *Service) collectSubtree(ctx context.Context, root *Node, nodes *[]*Node, leaves *[]*Leaf) error {
	*nodes = append(*nodes, root)
	queue := []common.Key{root.Key}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		childNodes, err := s.store.Query(ctx, store.Query{Kind: KindNode, Parent: &parent})
		if err != nil {
			return err
		}
		for _, ent := range childNodes {
			var node Node
			if err := ent.Decode(&node); err != nil {
				return err
			}
			node.Key = ent.Key
			*nodes = append(*nodes, &node)
			queue = append(queue, node.Key)
		}

		leafEnts, err := s.store.Query(ctx, store.Query{Kind: KindLeaf, Parent: &parent})
		if err != nil {
			return err
		}
		for _, ent := range leafEnts {
			var leaf Leaf
			if err := ent.Decode(&leaf); err != nil {
				return err
			}
			leaf.Key = ent.Key
			*leaves = append(*leaves, &leaf)
		}
	}
	return nil
}
