package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/viur-framework/viur-shop-sub000/internal/catalog"
	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/discount"
	"github.com/viur-framework/viur-shop-sub000/internal/hooks"
	"github.com/viur-framework/viur-shop-sub000/internal/obs"
	"github.com/viur-framework/viur-shop-sub000/internal/price"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/shipping"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
	"github.com/viur-framework/viur-shop-sub000/internal/vat"
)

// Service implements the cart tree operations.
type Service struct {
	store     store.Store
	catalog   *catalog.Service
	vat       *vat.Service
	shipping  *shipping.Service
	calc      *price.Calculator
	discounts *discount.Service
	engine    *discount.Engine
	hooks     *hooks.Registry
	metrics   *obs.Metrics
	log       zerolog.Logger
	pageSize  int
}

// NewService builds the cart service.
func NewService(
	st store.Store,
	catalogSvc *catalog.Service,
	vatSvc *vat.Service,
	shippingSvc *shipping.Service,
	calc *price.Calculator,
	discounts *discount.Service,
	engine *discount.Engine,
	registry *hooks.Registry,
	metrics *obs.Metrics,
	log zerolog.Logger,
	pageSize int,
) *Service {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		store:     st,
		catalog:   catalogSvc,
		vat:       vatSvc,
		shipping:  shippingSvc,
		calc:      calc,
		discounts: discounts,
		engine:    engine,
		hooks:     registry,
		metrics:   metrics,
		log:       log,
		pageSize:  pageSize,
	}
}

func (s *Service) countMutation(op string) {
	if s.metrics != nil {
		s.metrics.CartMutationTotal.WithLabelValues(op).Inc()
	}
}

// GetNode loads a node with computed totals. Frozen nodes keep their
// persisted totals.
func (s *Service) GetNode(ctx context.Context, key common.Key) (*Node, error) {
	node, _, err := s.loadNode(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, node); err != nil {
		return nil, err
	}
	if !node.Frozen {
		if err := s.aggregate(ctx, node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Children returns the direct children of a node ordered by sort
// index, leaf prices computed. The fetch is capped at the configured
// page size per call.
func (s *Service) Children(ctx context.Context, parentKey common.Key) ([]Child, error) {
	parent, _, err := s.loadNode(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, parent); err != nil {
		return nil, err
	}
	return s.children(ctx, parent)
}

// ChildrenCached is Children memoized for the lifetime of the request
// session.
func (s *Service) ChildrenCached(ctx context.Context, parentKey common.Key) ([]Child, error) {
	sess := session.FromContext(ctx)
	cacheKey := childrenCacheKey(parentKey)
	if cached, ok := sess.Cached(cacheKey); ok {
		return cached.([]Child), nil
	}
	children, err := s.Children(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	sess.SetCached(cacheKey, children)
	return children, nil
}

func childrenCacheKey(parent common.Key) string {
	return fmt.Sprintf("cart.children:%s", parent)
}

func (s *Service) children(ctx context.Context, parent *Node) ([]Child, error) {
	parentKey := parent.Key
	nodeEnts, err := s.store.Query(ctx, store.Query{
		Kind:    KindNode,
		Parent:  &parentKey,
		OrderBy: store.OrderBySortIdx,
		Limit:   s.pageSize,
	})
	if err != nil {
		return nil, err
	}
	leafEnts, err := s.store.Query(ctx, store.Query{
		Kind:    KindLeaf,
		Parent:  &parentKey,
		OrderBy: store.OrderBySortIdx,
		Limit:   s.pageSize,
	})
	if err != nil {
		return nil, err
	}

	type sortable struct {
		child Child
		idx   float64
	}
	items := make([]sortable, 0, len(nodeEnts)+len(leafEnts))
	for _, ent := range nodeEnts {
		var node Node
		if err := ent.Decode(&node); err != nil {
			return nil, err
		}
		node.Key = ent.Key
		if !node.Frozen {
			if err := s.aggregate(ctx, &node); err != nil {
				return nil, err
			}
		}
		items = append(items, sortable{Child{Node: &node}, ent.SortIdx})
	}
	for _, ent := range leafEnts {
		var leaf Leaf
		if err := ent.Decode(&leaf); err != nil {
			return nil, err
		}
		leaf.Key = ent.Key
		if !parent.Frozen || leaf.Price == nil {
			breakdown, err := s.calc.ForLeaf(ctx, s.leafInfo(&leaf))
			if err != nil {
				return nil, err
			}
			leaf.Price = breakdown
		}
		items = append(items, sortable{Child{Leaf: &leaf}, ent.SortIdx})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	children := make([]Child, len(items))
	for i, item := range items {
		children[i] = item.child
	}
	return children, nil
}

func (s *Service) leafInfo(leaf *Leaf) price.LeafInfo {
	return price.LeafInfo{
		Key:         leaf.Key,
		ParentKey:   leaf.ParentKey,
		ArticleKey:  leaf.ArticleKey,
		Retail:      leaf.Snapshot.PriceRetail,
		Recommended: leaf.Snapshot.PriceRecommended,
		Quantity:    leaf.Quantity,
		VatCategory: leaf.Snapshot.VatCategory,
		IsLowPrice:  leaf.LowPrice,
	}
}

// aggregate folds the direct children into the node's computed
// fields: sub-nodes contribute their own totals, leaves contribute
// price.current times quantity. A basket-domain discount attached to
// the node then modifies the subtotal, and the resolved shipping cost
// is added on top.
func (s *Service) aggregate(ctx context.Context, node *Node) error {
	children, err := s.ChildrenCached(ctx, node.Key)
	if err != nil {
		return err
	}

	total := decimal.Zero
	quantity := 0
	vatValues := map[vat.Category]decimal.Decimal{}
	vatRates := map[vat.Category]decimal.Decimal{}

	for _, child := range children {
		switch {
		case child.Node != nil:
			total = total.Add(child.Node.Total)
			quantity += child.Node.TotalQuantity
			for _, entry := range child.Node.Vat {
				vatValues[entry.Category] = vatValues[entry.Category].Add(entry.Value)
				vatRates[entry.Category] = entry.Percentage
			}
		case child.Leaf != nil:
			leaf := child.Leaf
			if leaf.Price == nil {
				continue
			}
			qty := decimal.NewFromInt(int64(leaf.Quantity))
			total = total.Add(leaf.Price.Current.Mul(qty))
			quantity += leaf.Quantity
			if cat := leaf.Snapshot.VatCategory; cat != "" {
				vatValues[cat] = vatValues[cat].Add(leaf.Price.VatValue.Mul(qty))
				vatRates[cat] = leaf.Price.VatRate.Mul(decimal.NewFromInt(100))
			}
		}
	}

	total, err = s.applyNodeDiscount(ctx, node, total)
	if err != nil {
		return err
	}
	shippingCost, err := s.resolveShippingCost(ctx, node, total)
	if err != nil {
		return err
	}
	total = total.Add(shippingCost)

	node.Total = common.RoundMoney(total)
	node.TotalQuantity = quantity
	node.ShippingCost = shippingCost

	node.Vat = node.Vat[:0]
	vatTotal := decimal.Zero
	for cat, value := range vatValues {
		if value.IsZero() {
			continue
		}
		node.Vat = append(node.Vat, VatEntry{
			Category:   cat,
			Percentage: vatRates[cat],
			Value:      common.RoundMoney(value),
		})
		vatTotal = vatTotal.Add(value)
	}
	sort.Slice(node.Vat, func(i, j int) bool { return node.Vat[i].Category < node.Vat[j].Category })
	node.VatTotal = common.RoundMoney(vatTotal)
	return nil
}

// applyNodeDiscount applies a basket-domain discount attached to the
// node to its subtotal. Collection errors soft-fail to the plain
// subtotal; an unsupported discount type is a hard failure.
func (s *Service) applyNodeDiscount(ctx context.Context, node *Node, total decimal.Decimal) (decimal.Decimal, error) {
	if node.DiscountKey == nil {
		return total, nil
	}
	d, err := s.discounts.GetDiscount(ctx, *node.DiscountKey)
	if err != nil {
		s.log.Warn().Err(err).Str("node", node.Key.String()).Msg("attached discount could not be loaded")
		return total, nil
	}
	if d.Domain() != discount.DomainBasket {
		return total, nil
	}
	switch d.DiscountType {
	case discount.TypePercentage, discount.TypeAbsolute:
		return discount.Apply(d, total)
	}
	return total, nil
}

func (s *Service) resolveShippingCost(ctx context.Context, node *Node, orderValue decimal.Decimal) (decimal.Decimal, error) {
	if !node.IsRootNode {
		return decimal.Zero, nil
	}
	if s.freeShippingApplies(ctx, node) {
		return decimal.Zero, nil
	}
	if node.ShippingKey == nil && node.ShippingStatus == "" {
		return decimal.Zero, nil
	}
	methods, err := s.shipping.List(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	country, err := s.hooks.CurrentCountry(ctx)
	if err != nil {
		country = ""
	}
	method := shipping.Choose(methods, node.ShippingStatus, node.ShippingKey, country, orderValue)
	if method == nil {
		return decimal.Zero, nil
	}
	return method.Price, nil
}

func (s *Service) freeShippingApplies(ctx context.Context, node *Node) bool {
	if node.DiscountKey == nil {
		return false
	}
	d, err := s.discounts.GetDiscount(ctx, *node.DiscountKey)
	if err != nil {
		return false
	}
	return d.DiscountType == discount.TypeFreeShipping
}

// AddOrUpdateArticle creates or mutates the leaf for (article,
// parent). A resulting quantity of zero deletes the leaf and returns
// nil without error.
func (s *Service) AddOrUpdateArticle(ctx context.Context, articleKey, parentKey common.Key, quantity int, mode QuantityMode) (*Leaf, error) {
	if !mode.Valid() {
		return nil, common.InvalidArgumentf("unknown quantity mode %q", mode)
	}
	parent, _, err := s.loadNode(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, parent); err != nil {
		return nil, err
	}
	if parent.Frozen {
		return nil, common.InvalidState("cart is frozen")
	}
	if quantity == 0 && mode != ModeReplace {
		return nil, common.InvalidArgument("quantity delta of zero is a no-op")
	}
	if quantity < 0 {
		return nil, common.InvalidArgument("quantity must not be negative")
	}

	article, err := s.catalog.Get(ctx, articleKey)
	if err != nil {
		return nil, err
	}
	if !article.Listed {
		return nil, common.InvalidStatef("article %s is not listed for sale", articleKey)
	}

	leaf, leafEnt, err := s.findLeaf(ctx, articleKey, parentKey)
	if err != nil {
		return nil, err
	}

	newQuantity := quantity
	if leaf != nil {
		switch mode {
		case ModeIncrease:
			newQuantity = leaf.Quantity + quantity
		case ModeDecrease:
			newQuantity = leaf.Quantity - quantity
		}
	} else if mode == ModeDecrease {
		return nil, common.InvalidArgument("cannot decrease a missing article")
	}
	if newQuantity < 0 {
		return nil, common.InvalidArgument("resulting quantity would be negative")
	}

	defer s.invalidateTreeCaches(ctx, parentKey)

	if newQuantity == 0 {
		if leaf != nil {
			if err := s.store.Delete(ctx, leaf.Key); err != nil {
				return nil, err
			}
			s.countMutation("leaf_delete")
		}
		return nil, nil
	}

	if newQuantity > 1 {
		if err := s.rejectFreeArticleQuantity(ctx, parent); err != nil {
			return nil, err
		}
	}

	if leaf == nil {
		country, _ := s.hooks.CurrentCountry(ctx)
		rate := s.vat.Rate(country, article.VatCategory)
		leaf = &Leaf{
			Key:        common.NewKey(KindLeaf),
			ParentKey:  parentKey,
			RootKey:    parent.Root(),
			ArticleKey: articleKey,
			Quantity:   newQuantity,
			Snapshot:   article.Snapshot(rate),
			LowPrice:   article.IsLowPrice,
		}
		root := leaf.RootKey
		leafEnt = &store.Entity{Key: leaf.Key, Parent: &parentKey, Root: &root}
		s.countMutation("leaf_create")
	} else {
		leaf.Quantity = newQuantity
		s.countMutation("leaf_update")
	}
	if err := store.PutAs(ctx, s.store, leafEnt, leaf); err != nil {
		return nil, err
	}

	breakdown, err := s.calc.ForLeaf(ctx, s.leafInfo(leaf))
	if err != nil {
		return nil, err
	}
	leaf.Price = breakdown
	return leaf, nil
}

// rejectFreeArticleQuantity blocks quantities above one inside a
// FREE_ARTICLE discount node.
func (s *Service) rejectFreeArticleQuantity(ctx context.Context, parent *Node) error {
	if parent.DiscountKey == nil {
		return nil
	}
	d, err := s.discounts.GetDiscount(ctx, *parent.DiscountKey)
	if err != nil {
		return nil
	}
	if d.DiscountType == discount.TypeFreeArticle {
		return common.InvalidArgument("a free article node holds at most one unit")
	}
	return nil
}

// MoveArticle re-parents the leaf for article from one node to
// another. Both nodes must belong to the same tree.
func (s *Service) MoveArticle(ctx context.Context, articleKey, fromParent, toParent common.Key) (*Leaf, error) {
	from, _, err := s.loadNode(ctx, fromParent)
	if err != nil {
		return nil, err
	}
	to, _, err := s.loadNode(ctx, toParent)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, from); err != nil {
		return nil, err
	}
	if !from.Root().Equal(to.Root()) {
		return nil, common.InvalidArgument("source and target carts belong to different trees")
	}
	leaf, ent, err := s.findLeaf(ctx, articleKey, fromParent)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, common.InvalidArgumentf("article %s is not in the source cart", articleKey)
	}
	leaf.ParentKey = toParent
	ent.Parent = &toParent
	if err := store.PutAs(ctx, s.store, ent, leaf); err != nil {
		return nil, err
	}
	s.countMutation("leaf_move")
	s.invalidateTreeCaches(ctx, fromParent)
	s.invalidateTreeCaches(ctx, toParent)
	return leaf, nil
}

// GetArticle returns the leaf for (article, parent), or nil when no
// such leaf exists.
func (s *Service) GetArticle(ctx context.Context, articleKey, parentKey common.Key) (*Leaf, error) {
	parent, _, err := s.loadNode(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, parent); err != nil {
		return nil, err
	}
	leaf, _, err := s.findLeaf(ctx, articleKey, parentKey)
	return leaf, err
}

// RemoveArticle deletes the leaf for (article, parent).
func (s *Service) RemoveArticle(ctx context.Context, articleKey, parentKey common.Key) error {
	leaf, err := s.GetArticle(ctx, articleKey, parentKey)
	if err != nil {
		return err
	}
	if leaf == nil {
		return common.NotFound("cart article", articleKey.String())
	}
	if err := s.store.Delete(ctx, leaf.Key); err != nil {
		return err
	}
	s.countMutation("leaf_delete")
	s.invalidateTreeCaches(ctx, parentKey)
	return nil
}

// IsValidNode reports whether the node exists and is reachable from
// one of the caller's available roots, optionally requiring a root.
func (s *Service) IsValidNode(ctx context.Context, key common.Key, requireRoot bool) (bool, error) {
	node, _, err := s.loadNode(ctx, key)
	if err != nil {
		if common.HasCode(err, common.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if requireRoot && !node.IsRootNode {
		return false, nil
	}
	if err := s.requireAccess(ctx, node); err != nil {
		if common.HasCode(err, common.CodeNotAuthorized) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes the subtree below the node and the node itself. If
// the node was the session's basket root, the basket pointer is
// detached first.
func (s *Service) Remove(ctx context.Context, key common.Key) error {
	node, _, err := s.loadNode(ctx, key)
	if err != nil {
		return err
	}
	if err := s.requireAccess(ctx, node); err != nil {
		return err
	}
	if node.IsRootNode {
		if err := s.detachBasketPointer(ctx, node.Key); err != nil {
			return err
		}
	}
	if err := s.removeSubtree(ctx, node.Key); err != nil {
		return err
	}
	s.countMutation("node_delete")
	s.invalidateTreeCaches(ctx, key)
	return nil
}

func (s *Service) removeSubtree(ctx context.Context, key common.Key) error {
	childNodes, err := s.store.Query(ctx, store.Query{Kind: KindNode, Parent: &key})
	if err != nil {
		return err
	}
	for _, ent := range childNodes {
		if err := s.removeSubtree(ctx, ent.Key); err != nil {
			return err
		}
	}
	leaves, err := s.store.Query(ctx, store.Query{Kind: KindLeaf, Parent: &key})
	if err != nil {
		return err
	}
	for _, ent := range leaves {
		if err := s.store.Delete(ctx, ent.Key); err != nil {
			return err
		}
	}
	return s.store.Delete(ctx, key)
}

// NodeParams carries the mutable node fields for add and update.
type NodeParams struct {
	Name            common.Optional[string]              `json:"name"`
	CustomerComment common.Optional[string]              `json:"customer_comment"`
	CartType        common.Optional[Type]                `json:"cart_type"`
	ShippingAddress common.Optional[common.Key]          `json:"shipping_address"`
	ShippingKey     common.Optional[common.Key]          `json:"shipping"`
	ShippingStatus  common.Optional[shipping.Preference] `json:"shipping_status"`
	DiscountKey     common.Optional[common.Key]          `json:"discount"`
}

// CartAdd creates a node. Without a parent the node becomes a new
// root owned by the caller.
func (s *Service) CartAdd(ctx context.Context, parentKey *common.Key, params NodeParams) (*Node, error) {
	node := &Node{
		Key:      common.NewKey(KindNode),
		CartType: TypeWishlist,
	}
	if parentKey != nil {
		parent, _, err := s.loadNode(ctx, *parentKey)
		if err != nil {
			return nil, err
		}
		if err := s.requireAccess(ctx, parent); err != nil {
			return nil, err
		}
		if parent.Frozen {
			return nil, common.InvalidState("cart is frozen")
		}
		node.ParentKey = parentKey
		root := parent.Root()
		node.RootKey = &root
		node.CartType = parent.CartType
	} else {
		sess := session.FromContext(ctx)
		node.IsRootNode = true
		node.OwnerSession = sess.ID
		node.OwnerUser = sess.UserKey
	}
	if err := applyNodeParams(node, params); err != nil {
		return nil, err
	}
	ent := &store.Entity{Key: node.Key, Parent: node.ParentKey, Root: node.RootKey}
	if err := store.PutAs(ctx, s.store, ent, node); err != nil {
		return nil, err
	}
	s.countMutation("node_create")
	if node.ParentKey != nil {
		s.invalidateTreeCaches(ctx, *node.ParentKey)
	}
	return node, nil
}

// CartUpdate applies a partial update to a node. Unset fields stay
// untouched; explicit nulls clear optional references.
func (s *Service) CartUpdate(ctx context.Context, key common.Key, params NodeParams) (*Node, error) {
	node, ent, err := s.loadNode(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, node); err != nil {
		return nil, err
	}
	if node.Frozen {
		return nil, common.InvalidState("cart is frozen")
	}
	if err := applyNodeParams(node, params); err != nil {
		return nil, err
	}
	if err := store.PutAs(ctx, s.store, ent, node); err != nil {
		return nil, err
	}
	s.countMutation("node_update")
	s.invalidateTreeCaches(ctx, key)
	if err := s.aggregate(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// CartList returns the caller's available root nodes: the session
// basket plus owned wishlists.
func (s *Service) CartList(ctx context.Context) ([]*Node, error) {
	roots, err := s.availableRoots(ctx)
	if err != nil {
		return nil, err
	}
	for _, node := range roots {
		if node.Frozen {
			continue
		}
		if err := s.aggregate(ctx, node); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

func applyNodeParams(node *Node, params NodeParams) error {
	if params.Name.Set && params.Name.Value != nil {
		node.Name = *params.Name.Value
	}
	if params.CustomerComment.Set {
		if params.CustomerComment.Value != nil {
			node.CustomerComment = *params.CustomerComment.Value
		} else {
			node.CustomerComment = ""
		}
	}
	if params.CartType.Set && params.CartType.Value != nil {
		if !params.CartType.Value.Valid() {
			return common.InvalidArgumentf("unknown cart type %q", *params.CartType.Value)
		}
		node.CartType = *params.CartType.Value
	}
	if params.ShippingAddress.Set {
		node.ShippingAddress = params.ShippingAddress.Value
	}
	if params.ShippingKey.Set {
		node.ShippingKey = params.ShippingKey.Value
	}
	if params.ShippingStatus.Set {
		if params.ShippingStatus.Value != nil && !params.ShippingStatus.Value.Valid() {
			return common.InvalidArgumentf("unknown shipping status %q", *params.ShippingStatus.Value)
		}
		if params.ShippingStatus.Value != nil {
			node.ShippingStatus = *params.ShippingStatus.Value
		} else {
			node.ShippingStatus = ""
		}
	}
	if params.DiscountKey.Set {
		node.DiscountKey = params.DiscountKey.Value
	}
	return nil
}

func (s *Service) loadNode(ctx context.Context, key common.Key) (*Node, *store.Entity, error) {
	if key.Kind != KindNode {
		return nil, nil, common.InvalidKey(key.String())
	}
	var node Node
	ent, err := store.GetAs(ctx, s.store, key, &node)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, common.NotFound("cart node", key.String())
		}
		return nil, nil, err
	}
	node.Key = key
	return &node, ent, nil
}

func (s *Service) findLeaf(ctx context.Context, articleKey, parentKey common.Key) (*Leaf, *store.Entity, error) {
	ents, err := s.store.Query(ctx, store.Query{
		Kind:   KindLeaf,
		Parent: &parentKey,
		Eq:     map[string]any{"article": articleKey.String()},
		Limit:  1,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(ents) == 0 {
		return nil, nil, nil
	}
	var leaf Leaf
	if err := ents[0].Decode(&leaf); err != nil {
		return nil, nil, err
	}
	leaf.Key = ents[0].Key
	return &leaf, ents[0], nil
}

// requireAccess verifies the node's root is owned by the caller,
// either through the session or the signed-in user.
func (s *Service) requireAccess(ctx context.Context, node *Node) error {
	root := node
	if !node.IsRootNode {
		loaded, _, err := s.loadNode(ctx, node.Root())
		if err != nil {
			return err
		}
		root = loaded
	}
	sess := session.FromContext(ctx)
	if root.OwnerSession == sess.ID && root.OwnerSession != "" {
		return nil
	}
	if root.OwnerUser != nil && sess.UserKey != nil && root.OwnerUser.Equal(*sess.UserKey) {
		return nil
	}
	return common.NotAuthorized("no access to this cart")
}

func (s *Service) availableRoots(ctx context.Context) ([]*Node, error) {
	sess := session.FromContext(ctx)
	seen := map[string]bool{}
	var roots []*Node

	collect := func(eq map[string]any) error {
		eq["is_root_node"] = true
		ents, err := s.store.Query(ctx, store.Query{Kind: KindNode, Eq: eq})
		if err != nil {
			return err
		}
		for _, ent := range ents {
			if seen[ent.Key.String()] {
				continue
			}
			seen[ent.Key.String()] = true
			var node Node
			if err := ent.Decode(&node); err != nil {
				return err
			}
			node.Key = ent.Key
			roots = append(roots, &node)
		}
		return nil
	}

	if err := collect(map[string]any{"owner_session": sess.ID}); err != nil {
		return nil, err
	}
	if sess.UserKey != nil {
		if err := collect(map[string]any{"owner_user": sess.UserKey.String()}); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// invalidateTreeCaches drops the request-scoped children and price
// caches after a mutation so the next read recomputes.
func (s *Service) invalidateTreeCaches(ctx context.Context, _ common.Key) {
	sess := session.FromContext(ctx)
	sess.Invalidate("cart.children:")
	sess.Invalidate("price:")
}
