package discount

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Cart is the slice of cart behaviour the discount module needs. The
// cart service implements it; the two are wired together at startup.
type Cart interface {
	// Info returns the evaluation context of a root cart.
	Info(ctx context.Context, cartKey common.Key) (CartContext, error)
	// AttachDiscount records the discount and the redeemed code on
	// the cart node.
	AttachDiscount(ctx context.Context, cartKey common.Key, d *Discount, code string) error
	// AddFreeArticleChild creates a child node attached to the
	// discount holding one unit of its free article.
	AddFreeArticleChild(ctx context.Context, cartKey common.Key, d *Discount, code string) error
	// RemoveDiscount detaches the discount from the cart, removing
	// free-article child nodes it created.
	RemoveDiscount(ctx context.Context, cartKey common.Key, discountKey common.Key) error
}

// ServiceConfig groups the tunables of the discount service.
type ServiceConfig struct {
	ConditionCacheSize int
	ConditionCacheTTL  time.Duration
	AutomaticTTL       time.Duration
}

// Service provides discount and condition persistence plus the
// apply/remove operations on carts.
type Service struct {
	store  store.Store
	engine *Engine
	cart   Cart
	log    zerolog.Logger

	conditions *conditionCache

	autoMu        sync.Mutex
	autoDiscounts []*Discount
	autoLoadedAt  time.Time
	autoTTL       time.Duration
}

// NewService builds the discount service. The cart dependency is
// injected later via SetCart to break the construction cycle between
// the two modules.
func NewService(st store.Store, log zerolog.Logger, cfg ServiceConfig) *Service {
	ttl := cfg.AutomaticTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		store:      st,
		log:        log,
		conditions: newConditionCache(cfg.ConditionCacheSize, cfg.ConditionCacheTTL),
		autoTTL:    ttl,
	}
}

// SetEngine wires the evaluation engine.
func (s *Service) SetEngine(engine *Engine) { s.engine = engine }

// SetCart wires the cart dependency.
func (s *Service) SetCart(cart Cart) { s.cart = cart }

// GetCondition loads a condition, served from the bounded cache when
// fresh enough.
func (s *Service) GetCondition(ctx context.Context, key common.Key) (*Condition, error) {
	if key.Kind != KindCondition {
		return nil, common.InvalidKey(key.String())
	}
	if cond, ok := s.conditions.get(key.String()); ok {
		return cond, nil
	}
	var cond Condition
	if _, err := store.GetAs(ctx, s.store, key, &cond); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.NotFound("discount condition", key.String())
		}
		return nil, err
	}
	cond.Key = key
	s.conditions.put(key.String(), &cond)
	return &cond, nil
}

// UpsertCondition writes a condition. A zero key allocates a new one.
func (s *Service) UpsertCondition(ctx context.Context, cond *Condition) (*Condition, error) {
	if cond.Key.IsZero() {
		cond.Key = common.NewKey(KindCondition)
	} else if cond.Key.Kind != KindCondition {
		return nil, common.InvalidKey(cond.Key.String())
	}
	switch cond.CodeType {
	case "", CodeNone, CodeUniversal, CodeIndividual:
	default:
		return nil, common.InvalidArgumentf("unknown code type %q", cond.CodeType)
	}
	if cond.CodeType == CodeUniversal && cond.ScopeCode == "" {
		return nil, common.InvalidArgument("universal code condition requires a code")
	}
	if cond.CodeType == CodeIndividual && !cond.IsSubcode && cond.IndividualCodesAmount < 1 {
		return nil, common.InvalidArgument("individual code condition requires a positive pool size")
	}
	err := store.PutAs(ctx, s.store, &store.Entity{Key: cond.Key}, cond)
	if errors.Is(err, store.ErrConflict) {
		return nil, common.InvalidStatef("code %q is already in use", cond.ScopeCode)
	}
	if err != nil {
		return nil, err
	}
	s.conditions.invalidate(cond.Key.String())
	return cond, nil
}

// DeleteCondition removes a condition that no discount references.
func (s *Service) DeleteCondition(ctx context.Context, key common.Key) error {
	if key.Kind != KindCondition {
		return common.InvalidKey(key.String())
	}
	discounts, err := s.listDiscounts(ctx)
	if err != nil {
		return err
	}
	for _, d := range discounts {
		if common.ContainsKey(d.ConditionKeys, key) {
			return common.InvalidStatef("condition %s is still referenced by discount %s", key, d.Key)
		}
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.conditions.invalidate(key.String())
	return nil
}

// GetDiscount loads a discount with hydrated conditions.
func (s *Service) GetDiscount(ctx context.Context, key common.Key) (*Discount, error) {
	if key.Kind != KindDiscount {
		return nil, common.InvalidKey(key.String())
	}
	var d Discount
	if _, err := store.GetAs(ctx, s.store, key, &d); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.NotFound("discount", key.String())
		}
		return nil, err
	}
	d.Key = key
	if err := s.hydrate(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDiscount validates and writes a discount.
func (s *Service) UpsertDiscount(ctx context.Context, d *Discount) (*Discount, error) {
	if d.Key.IsZero() {
		d.Key = common.NewKey(KindDiscount)
	} else if d.Key.Kind != KindDiscount {
		return nil, common.InvalidKey(d.Key.String())
	}
	if err := s.hydrate(ctx, d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := store.PutAs(ctx, s.store, &store.Entity{Key: d.Key}, d); err != nil {
		return nil, err
	}
	s.invalidateAutomatic()
	return d, nil
}

// DeleteDiscount removes a discount.
func (s *Service) DeleteDiscount(ctx context.Context, key common.Key) error {
	if key.Kind != KindDiscount {
		return common.InvalidKey(key.String())
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidateAutomatic()
	return nil
}

// Search resolves a discount either by its key or by a redeem code.
// Exactly one of the two must be given. A code matches a discount
// when one of its conditions carries the code universally or owns a
// generated sub-code equal to it.
func (s *Service) Search(ctx context.Context, code string, key *common.Key) (*Discount, error) {
	if (code == "") == (key == nil) {
		return nil, common.InvalidArgument("need exactly one of code or discount key")
	}
	if key != nil {
		return s.GetDiscount(ctx, *key)
	}
	discounts, err := s.listDiscounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range discounts {
		for _, cond := range d.Conditions {
			switch cond.CodeType {
			case CodeUniversal:
				if strings.EqualFold(cond.ScopeCode, code) {
					return d, nil
				}
			case CodeIndividual:
				sub, err := s.FindSubCode(ctx, cond.Key, code)
				if err != nil {
					return nil, err
				}
				if sub != nil {
					return d, nil
				}
			}
		}
	}
	return nil, common.NotFound("discount for code", code)
}

// Apply redeems a discount on a cart, identified by code or key. A
// FREE_ARTICLE discount materialises as a child node holding one unit
// of its free article; every other type is attached to the cart node
// for the price computation to pick up.
func (s *Service) Apply(ctx context.Context, cartKey common.Key, code string, key *common.Key) (*Discount, error) {
	if s.cart == nil || s.engine == nil {
		return nil, common.InvalidState("discount service is not fully wired")
	}
	d, err := s.Search(ctx, code, key)
	if err != nil {
		return nil, err
	}
	if d.ActivateAutomatically {
		return nil, common.InvalidStatef("discount %s activates automatically and cannot be redeemed", d.Key)
	}
	info, err := s.cart.Info(ctx, cartKey)
	if err != nil {
		return nil, err
	}
	ec := EvalContext{Cart: &info, Code: code}
	if !s.engine.Applicable(ctx, d, ec) {
		return nil, common.InvalidStatef("discount %s is not applicable to this cart", d.Key)
	}
	if d.DiscountType == TypeFreeArticle {
		if err := s.cart.AddFreeArticleChild(ctx, cartKey, d, code); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err := s.cart.AttachDiscount(ctx, cartKey, d, code); err != nil {
		return nil, err
	}
	return d, nil
}

// Remove detaches a discount from a cart.
func (s *Service) Remove(ctx context.Context, cartKey, discountKey common.Key) error {
	if s.cart == nil {
		return common.InvalidState("discount service is not fully wired")
	}
	if discountKey.Kind != KindDiscount {
		return common.InvalidKey(discountKey.String())
	}
	return s.cart.RemoveDiscount(ctx, cartKey, discountKey)
}

// AutomaticDiscounts returns all discounts flagged to activate
// automatically. The result is cached process-wide for a bounded
// window since campaigns change rarely.
func (s *Service) AutomaticDiscounts(ctx context.Context) ([]*Discount, error) {
	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	if s.autoDiscounts != nil && time.Since(s.autoLoadedAt) < s.autoTTL {
		return s.autoDiscounts, nil
	}
	ents, err := s.store.Query(ctx, store.Query{
		Kind: KindDiscount,
		Eq:   map[string]any{"activate_automatically": true},
	})
	if err != nil {
		return nil, err
	}
	discounts := make([]*Discount, 0, len(ents))
	for _, ent := range ents {
		var d Discount
		if err := ent.Decode(&d); err != nil {
			return nil, err
		}
		d.Key = ent.Key
		if err := s.hydrate(ctx, &d); err != nil {
			return nil, err
		}
		discounts = append(discounts, &d)
	}
	s.autoDiscounts = discounts
	s.autoLoadedAt = time.Now()
	return discounts, nil
}

// MarkUsed increments the usage counter of the condition that matched
// the redeemed code. Called from the order-ordered event so counters
// only move on completed orders.
func (s *Service) MarkUsed(ctx context.Context, d *Discount, code string) error {
	if code == "" {
		return nil
	}
	for _, cond := range d.Conditions {
		var target *Condition
		switch {
		case cond.CodeType == CodeUniversal && strings.EqualFold(cond.ScopeCode, code):
			target = cond
		case cond.CodeType == CodeIndividual:
			sub, err := s.FindSubCode(ctx, cond.Key, code)
			if err != nil {
				return err
			}
			target = sub
		}
		if target == nil {
			continue
		}
		return s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Store) error {
			var fresh Condition
			ent, err := store.GetAs(ctx, tx, target.Key, &fresh)
			if err != nil {
				return err
			}
			fresh.Key = target.Key
			fresh.QuantityUsed++
			if err := store.PutAs(ctx, tx, ent, &fresh); err != nil {
				return err
			}
			s.conditions.invalidate(target.Key.String())
			return nil
		})
	}
	return nil
}

func (s *Service) hydrate(ctx context.Context, d *Discount) error {
	d.Conditions = d.Conditions[:0]
	for _, key := range d.ConditionKeys {
		cond, err := s.GetCondition(ctx, key)
		if err != nil {
			if common.HasCode(err, common.CodeNotFound) {
				// A broken relation must not take the whole discount down.
				s.log.Warn().Str("discount", d.Key.String()).Str("condition", key.String()).Msg("broken condition relation")
				continue
			}
			return err
		}
		d.Conditions = append(d.Conditions, cond)
	}
	return nil
}

func (s *Service) listDiscounts(ctx context.Context) ([]*Discount, error) {
	ents, err := s.store.Query(ctx, store.Query{Kind: KindDiscount})
	if err != nil {
		return nil, err
	}
	discounts := make([]*Discount, 0, len(ents))
	for _, ent := range ents {
		var d Discount
		if err := ent.Decode(&d); err != nil {
			return nil, err
		}
		d.Key = ent.Key
		if err := s.hydrate(ctx, &d); err != nil {
			return nil, err
		}
		discounts = append(discounts, &d)
	}
	return discounts, nil
}

func (s *Service) invalidateAutomatic() {
	s.autoMu.Lock()
	s.autoDiscounts = nil
	s.autoMu.Unlock()
}
