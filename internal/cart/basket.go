package cart

import (
	"context"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// BasketPointer maps a session or user to their active basket root.
// Reassigning it (e.g. on login) is a single transactional pointer
// update.
type BasketPointer struct {
	Key       common.Key  `json:"key"`
	SessionID string      `json:"session,omitempty"`
	UserKey   *common.Key `json:"user,omitempty"`
	CartKey   common.Key  `json:"cart"`
}

// EnsureBasket returns the caller's basket root, creating the root
// node and the pointer lazily on first access.
func (s *Service) EnsureBasket(ctx context.Context) (*Node, error) {
	pointer, err := s.findBasketPointer(ctx)
	if err != nil {
		return nil, err
	}
	if pointer != nil {
		node, _, err := s.loadNode(ctx, pointer.CartKey)
		if err == nil {
			if aggErr := s.aggregate(ctx, node); aggErr != nil {
				return nil, aggErr
			}
			return node, nil
		}
		if !common.HasCode(err, common.CodeNotFound) {
			return nil, err
		}
		// Dangling pointer, recreate below.
		if err := s.store.Delete(ctx, pointer.Key); err != nil {
			return nil, err
		}
	}

	sess := session.FromContext(ctx)
	node := &Node{
		Key:          common.NewKey(KindNode),
		IsRootNode:   true,
		CartType:     TypeBasket,
		OwnerSession: sess.ID,
		OwnerUser:    sess.UserKey,
	}
	pointer = &BasketPointer{
		Key:       common.NewKey(KindBasket),
		SessionID: sess.ID,
		UserKey:   sess.UserKey,
		CartKey:   node.Key,
	}
	err = s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if err := store.PutAs(ctx, tx, &store.Entity{Key: node.Key}, node); err != nil {
			return err
		}
		return store.PutAs(ctx, tx, &store.Entity{Key: pointer.Key}, pointer)
	})
	if err != nil {
		return nil, err
	}
	s.countMutation("basket_create")
	return node, nil
}

// CurrentBasketKey returns the key of the caller's basket root,
// creating it when necessary.
func (s *Service) CurrentBasketKey(ctx context.Context) (common.Key, error) {
	node, err := s.EnsureBasket(ctx)
	if err != nil {
		return common.Key{}, err
	}
	return node.Key, nil
}

// TransferBasket reattaches the session basket to a signed-in user.
// The pointer and the root's ownership move in one transaction.
func (s *Service) TransferBasket(ctx context.Context, userKey common.Key) error {
	pointer, err := s.findBasketPointer(ctx)
	if err != nil {
		return err
	}
	if pointer == nil {
		return nil
	}
	return s.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		var fresh BasketPointer
		pointerEnt, err := store.GetAs(ctx, tx, pointer.Key, &fresh)
		if err != nil {
			return err
		}
		fresh.Key = pointer.Key
		fresh.UserKey = &userKey

		var node Node
		nodeEnt, err := store.GetAs(ctx, tx, fresh.CartKey, &node)
		if err != nil {
			return err
		}
		node.Key = fresh.CartKey
		node.OwnerUser = &userKey

		if err := store.PutAs(ctx, tx, pointerEnt, &fresh); err != nil {
			return err
		}
		return store.PutAs(ctx, tx, nodeEnt, &node)
	})
}

// DetachBasket drops the session's basket pointer without deleting
// the cart. Checkout uses it so an ordered cart stops being the
// active basket.
func (s *Service) DetachBasket(ctx context.Context, cartKey common.Key) error {
	return s.detachBasketPointer(ctx, cartKey)
}

func (s *Service) detachBasketPointer(ctx context.Context, cartKey common.Key) error {
	ents, err := s.store.Query(ctx, store.Query{
		Kind: KindBasket,
		Eq:   map[string]any{"cart": cartKey.String()},
	})
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if err := s.store.Delete(ctx, ent.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) findBasketPointer(ctx context.Context) (*BasketPointer, error) {
	sess := session.FromContext(ctx)

	lookup := func(eq map[string]any) (*BasketPointer, error) {
		ents, err := s.store.Query(ctx, store.Query{Kind: KindBasket, Eq: eq, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(ents) == 0 {
			return nil, nil
		}
		var pointer BasketPointer
		if err := ents[0].Decode(&pointer); err != nil {
			return nil, err
		}
		pointer.Key = ents[0].Key
		return &pointer, nil
	}

	if sess.UserKey != nil {
		pointer, err := lookup(map[string]any{"user": sess.UserKey.String()})
		if err != nil || pointer != nil {
			return pointer, err
		}
	}
	return lookup(map[string]any{"session": sess.ID})
}
