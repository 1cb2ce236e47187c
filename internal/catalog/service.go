// Package catalog exposes the article data the shop machinery needs,
// backed by the entity store with a read-through Redis cache.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Service orchestrates article reads, caching, and admin writes.
type Service struct {
	store store.Store
	cache *Cache
	log   zerolog.Logger
}

// NewService builds the catalog service.
func NewService(st store.Store, cache *Cache, log zerolog.Logger) *Service {
	return &Service{store: st, cache: cache, log: log}
}

func cacheKey(key common.Key) string {
	return fmt.Sprintf("catalog:article:%s", key)
}

// Get loads one article, serving from cache when possible.
func (s *Service) Get(ctx context.Context, key common.Key) (*Article, error) {
	if key.Kind != KindArticle {
		return nil, common.InvalidKey(key.String())
	}
	var article Article
	hit, err := s.cache.GetJSON(ctx, cacheKey(key), &article)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("article cache read failed")
	} else if hit {
		return &article, nil
	}

	if _, err := store.GetAs(ctx, s.store, key, &article); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, common.NotFound("article", key.String())
		}
		return nil, err
	}
	article.Key = key
	if err := s.cache.SetJSON(ctx, cacheKey(key), &article); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("article cache write failed")
	}
	return &article, nil
}

// Upsert writes an article and invalidates its cache entry. A zero
// key allocates a new one.
func (s *Service) Upsert(ctx context.Context, article *Article) (*Article, error) {
	if article.Key.IsZero() {
		article.Key = common.NewKey(KindArticle)
	} else if article.Key.Kind != KindArticle {
		return nil, common.InvalidKey(article.Key.String())
	}
	if article.Name == "" {
		return nil, common.InvalidArgument("article name is required")
	}
	if article.PriceRetail.IsNegative() {
		return nil, common.InvalidArgument("article retail price must not be negative")
	}
	if article.Availability != "" && !article.Availability.Valid() {
		return nil, common.InvalidArgumentf("unknown availability %q", article.Availability)
	}
	if article.VatCategory != "" && !article.VatCategory.Valid() {
		return nil, common.InvalidArgumentf("unknown vat category %q", article.VatCategory)
	}

	ent := &store.Entity{Key: article.Key}
	if err := store.PutAs(ctx, s.store, ent, article); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, cacheKey(article.Key)); err != nil {
		s.log.Warn().Err(err).Str("key", article.Key.String()).Msg("article cache invalidation failed")
	}
	return article, nil
}

// Delete removes an article and its cache entry.
func (s *Service) Delete(ctx context.Context, key common.Key) error {
	if key.Kind != KindArticle {
		return common.InvalidKey(key.String())
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKey(key))
}

// List returns listed articles, paginated.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Article, error) {
	if limit <= 0 {
		limit = 50
	}
	ents, err := s.store.Query(ctx, store.Query{
		Kind:   KindArticle,
		Eq:     map[string]any{"shop_listed": true},
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	articles := make([]*Article, 0, len(ents))
	for _, ent := range ents {
		var article Article
		if err := ent.Decode(&article); err != nil {
			return nil, err
		}
		article.Key = ent.Key
		articles = append(articles, &article)
	}
	return articles, nil
}
