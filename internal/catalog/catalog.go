package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/repository"
	"golang.org/x/sync/singleflight"
)

var ErrItemNotFound = errors.New("item not found")

// Source is the authoritative item lookup.
type Source interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
}

// Service reads items through an optional cache.
type Service struct {
	source Source
	cache  ItemCache
	log    *slog.Logger
	sfg    singleflight.Group
}

// NewService returns a catalog reader. cache may be nil.
func NewService(source Source, cache ItemCache, log *slog.Logger) *Service {
	return &Service{source: source, cache: cache, log: log}
}

func (s *Service) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(itemID, 10), func() (interface{}, error) {
		if s.cache != nil {
			item, err := s.cache.Get(ctx, itemID)
			if err == nil {
				return item, nil
			}
			if !errors.Is(err, ErrCacheMiss) {
				s.log.WarnContext(ctx, "item cache get failed", "item_id", itemID, "error", err)
			}
		}

		item, err := s.source.GetItem(ctx, itemID)
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get item %d: %w", itemID, err)
		}

		if s.cache != nil {
			cached := *item
			go func() {
				cacheCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := s.cache.Set(cacheCtx, &cached); err != nil {
					s.log.Warn("item cache set failed", "item_id", cached.ID, "error", err)
				}
			}()
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}
	item := *v.(*domain.Item)
	return &item, nil
}
