package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"hn-stories/internal/domain"
	"hn-stories/internal/metrics"
	"hn-stories/internal/repository"
	"hn-stories/internal/ttlcache"
)

const (
	defaultItemTTL     = 10 * time.Minute
	defaultConcurrency = 16
	itemKeyPrefix      = "item:"
)

// ItemSource is the remote item API.
type ItemSource interface {
	NewStoryIDs(ctx context.Context) ([]int, error)
	Item(ctx context.Context, id int) (*domain.Item, error)
}

// SharedItemCache is an optional cross-instance item tier consulted between
// the process cache and the network.
type SharedItemCache interface {
	GetItem(ctx context.Context, id int) (*repository.CachedItem, error)
	PutItem(ctx context.Context, item domain.Item, ttl time.Duration) error
}

// upstreamFailure is implemented by errors that represent an ordinary
// network failure (transport, status, malformed body).
type upstreamFailure interface {
	UpstreamFailure() bool
}

func isUpstreamFailure(err error) bool {
	var uf upstreamFailure
	return errors.As(err, &uf) && uf.UpstreamFailure()
}

func itemKey(id int) string {
	return itemKeyPrefix + strconv.Itoa(id)
}

// ItemFetcher resolves item IDs cache-first and fans out network fetches
// for the misses.
type ItemFetcher struct {
	source      ItemSource
	cache       *ttlcache.Cache[string, any]
	shared      SharedItemCache
	itemTTL     time.Duration
	concurrency int
	logger      *slog.Logger
}

type FetcherOption func(*ItemFetcher)

func WithFetcherItemTTL(ttl time.Duration) FetcherOption {
	return func(f *ItemFetcher) {
		if ttl > 0 {
			f.itemTTL = ttl
		}
	}
}

// WithFetcherConcurrency caps in-flight item fetches per batch.
func WithFetcherConcurrency(n int) FetcherOption {
	return func(f *ItemFetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

func WithFetcherSharedCache(shared SharedItemCache) FetcherOption {
	return func(f *ItemFetcher) {
		f.shared = shared
	}
}

func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *ItemFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewItemFetcher(source ItemSource, cache *ttlcache.Cache[string, any], opts ...FetcherOption) (*ItemFetcher, error) {
	if source == nil {
		return nil, errors.New("usecase: item source must not be nil")
	}
	if cache == nil {
		return nil, errors.New("usecase: cache must not be nil")
	}
	f := &ItemFetcher{
		source:      source,
		cache:       cache,
		itemTTL:     defaultItemTTL,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch resolves a single item. A network failure or a null upstream body
// yields (nil, nil). Cancellation and unexpected failures are returned.
func (f *ItemFetcher) Fetch(ctx context.Context, id int) (*domain.Item, error) {
	key := itemKey(id)
	cached, ok := f.cache.Get(key)
	if ok {
		item, isItem := cached.(domain.Item)
		if !isItem {
			return nil, fmt.Errorf("usecase: cache entry %q holds %T", key, cached)
		}
		metrics.CacheLookups.WithLabelValues("item", "hit").Inc()
		return &item, nil
	}
	metrics.CacheLookups.WithLabelValues("item", "miss").Inc()

	if item := f.fromShared(ctx, id); item != nil {
		return item, nil
	}

	item, err := f.source.Item(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isUpstreamFailure(err) {
			f.logger.Warn("item fetch failed", "id", id, "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("usecase: fetch item %d: %w", id, err)
	}
	if item == nil {
		return nil, nil
	}

	f.cache.Set(key, *item, f.itemTTL)
	f.toShared(ctx, *item)
	return item, nil
}

// fromShared promotes a shared-cache hit into the process cache, keeping
// its remaining lifetime. Errors are treated as misses.
func (f *ItemFetcher) fromShared(ctx context.Context, id int) *domain.Item {
	if f.shared == nil {
		return nil
	}
	cached, err := f.shared.GetItem(ctx, id)
	if err != nil {
		metrics.SharedCacheLookups.WithLabelValues("error").Inc()
		f.logger.Warn("shared cache read failed", "id", id, "err", err)
		return nil
	}
	if cached == nil {
		metrics.SharedCacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.SharedCacheLookups.WithLabelValues("hit").Inc()

	ttl := min(time.Until(cached.ExpiresAt), f.itemTTL)
	f.cache.Set(itemKey(id), cached.Item, ttl)
	item := cached.Item
	return &item
}

func (f *ItemFetcher) toShared(ctx context.Context, item domain.Item) {
	if f.shared == nil {
		return
	}
	if err := f.shared.PutItem(ctx, item, f.itemTTL); err != nil {
		f.logger.Warn("shared cache write failed", "id", item.ID, "err", err)
	}
}

// FetchAll resolves ids concurrently and returns the items in input order.
// Positions that failed, came back null, or have no title are dropped.
// Duplicate ids are fetched independently.
func (f *ItemFetcher) FetchAll(ctx context.Context, ids []int) ([]domain.Item, error) {
	if len(ids) == 0 {
		return []domain.Item{}, nil
	}

	slots := make([]*domain.Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := f.Fetch(gctx, id)
			if err != nil {
				return err
			}
			slots[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(ids))
	for _, item := range slots {
		switch {
		case item == nil:
			metrics.ItemsDropped.WithLabelValues("unavailable").Inc()
		case !item.HasTitle():
			metrics.ItemsDropped.WithLabelValues("untitled").Inc()
		default:
			items = append(items, *item)
		}
	}
	return items, nil
}
