package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"hn-stories/internal/domain"
	"hn-stories/internal/metrics"
	"hn-stories/internal/ttlcache"
)

const (
	defaultIDListTTL   = 10 * time.Minute
	defaultSearchLimit = 500
	newestIDsKey       = "newest_ids"
)

type ListInput struct {
	Page     int
	PageSize int
	Search   string
}

// StoriesService serves the newest-stories listing and single-story lookups.
type StoriesService struct {
	source      ItemSource
	cache       *ttlcache.Cache[string, any]
	fetcher     *ItemFetcher
	idListTTL   time.Duration
	searchLimit int
	logger      *slog.Logger
}

type Option func(*serviceOptions)

type serviceOptions struct {
	idListTTL   time.Duration
	searchLimit int
	fetcherOpts []FetcherOption
	logger      *slog.Logger
}

func WithIDListTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) {
		if ttl > 0 {
			o.idListTTL = ttl
		}
	}
}

func WithItemTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) {
		o.fetcherOpts = append(o.fetcherOpts, WithFetcherItemTTL(ttl))
	}
}

// WithSearchLimit bounds how many of the newest IDs a search scans.
func WithSearchLimit(n int) Option {
	return func(o *serviceOptions) {
		if n > 0 {
			o.searchLimit = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(o *serviceOptions) {
		o.fetcherOpts = append(o.fetcherOpts, WithFetcherConcurrency(n))
	}
}

func WithSharedCache(shared SharedItemCache) Option {
	return func(o *serviceOptions) {
		if shared != nil {
			o.fetcherOpts = append(o.fetcherOpts, WithFetcherSharedCache(shared))
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewStoriesService(source ItemSource, cache *ttlcache.Cache[string, any], opts ...Option) (*StoriesService, error) {
	o := serviceOptions{
		idListTTL:   defaultIDListTTL,
		searchLimit: defaultSearchLimit,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fetcher, err := NewItemFetcher(source, cache, append(o.fetcherOpts, WithFetcherLogger(o.logger))...)
	if err != nil {
		return nil, err
	}
	return &StoriesService{
		source:      source,
		cache:       cache,
		fetcher:     fetcher,
		idListTTL:   o.idListTTL,
		searchLimit: o.searchLimit,
		logger:      o.logger,
	}, nil
}

// NewestStories returns one page of the newest stories. The search term is
// matched as given, surrounding whitespace included. Without a search
// term only the requested page of IDs is fetched and TotalCount is the
// length of the whole feed. With a search term the first searchLimit IDs
// are fetched, filtered by title, counted, and then paged.
func (s *StoriesService) NewestStories(ctx context.Context, in ListInput) (domain.StoryPage, error) {
	if in.Page < 1 {
		return domain.StoryPage{}, newError(ErrorInvalidInput, "page_out_of_range", nil)
	}
	if in.PageSize < 1 {
		return domain.StoryPage{}, newError(ErrorInvalidInput, "page_size_out_of_range", nil)
	}

	ids, err := s.newestIDs(ctx)
	if err != nil {
		return domain.StoryPage{}, err
	}

	page := domain.StoryPage{Page: in.Page, PageSize: in.PageSize}

	if in.Search == "" {
		items, err := s.fetcher.FetchAll(ctx, pageSlice(ids, in.Page, in.PageSize))
		if err != nil {
			return domain.StoryPage{}, s.fetchError(err)
		}
		page.Stories = items
		page.TotalCount = len(ids)
		return page, nil
	}

	prefix := ids[:min(len(ids), s.searchLimit)]
	items, err := s.fetcher.FetchAll(ctx, prefix)
	if err != nil {
		return domain.StoryPage{}, s.fetchError(err)
	}
	matches := filterByTitle(items, in.Search)
	page.Stories = pageSlice(matches, in.Page, in.PageSize)
	page.TotalCount = len(matches)
	return page, nil
}

// StoryByID returns the item or nil when it cannot be fetched. Untitled
// items are returned as-is; the title rule only applies to listings.
func (s *StoriesService) StoryByID(ctx context.Context, id int) (*domain.Item, error) {
	if id < 1 {
		return nil, newError(ErrorInvalidInput, "story_id_out_of_range", nil)
	}
	item, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		if isCancellation(err) {
			return nil, newError(ErrorInternal, "fetch_cancelled", err)
		}
		s.logger.Error("unexpected error fetching story", "id", id, "err", err)
		return nil, newError(ErrorInternal, "story_fetch_error", err)
	}
	return item, nil
}

func (s *StoriesService) newestIDs(ctx context.Context) ([]int, error) {
	if cached, ok := s.cache.Get(newestIDsKey); ok {
		ids, isIDs := cached.([]int)
		if !isIDs {
			return nil, newError(ErrorInternal, "cache_corrupt", fmt.Errorf("cache entry %q holds %T", newestIDsKey, cached))
		}
		metrics.CacheLookups.WithLabelValues("ids", "hit").Inc()
		return ids, nil
	}
	metrics.CacheLookups.WithLabelValues("ids", "miss").Inc()

	ids, err := s.source.NewStoryIDs(ctx)
	if err != nil {
		s.logger.Error("error fetching newest story ids", "err", err)
		if isUpstreamFailure(err) {
			return nil, newError(ErrorUpstream, "newest_ids_fetch_error", err)
		}
		return nil, newError(ErrorInternal, "newest_ids_fetch_error", err)
	}

	ids = slices.Clone(ids)
	s.cache.Set(newestIDsKey, ids, s.idListTTL)
	return ids, nil
}

func (s *StoriesService) fetchError(err error) error {
	if isCancellation(err) {
		return newError(ErrorInternal, "fetch_cancelled", err)
	}
	s.logger.Error("unexpected error fetching stories", "err", err)
	return newError(ErrorInternal, "item_fetch_error", err)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// pageSlice returns the 1-based page of s, clamped to its bounds. Pages past
// the end are rejected before multiplying to avoid overflow.
func pageSlice[T any](s []T, page, size int) []T {
	if page < 1 || size < 1 || len(s) == 0 || page-1 > (len(s)-1)/size {
		return []T{}
	}
	start := (page - 1) * size
	end := min(start+size, len(s))
	return s[start:end]
}

func filterByTitle(items []domain.Item, term string) []domain.Item {
	needle := strings.ToLower(term)
	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if item.HasTitle() && strings.Contains(strings.ToLower(item.Title), needle) {
			out = append(out, item)
		}
	}
	return out
}
