package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hn-stories/internal/domain"
	"hn-stories/internal/ttlcache"
)

// gaugeSource records the peak number of concurrent Item calls.
type gaugeSource struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (g *gaugeSource) NewStoryIDs(context.Context) ([]int, error) { return nil, nil }

func (g *gaugeSource) Item(ctx context.Context, id int) (*domain.Item, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return nil, &netErr{msg: "cancelled"}
	case <-time.After(g.delay):
	}
	return &domain.Item{ID: id, Title: "t"}, nil
}

func TestNewItemFetcher_Validates(t *testing.T) {
	_, err := NewItemFetcher(nil, ttlcache.New[string, any]())
	require.Error(t, err)
	_, err = NewItemFetcher(&gaugeSource{}, nil)
	require.Error(t, err)
}

func TestFetchAll_RespectsConcurrencyLimit(t *testing.T) {
	src := &gaugeSource{delay: 10 * time.Millisecond}
	f, err := NewItemFetcher(src, ttlcache.New[string, any](), WithFetcherConcurrency(4))
	require.NoError(t, err)

	items, err := f.FetchAll(context.Background(), seq(1, 40))
	require.NoError(t, err)
	require.Len(t, items, 40)
	require.LessOrEqual(t, src.peak.Load(), int32(4))
	require.Greater(t, src.peak.Load(), int32(1), "fetches should overlap")
}

func TestFetchAll_DuplicatesFetchedIndependently(t *testing.T) {
	src := newFakeSource(nil).withStory(1, "one")
	src.delay = 20 * time.Millisecond
	f, err := NewItemFetcher(src, ttlcache.New[string, any](), WithFetcherConcurrency(2))
	require.NoError(t, err)

	items, err := f.FetchAll(context.Background(), []int{1, 1})
	require.NoError(t, err)
	require.Equal(t, []int{1, 1}, storyIDs(items))
	require.Equal(t, 2, src.calls(1))
}

func TestFetchAll_EmptyInput(t *testing.T) {
	f, err := NewItemFetcher(newFakeSource(nil), ttlcache.New[string, any]())
	require.NoError(t, err)
	items, err := f.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestFetchAll_CancellationStopsBatchAndKeepsCompletedEntries(t *testing.T) {
	cache := ttlcache.New[string, any]()
	src := newFakeSource(nil)
	for _, id := range seq(1, 20) {
		src.withStory(id, "s")
	}
	f, err := NewItemFetcher(src, cache, WithFetcherConcurrency(1))
	require.NoError(t, err)

	// Warm one entry so at least one completed write exists before cancel.
	_, err = f.Fetch(context.Background(), 1)
	require.NoError(t, err)

	src.delay = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err = f.FetchAll(ctx, seq(1, 20))
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	_, ok := cache.Get(itemKey(1))
	require.True(t, ok)
	require.Less(t, len(src.fetchedIDs()), 20, "remaining ids should not be fetched after cancel")
}

func TestFetch_CorruptItemEntryIsFatal(t *testing.T) {
	cache := ttlcache.New[string, any]()
	cache.Set(itemKey(3), []int{1}, time.Minute)
	f, err := NewItemFetcher(newFakeSource(nil), cache)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "item:3")
}

func TestFetch_NullItemNotCached(t *testing.T) {
	cache := ttlcache.New[string, any]()
	src := newFakeSource(nil)
	f, err := NewItemFetcher(src, cache)
	require.NoError(t, err)

	item, err := f.Fetch(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, item)
	_, err = f.Fetch(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls(42))
}

func TestFetch_ConcurrentSameIDBothHitNetwork(t *testing.T) {
	src := newFakeSource(nil).withStory(9, "race")
	src.delay = 20 * time.Millisecond
	cache := ttlcache.New[string, any]()
	f, err := NewItemFetcher(src, cache)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Fetch(context.Background(), 9)
		}()
	}
	wg.Wait()

	require.Equal(t, 2, src.calls(9))
	v, ok := cache.Get(itemKey(9))
	require.True(t, ok)
	require.Equal(t, "race", v.(domain.Item).Title)
}
