package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"hn-stories/internal/config"
	"hn-stories/internal/usecase"
)

type fakeParams struct {
	params map[string]string
	err    error
	prefix string
}

func (f *fakeParams) ParametersByPath(_ context.Context, prefix string) (map[string]string, error) {
	f.prefix = prefix
	return f.params, f.err
}

func newHNServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var itemCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/newstories.json":
			_, _ = w.Write([]byte(`[3,2,1]`))
		case strings.HasPrefix(r.URL.Path, "/item/"):
			itemCalls.Add(1)
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
			_, _ = fmt.Fprintf(w, `{"id":%s,"title":"Story %s","type":"story","time":1609459200}`, id, id)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &itemCalls
}

func TestApplyParams_OverlaysConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ParamPrefix = "/hn-stories"
	src := &fakeParams{params: map[string]string{"search_limit": "100", "ids_cache_ttl": "1m"}}

	require.NoError(t, applyParams(context.Background(), &cfg, src))
	require.Equal(t, "/hn-stories", src.prefix)
	require.Equal(t, 100, cfg.SearchLimit)
	require.Equal(t, time.Minute, cfg.IDListTTL)
}

func TestApplyParams_PropagatesErrors(t *testing.T) {
	cfg := config.Default()
	cfg.ParamPrefix = "/hn-stories"

	err := applyParams(context.Background(), &cfg, &fakeParams{err: errors.New("throttled")})
	require.ErrorContains(t, err, "throttled")

	err = applyParams(context.Background(), &cfg, &fakeParams{params: map[string]string{"search_limit": "many"}})
	require.ErrorContains(t, err, "search_limit")
}

func TestNewStories_ServesFromUpstream(t *testing.T) {
	srv, itemCalls := newHNServer(t)
	cfg := config.Default()
	cfg.BaseURL = srv.URL

	stories, err := NewStories(cfg, nil, nil)
	require.NoError(t, err)

	page, err := stories.NewestStories(context.Background(), usecase.ListInput{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Stories, 2)
	require.Equal(t, "Story 3", page.Stories[0].Title)

	item, err := stories.StoryByID(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, int32(2), itemCalls.Load(), "item 3 should be served from cache")
}

func TestNewStories_RejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.UpstreamTimeout = 0
	_, err := NewStories(cfg, nil, nil)
	require.Error(t, err)

	cfg = config.Default()
	cfg.BaseURL = ""
	_, err = NewStories(cfg, nil, nil)
	require.Error(t, err)
}

func TestBuild_WithoutAWS(t *testing.T) {
	srv, _ := newHNServer(t)
	t.Setenv("HN_BASE_URL", srv.URL)
	t.Setenv("SEARCH_LIMIT", "50")
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("ITEM_CACHE_TABLE", "")

	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		t.Fatal("AWS config should not be loaded")
		return aws.Config{}, nil
	}

	a, err := Build(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 50, a.Config.SearchLimit)

	page, err := a.Stories.NewestStories(context.Background(), usecase.ListInput{Page: 1, PageSize: 10, Search: "story 1"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
}

func TestBuild_AWSConfigFailure(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("ITEM_CACHE_TABLE", "hn-items")

	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	_, err := Build(context.Background(), nil)
	require.ErrorContains(t, err, "no credentials")
}

func TestBuild_InvalidConfig(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("ITEM_CACHE_TABLE", "")
	t.Setenv("HN_BASE_URL", "not a url")

	_, err := Build(context.Background(), nil)
	require.Error(t, err)
}
