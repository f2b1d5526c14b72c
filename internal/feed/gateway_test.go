package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/assessment"
	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/storage/memory"
)

const testBaseURL = "https://hf.test/papers/date"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	pages map[string]Page
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if f.err != nil {
		return Page{}, f.err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return Page{}, fmt.Errorf("no page for %s", rawURL)
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func servedPage(date string) Page {
	return Page{
		FinalURL:   testBaseURL + "/" + date,
		StatusCode: 200,
		Body:       []byte(dailyFixture),
	}
}

func newTestGateway(fetcher Fetcher, store paper.Store, now time.Time) *Gateway {
	metrics.Init()
	return NewGateway(Config{
		BaseURL:         testBaseURL,
		CacheTTL:        24 * time.Hour,
		MaxFallbackDays: 3,
	}, fetcher, store, fixedClock{now: now}, zap.NewNop())
}

func TestDailyPapers_HitPopulatesStoreAndCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-21": servedPage("2026-08-21"),
	}}
	store := memory.New()
	gw := newTestGateway(fetcher, store, now)

	res, err := gw.DailyPapers(ctx, "2026-08-21", DirectionBackward)
	require.NoError(t, err)
	require.Equal(t, "2026-08-21", res.Date)
	require.Equal(t, "2026-08-21", res.RequestedDate)
	require.False(t, res.FallbackUsed)
	require.False(t, res.Cached)
	require.Len(t, res.Cards, 3)

	rec, err := store.Get(ctx, "2508.01234")
	require.NoError(t, err)
	require.Equal(t, paper.StatusNotStarted, rec.EvaluationStatus)
	require.Equal(t, "2026-08-21", rec.PublishedDate)

	// second call is served from cache, no second fetch
	res, err = gw.DailyPapers(ctx, "2026-08-21", DirectionBackward)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.Equal(t, 1, fetcher.callCount())
}

func TestDailyPapers_EmptyDateMeansToday(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-21": servedPage("2026-08-21"),
	}}
	gw := newTestGateway(fetcher, memory.New(), now)

	res, err := gw.DailyPapers(context.Background(), "", DirectionBackward)
	require.NoError(t, err)
	require.Equal(t, "2026-08-21", res.Date)
}

func TestDailyPapers_BackwardFallbackFollowsRedirect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	// weekend day redirects to the previous Friday
	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-23": servedPage("2026-08-21"),
	}}
	store := memory.New()
	gw := newTestGateway(fetcher, store, now)

	res, err := gw.DailyPapers(ctx, "2026-08-23", DirectionBackward)
	require.NoError(t, err)
	require.True(t, res.FallbackUsed)
	require.Equal(t, "2026-08-21", res.Date)
	require.Equal(t, "2026-08-23", res.RequestedDate)

	// the page is cached under the day it was served as
	day, err := store.GetDay(ctx, "2026-08-21")
	require.NoError(t, err)
	require.Len(t, day.Cards, 3)
}

func TestDailyPapers_ForwardFindsNextDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	// 08-22 and 08-23 redirect backward, 08-24 has its own page
	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-22": servedPage("2026-08-21"),
		testBaseURL + "/2026-08-23": servedPage("2026-08-21"),
		testBaseURL + "/2026-08-24": servedPage("2026-08-24"),
	}}
	gw := newTestGateway(fetcher, memory.New(), now)

	res, err := gw.DailyPapers(context.Background(), "2026-08-22", DirectionForward)
	require.NoError(t, err)
	require.Equal(t, "2026-08-24", res.Date)
	require.Equal(t, "2026-08-22", res.RequestedDate)
	require.True(t, res.FallbackUsed, "a day other than the requested one was served")
	require.Len(t, res.Cards, 3)
}

func TestDailyPapers_ForwardSameDayIsNotFallback(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-24": servedPage("2026-08-24"),
	}}
	gw := newTestGateway(fetcher, memory.New(), now)

	res, err := gw.DailyPapers(context.Background(), "2026-08-24", DirectionForward)
	require.NoError(t, err)
	require.Equal(t, "2026-08-24", res.Date)
	require.False(t, res.FallbackUsed)
	require.Equal(t, 1, fetcher.callCount())
}

func TestDailyPapers_ForwardExhaustedReturnsEmptyPage(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-23": servedPage("2026-08-21"),
		testBaseURL + "/2026-08-24": servedPage("2026-08-21"),
		testBaseURL + "/2026-08-25": servedPage("2026-08-21"),
	}}
	gw := newTestGateway(fetcher, memory.New(), now)

	res, err := gw.DailyPapers(context.Background(), "2026-08-23", DirectionForward)
	require.NoError(t, err)
	require.Equal(t, "2026-08-23", res.Date)
	require.Empty(t, res.Cards)
	require.False(t, res.FallbackUsed)
	require.Equal(t, 3, fetcher.callCount())
}

func TestDailyPapers_StaleCacheServedOnFetchError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	store := memory.New()
	require.NoError(t, store.SaveDay(ctx, paper.Day{
		Date:      "2026-08-21",
		Cards:     []paper.Summary{{ArxivID: "2508.01234", Title: "Stale But Present"}},
		FetchedAt: now.Add(-48 * time.Hour), // well past the TTL
	}))

	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	gw := newTestGateway(fetcher, store, now)

	res, err := gw.DailyPapers(ctx, "2026-08-21", DirectionBackward)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.Len(t, res.Cards, 1)
	require.Equal(t, "Stale But Present", res.Cards[0].Title)
}

func TestDailyPapers_FetchErrorWithoutCache(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	gw := newTestGateway(fetcher, memory.New(), now)

	_, err := gw.DailyPapers(context.Background(), "2026-08-21", DirectionBackward)
	require.Error(t, err)
}

func TestDailyPapers_BadDate(t *testing.T) {
	t.Parallel()
	gw := newTestGateway(&fakeFetcher{}, memory.New(), time.Now())

	_, err := gw.DailyPapers(context.Background(), "21-08-2026", DirectionBackward)
	require.ErrorIs(t, err, ErrBadDate)
}

func TestDailyPapers_CardsCarryEvaluationState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-21": servedPage("2026-08-21"),
	}}
	store := memory.New()
	gw := newTestGateway(fetcher, store, now)

	_, err := gw.DailyPapers(ctx, "2026-08-21", DirectionBackward)
	require.NoError(t, err)

	evaluatedAt := now.Add(-time.Hour)
	require.NoError(t, store.SaveEvaluation(ctx, "2508.01234",
		&assessment.Result{ExecutiveSummary: "ok"}, 2.8, evaluatedAt))

	res, err := gw.DailyPapers(ctx, "2026-08-21", DirectionBackward)
	require.NoError(t, err)
	require.True(t, res.Cached)

	var card paper.Summary
	for _, c := range res.Cards {
		if c.ArxivID == "2508.01234" {
			card = c
		}
	}
	require.True(t, card.HasEval)
	require.NotNil(t, card.OverallScore)
	require.Equal(t, 2.8, *card.OverallScore)
	require.NotNil(t, card.EvaluatedAt)

	for _, c := range res.Cards {
		if c.ArxivID != "2508.01234" {
			require.False(t, c.HasEval)
		}
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{pages: map[string]Page{
		testBaseURL + "/2026-08-21": servedPage("2026-08-21"),
	}}
	store := memory.New()
	gw := newTestGateway(fetcher, store, now)

	require.NoError(t, gw.Refresh(ctx))
	require.NoError(t, gw.Refresh(ctx))
	require.Equal(t, 2, fetcher.callCount())

	day, err := store.GetDay(ctx, "2026-08-21")
	require.NoError(t, err)
	require.Len(t, day.Cards, 3)
}
