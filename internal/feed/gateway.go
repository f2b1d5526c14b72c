package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
)

// ErrBadDate is returned for dates not in YYYY-MM-DD form.
var ErrBadDate = errors.New("invalid date, want YYYY-MM-DD")

const dateLayout = "2006-01-02"

// Direction selects how the gateway resolves a day with no content of its
// own.
type Direction string

// Search directions. Backward leans on the site's own redirect to the nearest
// earlier day; forward probes later days one at a time.
const (
	DirectionBackward Direction = "backward"
	DirectionForward  Direction = "forward"
)

// Result is one resolved daily page.
type Result struct {
	Date          string          `json:"date"`
	RequestedDate string          `json:"requested_date"`
	Cards         []paper.Summary `json:"cards"`
	FallbackUsed  bool            `json:"fallback_used"`
	Cached        bool            `json:"cached"`
}

// Config tunes the gateway.
type Config struct {
	BaseURL         string // daily page prefix, date is appended
	CacheTTL        time.Duration
	MaxFallbackDays int
}

// Gateway resolves daily-papers pages through a cache, records newly seen
// papers in the store and enriches cards with evaluation state.
type Gateway struct {
	fetcher Fetcher
	store   paper.Store
	clock   paper.Clock
	logger  *zap.Logger
	cfg     Config
}

// NewGateway wires a Gateway.
func NewGateway(cfg Config, fetcher Fetcher, store paper.Store, clock paper.Clock, logger *zap.Logger) *Gateway {
	if cfg.MaxFallbackDays <= 0 {
		cfg.MaxFallbackDays = 30
	}
	return &Gateway{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
	}
}

// DailyPapers returns the paper cards for a day. An empty date means today
// (UTC). Backward direction serves whatever day the site redirects to;
// forward direction probes later days and serves an empty page when none
// within the attempt budget has content.
func (g *Gateway) DailyPapers(ctx context.Context, date string, direction Direction) (Result, error) {
	requested := date
	if requested == "" {
		requested = g.clock.Now().UTC().Format(dateLayout)
	}
	day, err := time.Parse(dateLayout, requested)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrBadDate, date)
	}

	if cached, ok := g.freshCached(ctx, requested); ok {
		metrics.ObserveFeedFetch("cached")
		return Result{
			Date:          requested,
			RequestedDate: requested,
			Cards:         g.enrich(ctx, cached.Cards),
			Cached:        true,
		}, nil
	}

	if direction == DirectionForward {
		return g.searchForward(ctx, requested, day)
	}
	return g.fetchBackward(ctx, requested)
}

// Refresh re-fetches today's page unconditionally, bypassing the cache.
// The cron scheduler calls it.
func (g *Gateway) Refresh(ctx context.Context) error {
	today := g.clock.Now().UTC().Format(dateLayout)
	_, err := g.RefreshDate(ctx, today)
	return err
}

// RefreshDate re-fetches one day, bypassing the cache.
func (g *Gateway) RefreshDate(ctx context.Context, date string) (Result, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrBadDate, date)
	}
	return g.fetchBackward(ctx, date)
}

func (g *Gateway) freshCached(ctx context.Context, date string) (paper.Day, bool) {
	cached, err := g.store.GetDay(ctx, date)
	if err != nil {
		return paper.Day{}, false
	}
	if g.clock.Now().Sub(cached.FetchedAt) >= g.cfg.CacheTTL {
		return paper.Day{}, false
	}
	return cached, true
}

func (g *Gateway) fetchBackward(ctx context.Context, requested string) (Result, error) {
	page, err := g.fetcher.Fetch(ctx, g.dayURL(requested))
	if err != nil {
		// stale cache beats an outage
		if stale, serr := g.store.GetDay(ctx, requested); serr == nil {
			g.logger.Warn("feed fetch failed, serving stale cache",
				zap.String("date", requested), zap.Error(err))
			metrics.ObserveFeedFetch("cached")
			return Result{
				Date:          requested,
				RequestedDate: requested,
				Cards:         g.enrich(ctx, stale.Cards),
				Cached:        true,
			}, nil
		}
		metrics.ObserveFeedFetch("error")
		return Result{}, fmt.Errorf("fetch daily page: %w", err)
	}

	served := dateFromURL(page.FinalURL)
	if served == "" {
		served = requested
	}
	cards, err := g.ingest(ctx, served, page.Body)
	if err != nil {
		metrics.ObserveFeedFetch("error")
		return Result{}, err
	}

	fallback := served != requested
	if fallback {
		metrics.ObserveFeedFetch("fallback")
		g.logger.Info("daily page fell back to earlier day",
			zap.String("requested", requested), zap.String("served", served))
	} else {
		metrics.ObserveFeedFetch("hit")
	}
	return Result{
		Date:          served,
		RequestedDate: requested,
		Cards:         g.enrich(ctx, cards),
		FallbackUsed:  fallback,
	}, nil
}

func (g *Gateway) searchForward(ctx context.Context, requested string, from time.Time) (Result, error) {
	probe := from
	for attempt := 0; attempt < g.cfg.MaxFallbackDays; attempt++ {
		probeDate := probe.Format(dateLayout)
		page, err := g.fetcher.Fetch(ctx, g.dayURL(probeDate))
		if err != nil {
			metrics.ObserveFeedFetch("error")
			return Result{}, fmt.Errorf("fetch daily page: %w", err)
		}
		served := dateFromURL(page.FinalURL)
		if served == "" || served == probeDate {
			cards, err := g.ingest(ctx, probeDate, page.Body)
			if err != nil {
				metrics.ObserveFeedFetch("error")
				return Result{}, err
			}
			fallback := probeDate != requested
			if fallback {
				metrics.ObserveFeedFetch("fallback")
				g.logger.Info("daily page moved forward to later day",
					zap.String("requested", requested), zap.String("served", probeDate))
			} else {
				metrics.ObserveFeedFetch("hit")
			}
			return Result{
				Date:          probeDate,
				RequestedDate: requested,
				Cards:         g.enrich(ctx, cards),
				FallbackUsed:  fallback,
			}, nil
		}
		probe = probe.AddDate(0, 0, 1)
	}

	// nothing published after the requested day yet
	return Result{
		Date:          requested,
		RequestedDate: requested,
		Cards:         []paper.Summary{},
	}, nil
}

// ingest parses the page, records unseen papers and refreshes the day cache.
func (g *Gateway) ingest(ctx context.Context, date string, body []byte) ([]paper.Summary, error) {
	cards, err := parseCards(body)
	if err != nil {
		return nil, err
	}
	for _, card := range cards {
		if card.ArxivID == "" {
			continue
		}
		rec := paper.Record{
			ArxivID:       card.ArxivID,
			Title:         card.Title,
			PublishedDate: date,
		}
		if err := g.store.Insert(ctx, rec); err != nil {
			g.logger.Warn("insert paper from feed",
				zap.String("arxiv_id", card.ArxivID), zap.Error(err))
		}
	}
	day := paper.Day{
		Date:      date,
		Cards:     cards,
		FetchedAt: g.clock.Now().UTC(),
	}
	if err := g.store.SaveDay(ctx, day); err != nil {
		g.logger.Warn("cache daily page", zap.String("date", date), zap.Error(err))
	}
	return cards, nil
}

// enrich overlays stored evaluation state onto the raw cards.
func (g *Gateway) enrich(ctx context.Context, cards []paper.Summary) []paper.Summary {
	out := make([]paper.Summary, len(cards))
	for i, card := range cards {
		card.HasEval = false
		card.OverallScore = nil
		card.EvaluatedAt = nil
		if card.ArxivID != "" {
			if rec, err := g.store.Get(ctx, card.ArxivID); err == nil && rec.Evaluated() {
				card.HasEval = true
				card.OverallScore = rec.OverallScore
				if rec.EvaluatedAt != nil {
					at := rec.EvaluatedAt.UTC().Format(time.RFC3339)
					card.EvaluatedAt = &at
				}
			}
		}
		out[i] = card
	}
	return out
}

func (g *Gateway) dayURL(date string) string {
	return g.cfg.BaseURL + "/" + date
}
