package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paperlens/paperlens/internal/dispatcher"
	"github.com/paperlens/paperlens/internal/feed"
	"github.com/paperlens/paperlens/internal/paper"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) daily(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	direction := feed.DirectionBackward
	switch r.URL.Query().Get("direction") {
	case "", string(feed.DirectionBackward):
	case string(feed.DirectionForward):
		direction = feed.DirectionForward
	default:
		writeError(w, http.StatusBadRequest, "direction must be backward or forward")
		return
	}

	res, err := s.gateway.DailyPapers(r.Context(), date, direction)
	if err != nil {
		if errors.Is(err, feed.ErrBadDate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "daily feed unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) availableDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.store.ListDays(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list cached dates")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dates": dates,
		"count": len(dates),
	})
}

// paperView is the metadata subset served for one paper, without the full
// evaluation payload.
type paperView struct {
	ArxivID          string                 `json:"arxiv_id"`
	Title            string                 `json:"title"`
	Authors          string                 `json:"authors,omitempty"`
	Abstract         string                 `json:"abstract,omitempty"`
	Categories       string                 `json:"categories,omitempty"`
	PublishedDate    string                 `json:"published_date,omitempty"`
	EvaluationStatus paper.EvaluationStatus `json:"evaluation_status"`
	OverallScore     *float64               `json:"overall_score,omitempty"`
	EvaluatedAt      *time.Time             `json:"evaluated_at,omitempty"`
}

func toPaperView(rec paper.Record) paperView {
	return paperView{
		ArxivID:          rec.ArxivID,
		Title:            rec.Title,
		Authors:          rec.Authors,
		Abstract:         rec.Abstract,
		Categories:       rec.Categories,
		PublishedDate:    rec.PublishedDate,
		EvaluationStatus: rec.EvaluationStatus,
		OverallScore:     rec.OverallScore,
		EvaluatedAt:      rec.EvaluatedAt,
	}
}

func (s *Server) getPaper(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadPaper(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPaperView(rec))
}

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadPaper(w, r)
	if !ok {
		return
	}
	if !rec.Evaluated() {
		writeError(w, http.StatusNotFound, "evaluation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arxiv_id":      rec.ArxivID,
		"title":         rec.Title,
		"overall_score": rec.OverallScore,
		"evaluated_at":  rec.EvaluatedAt,
		"evaluation":    rec.EvaluationResult,
	})
}

func (s *Server) getPaperScore(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadPaper(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arxiv_id":     rec.ArxivID,
		"has_score":    rec.Evaluated(),
		"score":        rec.OverallScore,
		"evaluated_at": rec.EvaluatedAt,
	})
}

// hasEval is a cheap existence probe for dashboards that only need a
// boolean, not the score or payload.
func (s *Server) hasEval(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadPaper(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arxiv_id": rec.ArxivID,
		"has_eval": rec.Evaluated(),
	})
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := s.store.ListEvaluated(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list evaluations")
		return
	}
	items := make([]paperView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toPaperView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

type insertRequest struct {
	ArxivID       string `json:"arxiv_id"`
	Title         string `json:"title"`
	Authors       string `json:"authors"`
	Abstract      string `json:"abstract"`
	Categories    string `json:"categories"`
	PublishedDate string `json:"published_date"`
}

func (s *Server) insertPaper(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ArxivID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "arxiv_id and title are required")
		return
	}
	rec := paper.Record{
		ArxivID:       req.ArxivID,
		Title:         req.Title,
		Authors:       req.Authors,
		Abstract:      req.Abstract,
		Categories:    req.Categories,
		PublishedDate: req.PublishedDate,
	}
	if err := s.store.Insert(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to insert paper")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"arxiv_id": req.ArxivID})
}

func (s *Server) papersStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count papers")
		return
	}
	recent, err := s.store.ListEvaluated(r.Context(), 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list evaluations")
		return
	}
	items := make([]paperView, 0, len(recent))
	for _, rec := range recent {
		items = append(items, toPaperView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_papers":       total,
		"active_evaluations": len(s.dispatcher.Active()),
		"recent_evaluations": items,
	})
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatcher.ModeInitial)
}

func (s *Server) reevaluate(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatcher.ModeReevaluate)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, mode dispatcher.Mode) {
	arxivID := chi.URLParam(r, "id")
	dec, err := s.dispatcher.Evaluate(r.Context(), arxivID, mode)
	if err != nil {
		if errors.Is(err, paper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "paper not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to dispatch evaluation")
		return
	}
	switch dec.Outcome {
	case dispatcher.OutcomeStarted:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(dec.Outcome)})
	case dispatcher.OutcomeAlreadyEvaluated:
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":       string(dec.Outcome),
			"evaluated_at": dec.EvaluatedAt,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"status": string(dec.Outcome)})
	}
}

func (s *Server) evaluationStatus(w http.ResponseWriter, r *http.Request) {
	arxivID := chi.URLParam(r, "id")
	if task, ok := s.dispatcher.Status(arxivID); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"arxiv_id":    task.ArxivID,
			"status":      task.Status,
			"started_at":  task.StartedAt,
			"finished_at": task.FinishedAt,
		})
		return
	}
	// the registry forgets on restart; the durable record still answers
	rec, ok := s.loadPaper(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arxiv_id": rec.ArxivID,
		"status":   rec.EvaluationStatus,
	})
}

func (s *Server) activeTasks(w http.ResponseWriter, _ *http.Request) {
	active := s.dispatcher.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":        active,
		"count":         len(active),
		"total_tracked": s.dispatcher.Tracked(),
	})
}

func (s *Server) cacheRefresh(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	res, err := s.gateway.RefreshDate(r.Context(), date)
	if err != nil {
		if errors.Is(err, feed.ErrBadDate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "daily feed unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cacheStatus(w http.ResponseWriter, r *http.Request) {
	dates, err := s.store.ListDays(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to inspect cache")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cached_days": dates,
		"count":       len(dates),
		"ttl_hours":   s.cfg.Feed.CacheTTLHours,
	})
}

func (s *Server) cacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PurgeDays(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// loadPaper fetches the record for the {id} route param, writing the error
// response itself when the paper is unknown.
func (s *Server) loadPaper(w http.ResponseWriter, r *http.Request) (paper.Record, bool) {
	arxivID := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), arxivID)
	if err != nil {
		if errors.Is(err, paper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "paper not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load paper")
		}
		return paper.Record{}, false
	}
	return rec, true
}
