// Package memory keeps papers and the daily-feed cache in process memory.
// It backs development mode and tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paperlens/paperlens/internal/assessment"
	"github.com/paperlens/paperlens/internal/paper"
)

// Store is an in-memory paper.Store.
type Store struct {
	mu     sync.RWMutex
	papers map[string]paper.Record
	days   map[string]paper.Day
}

// New creates an empty store.
func New() *Store {
	return &Store{
		papers: make(map[string]paper.Record),
		days:   make(map[string]paper.Day),
	}
}

// Insert adds crawl metadata for an unseen id. Existing rows are left
// untouched.
func (s *Store) Insert(_ context.Context, rec paper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.papers[rec.ArxivID]; ok {
		return nil
	}
	now := time.Now().UTC()
	if rec.EvaluationStatus == "" {
		rec.EvaluationStatus = paper.StatusNotStarted
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	s.papers[rec.ArxivID] = rec
	return nil
}

// Get returns the record for an id or paper.ErrNotFound.
func (s *Store) Get(_ context.Context, arxivID string) (paper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.papers[arxivID]
	if !ok {
		return paper.Record{}, paper.ErrNotFound
	}
	return rec, nil
}

// SetStatus moves a record between states without touching the stored result.
func (s *Store) SetStatus(_ context.Context, arxivID string, status paper.EvaluationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.papers[arxivID]
	if !ok {
		return paper.ErrNotFound
	}
	rec.EvaluationStatus = status
	rec.UpdatedAt = time.Now().UTC()
	s.papers[arxivID] = rec
	return nil
}

// SaveEvaluation stores the result and marks the record completed.
func (s *Store) SaveEvaluation(_ context.Context, arxivID string, result *assessment.Result, overall float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.papers[arxivID]
	if !ok {
		return paper.ErrNotFound
	}
	rec.EvaluationStatus = paper.StatusCompleted
	rec.EvaluationResult = result
	rec.OverallScore = &overall
	rec.EvaluatedAt = &at
	rec.UpdatedAt = time.Now().UTC()
	s.papers[arxivID] = rec
	return nil
}

// MarkFailed flips a record to failed unless it already holds a result, in
// which case the record reverts to completed and the result is preserved.
func (s *Store) MarkFailed(_ context.Context, arxivID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.papers[arxivID]
	if !ok {
		return paper.ErrNotFound
	}
	if rec.EvaluationResult == nil {
		rec.EvaluationStatus = paper.StatusFailed
	} else {
		rec.EvaluationStatus = paper.StatusCompleted
	}
	rec.UpdatedAt = time.Now().UTC()
	s.papers[arxivID] = rec
	return nil
}

// ReconcileStale repairs records stuck at evaluating since before the cutoff.
func (s *Store) ReconcileStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repaired int64
	for id, rec := range s.papers {
		if rec.EvaluationStatus != paper.StatusEvaluating || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if rec.EvaluationResult == nil {
			rec.EvaluationStatus = paper.StatusFailed
		} else {
			rec.EvaluationStatus = paper.StatusCompleted
		}
		rec.UpdatedAt = time.Now().UTC()
		s.papers[id] = rec
		repaired++
	}
	return repaired, nil
}

// ListEvaluated returns completed records, most recently evaluated first.
func (s *Store) ListEvaluated(_ context.Context, limit int) ([]paper.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]paper.Record, 0)
	for _, rec := range s.papers {
		if rec.Evaluated() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].EvaluatedAt, out[j].EvaluatedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of known papers.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.papers)), nil
}

// GetDay returns the cached feed page for a date or paper.ErrNotFound.
func (s *Store) GetDay(_ context.Context, date string) (paper.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day, ok := s.days[date]
	if !ok {
		return paper.Day{}, paper.ErrNotFound
	}
	return day, nil
}

// SaveDay replaces the cached feed page for a date.
func (s *Store) SaveDay(_ context.Context, day paper.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day.Cards = append([]paper.Summary(nil), day.Cards...)
	s.days[day.Date] = day
	return nil
}

// ListDays returns cached dates, newest first.
func (s *Store) ListDays(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.days))
	for date := range s.days {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

// PurgeDays drops the whole daily cache.
func (s *Store) PurgeDays(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days = make(map[string]paper.Day)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }
