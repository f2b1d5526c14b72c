// Package paper defines core types shared across subsystems.
package paper

import (
	"time"

	"github.com/paperlens/paperlens/internal/assessment"
)

// EvaluationStatus represents the lifecycle state of a paper's evaluation.
type EvaluationStatus string

// Evaluation status values persisted on the paper record.
const (
	StatusNotStarted EvaluationStatus = "not_started"
	StatusEvaluating EvaluationStatus = "evaluating"
	StatusCompleted  EvaluationStatus = "completed"
	StatusFailed     EvaluationStatus = "failed"
)

// Record is the durable row describing a paper and its latest evaluation
// outcome. The store owns it exclusively; EvaluationResult is present iff
// EvaluationStatus == StatusCompleted.
type Record struct {
	ArxivID          string             `json:"arxiv_id"`
	Title            string             `json:"title"`
	Authors          string             `json:"authors"`
	Abstract         string             `json:"abstract,omitempty"`
	Categories       string             `json:"categories,omitempty"`
	PublishedDate    string             `json:"published_date,omitempty"`
	EvaluationStatus EvaluationStatus   `json:"evaluation_status"`
	EvaluationResult *assessment.Result `json:"evaluation_result,omitempty"`
	OverallScore     *float64           `json:"overall_score,omitempty"`
	EvaluatedAt      *time.Time         `json:"evaluated_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Evaluated reports whether the record carries a completed evaluation.
func (r Record) Evaluated() bool {
	return r.EvaluationStatus == StatusCompleted && r.EvaluationResult != nil
}

// Summary is one dashboard card parsed from the daily feed, enriched with
// evaluation state from the store.
type Summary struct {
	ArxivID        string   `json:"arxiv_id,omitempty"`
	Title          string   `json:"title"`
	HuggingFaceURL string   `json:"huggingface_url,omitempty"`
	Upvotes        int      `json:"upvotes"`
	AuthorCount    int      `json:"author_count"`
	Comments       int      `json:"comments"`
	Submitter      string   `json:"submitter,omitempty"`
	HasEval        bool     `json:"has_eval"`
	OverallScore   *float64 `json:"overall_score,omitempty"`
	EvaluatedAt    *string  `json:"evaluated_at,omitempty"`
}

// Day is one cached daily-feed page.
type Day struct {
	Date      string    `json:"date"`
	Cards     []Summary `json:"cards"`
	FetchedAt time.Time `json:"fetched_at"`
}
