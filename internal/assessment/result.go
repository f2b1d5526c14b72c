// Package assessment defines the structured 12-dimension evaluation payload
// produced by the model, plus the fail-closed parsing that guards it.
package assessment

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks a payload that decoded but does not satisfy the
// assessment schema. Callers match it with errors.Is.
var ErrValidation = errors.New("assessment validation failed")

// The twelve fixed dimension keys, in report order.
const (
	DimTaskFormalization        = "task_formalization"
	DimDataResourceAvailability = "data_resource_availability"
	DimInputOutputComplexity    = "input_output_complexity"
	DimRealWorldInteraction     = "real_world_interaction"
	DimExistingAICoverage       = "existing_ai_coverage"
	DimAutomationBarriers       = "automation_barriers"
	DimHumanOriginality         = "human_originality"
	DimSafetyEthics             = "safety_ethics"
	DimSocietalEconomicImpact   = "societal_economic_impact"
	DimTechnicalMaturityNeeded  = "technical_maturity_needed"
	DimThreeYearFeasibility     = "three_year_feasibility"
	DimOverallAutomatability    = "overall_automatability"
)

// Keys lists all twelve dimension keys in report order.
var Keys = []string{
	DimTaskFormalization,
	DimDataResourceAvailability,
	DimInputOutputComplexity,
	DimRealWorldInteraction,
	DimExistingAICoverage,
	DimAutomationBarriers,
	DimHumanOriginality,
	DimSafetyEthics,
	DimSocietalEconomicImpact,
	DimTechnicalMaturityNeeded,
	DimThreeYearFeasibility,
	DimOverallAutomatability,
}

// qualitative dimensions carry analysis only, no numeric score.
var qualitative = map[string]bool{
	DimAutomationBarriers:     true,
	DimSocietalEconomicImpact: true,
}

// Metadata records provenance for one assessment run.
type Metadata struct {
	AssessedAt time.Time `json:"assessed_at"`
	Model      string    `json:"model"`
	Version    string    `json:"version"`
	PaperPath  string    `json:"paper_path"`
}

// Dimension is the model's verdict on one assessment axis. Scored axes use
// Score (0-4); three_year_feasibility uses ProbabilityPct (0-100); the two
// qualitative axes carry Analysis only.
type Dimension struct {
	Score               *float64 `json:"score,omitempty"`
	ProbabilityPct      *float64 `json:"probability_pct,omitempty"`
	Analysis            string   `json:"analysis"`
	ToolsModels         []string `json:"tools_models,omitempty"`
	CoveragePctEstimate *float64 `json:"coverage_pct_estimate,omitempty"`
}

// Scorecard is the flattened numeric summary used for quick display.
type Scorecard struct {
	TaskFormalization        float64 `json:"task_formalization"`
	DataResourceAvailability float64 `json:"data_resource_availability"`
	InputOutputComplexity    float64 `json:"input_output_complexity"`
	RealWorldInteraction     float64 `json:"real_world_interaction"`
	ExistingAICoverage       float64 `json:"existing_ai_coverage"`
	HumanOriginality         float64 `json:"human_originality"`
	SafetyEthics             float64 `json:"safety_ethics"`
	TechnicalMaturityNeeded  float64 `json:"technical_maturity_needed"`
	ThreeYearFeasibilityPct  float64 `json:"three_year_feasibility_pct"`
	OverallAutomatability    float64 `json:"overall_automatability"`
}

// Recommendations groups the model's advice per audience.
type Recommendations struct {
	ForResearchers   []string `json:"for_researchers"`
	ForInstitutions  []string `json:"for_institutions"`
	ForAIDevelopment []string `json:"for_ai_development"`
}

// Result is the full structured evaluation payload persisted on the record.
type Result struct {
	Metadata                 Metadata             `json:"metadata"`
	ExecutiveSummary         string               `json:"executive_summary"`
	Dimensions               map[string]Dimension `json:"dimensions"`
	Scorecard                Scorecard            `json:"scorecard"`
	Recommendations          Recommendations      `json:"recommendations"`
	LimitationsUncertainties []string             `json:"limitations_uncertainties"`
}

// Validate fails closed: every dimension key must be present with its
// expected numeric field in range. Partial structures are rejected rather
// than silently accepted.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrValidation)
	}
	if r.ExecutiveSummary == "" {
		return fmt.Errorf("%w: executive_summary is empty", ErrValidation)
	}
	if r.Dimensions == nil {
		return fmt.Errorf("%w: dimensions missing", ErrValidation)
	}
	for _, key := range Keys {
		dim, ok := r.Dimensions[key]
		if !ok {
			return fmt.Errorf("%w: dimension %q missing", ErrValidation, key)
		}
		if dim.Analysis == "" {
			return fmt.Errorf("%w: dimension %q has no analysis", ErrValidation, key)
		}
		switch {
		case qualitative[key]:
			// analysis-only axis, nothing numeric to check
		case key == DimThreeYearFeasibility:
			if dim.ProbabilityPct == nil {
				return fmt.Errorf("%w: dimension %q missing probability_pct", ErrValidation, key)
			}
			if *dim.ProbabilityPct < 0 || *dim.ProbabilityPct > 100 {
				return fmt.Errorf("%w: dimension %q probability_pct %.1f out of range", ErrValidation, key, *dim.ProbabilityPct)
			}
		default:
			if dim.Score == nil {
				return fmt.Errorf("%w: dimension %q missing score", ErrValidation, key)
			}
			if *dim.Score < 0 || *dim.Score > 4 {
				return fmt.Errorf("%w: dimension %q score %.1f out of range", ErrValidation, key, *dim.Score)
			}
		}
	}
	if err := r.Scorecard.validate(); err != nil {
		return err
	}
	return nil
}

func (s Scorecard) validate() error {
	scores := map[string]float64{
		"task_formalization":         s.TaskFormalization,
		"data_resource_availability": s.DataResourceAvailability,
		"input_output_complexity":    s.InputOutputComplexity,
		"real_world_interaction":     s.RealWorldInteraction,
		"existing_ai_coverage":       s.ExistingAICoverage,
		"human_originality":          s.HumanOriginality,
		"safety_ethics":              s.SafetyEthics,
		"technical_maturity_needed":  s.TechnicalMaturityNeeded,
		"overall_automatability":     s.OverallAutomatability,
	}
	for name, v := range scores {
		if v < 0 || v > 4 {
			return fmt.Errorf("%w: scorecard %s %.1f out of range", ErrValidation, name, v)
		}
	}
	if s.ThreeYearFeasibilityPct < 0 || s.ThreeYearFeasibilityPct > 100 {
		return fmt.Errorf("%w: scorecard three_year_feasibility_pct %.1f out of range", ErrValidation, s.ThreeYearFeasibilityPct)
	}
	return nil
}

// Overall derives the summary score from the scorecard: the mean of the ten
// entries on a 0-4 scale, with the feasibility percentage rescaled (/25) and
// zero entries skipped.
func (r *Result) Overall() float64 {
	s := r.Scorecard
	values := []float64{
		s.TaskFormalization,
		s.DataResourceAvailability,
		s.InputOutputComplexity,
		s.RealWorldInteraction,
		s.ExistingAICoverage,
		s.HumanOriginality,
		s.SafetyEthics,
		s.TechnicalMaturityNeeded,
		s.ThreeYearFeasibilityPct / 25,
		s.OverallAutomatability,
	}
	var sum float64
	var n int
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
