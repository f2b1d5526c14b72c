package openai

import (
	"fmt"
	"strings"

	"github.com/paperlens/paperlens/internal/paper"
)

const systemPrompt = `You are a senior AI research expert and technology assessment consultant, specializing in evaluating the potential for scientific research work to be automated by current or near-future AI systems.
Your assessment must be:
1. Systematic and evidence-based, using the 12-dimensional framework
2. Objective in analyzing current AI capability boundaries
3. Realistic in predicting technology development trends
4. Comprehensive in considering automation barriers and societal impacts
Maintain critical thinking and provide detailed justifications for each score.`

const promptHeader = `Conduct a comprehensive AI-automation assessment of the academic paper described below, using the 12-dimensional framework. Be conservative when uncertain and justify every numeric value.

Dimensions and scales:
 1. task_formalization (score 0-4): 0 ill-defined .. 4 mathematically exact
 2. data_resource_availability (score 0-4): 0 none .. 4 abundant & public
 3. input_output_complexity (score 0-4): 0 chaotic .. 4 highly regular
 4. real_world_interaction (score 0-4): 0 constant interaction needed .. 4 none (offline)
 5. existing_ai_coverage (score 0-4, plus tools_models list and coverage_pct_estimate): 0 <5% .. 4 >95%
 6. automation_barriers (qualitative analysis only)
 7. human_originality (score 0-4): 0 routine .. 4 paradigm-shifting
 8. safety_ethics (score 0-4, reverse scored): 0 catastrophic failure consequences .. 4 negligible
 9. societal_economic_impact (qualitative analysis only)
10. technical_maturity_needed (score 0-4): 0 multiple breakthroughs needed .. 4 already solved
11. three_year_feasibility (probability_pct 0-100): probability of AI reaching expert level within 3 years
12. overall_automatability (score 0-4): 0 not automatable .. 4 already automatable

Respond with a single JSON object and nothing else, with exactly these top-level keys:
- "executive_summary": string (about 150 words)
- "dimensions": object mapping each of the 12 keys above to {"score": number, "analysis": string} (use "probability_pct" instead of "score" for three_year_feasibility; omit the number entirely for the two qualitative dimensions; existing_ai_coverage may add "tools_models" and "coverage_pct_estimate")
- "scorecard": object with numeric task_formalization, data_resource_availability, input_output_complexity, real_world_interaction, existing_ai_coverage, human_originality, safety_ethics, technical_maturity_needed, three_year_feasibility_pct, overall_automatability
- "recommendations": {"for_researchers": [string], "for_institutions": [string], "for_ai_development": [string]}
- "limitations_uncertainties": [string]`

// userPrompt renders the paper block followed by the framework instructions.
func userPrompt(rec paper.Record) string {
	var b strings.Builder
	b.WriteString("Paper under assessment:\n")
	fmt.Fprintf(&b, "- arXiv id: %s\n", rec.ArxivID)
	fmt.Fprintf(&b, "- PDF: %s\n", PDFURL(rec.ArxivID))
	fmt.Fprintf(&b, "- Title: %s\n", rec.Title)
	if rec.Authors != "" {
		fmt.Fprintf(&b, "- Authors: %s\n", rec.Authors)
	}
	if rec.Categories != "" {
		fmt.Fprintf(&b, "- Categories: %s\n", rec.Categories)
	}
	if rec.PublishedDate != "" {
		fmt.Fprintf(&b, "- Published: %s\n", rec.PublishedDate)
	}
	if rec.Abstract != "" {
		fmt.Fprintf(&b, "- Abstract: %s\n", rec.Abstract)
	}
	b.WriteString("\n")
	b.WriteString(promptHeader)
	return b.String()
}
