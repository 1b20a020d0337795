package honeycomb

import "math"

// KPICalculator aggregates quality metrics over episode sets.
type KPICalculator struct{}

// NewKPICalculator creates the calculator.
func NewKPICalculator() *KPICalculator { return &KPICalculator{} }

// Calculate computes the KPI set. An empty input yields zero scores.
func (c *KPICalculator) Calculate(episodes []Episode) KPIScores {
	if len(episodes) == 0 {
		return KPIScores{}
	}

	var successes, incidents int
	var totalDuration float64
	templateRuns := make(map[string]int)
	templateSuccesses := make(map[string]int)
	failureCounts := make(map[FailureClass]int)

	for _, e := range episodes {
		totalDuration += e.DurationSeconds
		templateRuns[e.TemplateUsed]++
		switch e.Outcome {
		case OutcomeSuccess:
			successes++
			templateSuccesses[e.TemplateUsed]++
		case OutcomeFailure, OutcomePartial:
			incidents++
		}
		if e.FailureClass != "" {
			failureCounts[e.FailureClass]++
		}
	}

	total := float64(len(episodes))
	scores := KPIScores{
		Correctness:     float64(successes) / total,
		LeadTimeSeconds: totalDuration / total,
		IncidentRate:    float64(incidents) / total,
		RecurrenceRate:  recurrenceRate(failureCounts),
	}
	if r, ok := repeatability(templateRuns, templateSuccesses); ok {
		scores.Repeatability = &r
	}
	return scores
}

// repeatability is the sample standard deviation of per-template success
// rates. It is undefined below two templates.
func repeatability(runs, successes map[string]int) (float64, bool) {
	if len(runs) < 2 {
		return 0, false
	}

	rates := make([]float64, 0, len(runs))
	var mean float64
	for template, n := range runs {
		rate := float64(successes[template]) / float64(n)
		rates = append(rates, rate)
		mean += rate
	}
	mean /= float64(len(rates))

	var variance float64
	for _, rate := range rates {
		variance += (rate - mean) * (rate - mean)
	}
	variance /= float64(len(rates) - 1)
	return math.Sqrt(variance), true
}

// recurrenceRate measures how often failure classes repeat: each class
// contributes its repeat count beyond the first occurrence.
func recurrenceRate(counts map[FailureClass]int) float64 {
	var repeats, total int
	for _, n := range counts {
		total += n
		if n > 1 {
			repeats += n - 1
		}
	}
	if total == 0 {
		return 0
	}
	return float64(repeats) / float64(total)
}
