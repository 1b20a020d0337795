package honeycomb

import (
	"fmt"
	"math"
	"sort"
)

// Scout recommendation statuses.
type RecommendationStatus string

const (
	StatusColdStart   RecommendationStatus = "COLD_START"
	StatusRecommended RecommendationStatus = "RECOMMENDED"
)

// DefaultTemplate is the fallback when history cannot inform a choice.
const DefaultTemplate = "balanced"

// OptimizationProposal is the scout's pick with its supporting numbers.
type OptimizationProposal struct {
	Template     string  `json:"template"`
	SuccessRate  float64 `json:"success_rate"`
	AvgDuration  float64 `json:"avg_duration"`
	Reason       string  `json:"reason"`
	SimilarCount int     `json:"similar_count"`
}

// Recommendation is the scout's answer for one target.
type Recommendation struct {
	Status   RecommendationStatus  `json:"status"`
	Proposal *OptimizationProposal `json:"proposal,omitempty"`
}

// Scout recommends execution templates from similar past episodes.
type Scout struct {
	minEpisodes   int
	minSimilarity float64
	topK          int
}

// ScoutOption customizes the scout.
type ScoutOption func(*Scout)

// WithMinEpisodes sets the cold-start threshold.
func WithMinEpisodes(n int) ScoutOption {
	return func(s *Scout) { s.minEpisodes = n }
}

// WithMinSimilarity sets the similarity floor for candidates.
func WithMinSimilarity(v float64) ScoutOption {
	return func(s *Scout) { s.minSimilarity = v }
}

// WithTopK sets how many nearest episodes inform the pick.
func WithTopK(k int) ScoutOption {
	return func(s *Scout) { s.topK = k }
}

// NewScout creates a scout with the default thresholds.
func NewScout(opts ...ScoutOption) *Scout {
	s := &Scout{minEpisodes: 5, minSimilarity: 0.3, topK: 10}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoredEpisode struct {
	episode    Episode
	similarity float64
}

// Recommend picks a template for the target features from history.
func (s *Scout) Recommend(targetFeatures map[string]float64, episodes []Episode) Recommendation {
	if len(episodes) < s.minEpisodes {
		return Recommendation{
			Status: StatusColdStart,
			Proposal: &OptimizationProposal{
				Template: DefaultTemplate,
				Reason:   fmt.Sprintf("only %d episodes recorded, need %d", len(episodes), s.minEpisodes),
			},
		}
	}

	scored := make([]scoredEpisode, 0, len(episodes))
	for _, e := range episodes {
		sim := Similarity(targetFeatures, e.TaskFeatures)
		if sim >= s.minSimilarity {
			scored = append(scored, scoredEpisode{episode: e, similarity: sim})
		}
	}
	if len(scored) == 0 {
		return Recommendation{
			Status: StatusColdStart,
			Proposal: &OptimizationProposal{
				Template: DefaultTemplate,
				Reason:   "no sufficiently similar episodes",
			},
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].similarity > scored[j].similarity })
	if len(scored) > s.topK {
		scored = scored[:s.topK]
	}

	template, stats := bestTemplate(scored)
	return Recommendation{
		Status: StatusRecommended,
		Proposal: &OptimizationProposal{
			Template:     template,
			SuccessRate:  stats.successRate(),
			AvgDuration:  stats.avgDuration(),
			Reason:       fmt.Sprintf("%d similar episodes, %.0f%% success", stats.total, stats.successRate()*100),
			SimilarCount: len(scored),
		},
	}
}

type templateStats struct {
	total     int
	successes int
	duration  float64
}

func (t templateStats) successRate() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.successes) / float64(t.total)
}

func (t templateStats) avgDuration() float64 {
	if t.total == 0 {
		return 0
	}
	return t.duration / float64(t.total)
}

// bestTemplate groups the candidates by template and picks the highest
// success rate, ties broken by lower mean duration then name.
func bestTemplate(scored []scoredEpisode) (string, templateStats) {
	grouped := make(map[string]templateStats)
	for _, se := range scored {
		stats := grouped[se.episode.TemplateUsed]
		stats.total++
		stats.duration += se.episode.DurationSeconds
		if se.episode.Outcome == OutcomeSuccess {
			stats.successes++
		}
		grouped[se.episode.TemplateUsed] = stats
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		candidate, current := grouped[name], grouped[best]
		switch {
		case candidate.successRate() > current.successRate():
			best = name
		case candidate.successRate() == current.successRate() && candidate.avgDuration() < current.avgDuration():
			best = name
		}
	}
	return best, grouped[best]
}

// Similarity is an inverse-distance metric over the keys both feature
// maps share. Identical vectors score 1.0; no shared keys score 0.
func Similarity(a, b map[string]float64) float64 {
	var sumSquares float64
	shared := 0
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			continue
		}
		shared++
		d := av - bv
		sumSquares += d * d
	}
	if shared == 0 {
		return 0
	}
	return 1 / (1 + math.Sqrt(sumSquares))
}
