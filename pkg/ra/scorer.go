package ra

import (
	"regexp"
	"strings"
)

// vagueTokens push ambiguity up; each hit adds a fixed increment.
var vagueTokens = []string{
	"suitably", "somehow", "nicely", "appropriately", "properly",
	"etc", "something", "maybe", "roughly", "various", "as needed",
	"and so on", "improve", "better", "cleanup", "user-friendly",
}

// concretePatterns pull ambiguity down: file paths, line numbers,
// command lines, issue references.
var concretePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[\w./-]+\.(go|py|ts|js|rs|java|yaml|yml|json|sql|proto|md)\b`),
	regexp.MustCompile(`\bline\s+\d+\b`),
	regexp.MustCompile(`(?m)^\s*\$\s+\S+`),
	regexp.MustCompile(`\b(#\d+|[A-Z]+-\d+)\b`),
	regexp.MustCompile("`[^`]+`"),
}

// commandPattern matches an imperative tool invocation leading the
// requirement, e.g. "pytest tests/" or "go test ./...": a lowercase
// command word followed by a flag, a path, or a dotted argument.
var commandPattern = regexp.MustCompile(`^\s*[a-z][\w-]*\s+(\S+\s+)*?(--?[\w-]+|\S*/\S*|\S+\.\w+)`)

// DefaultRiskKeywords flag work whose failure is expensive to unwind.
var DefaultRiskKeywords = []string{
	"authentication", "authorization", "encryption", "payment",
	"billing", "database migration", "schema migration", "delete",
	"production", "credentials", "secrets", "pii",
}

// Scorer maps raw requirement text to AmbiguityScores. It is pure: the
// same text and configuration always produce the same scores.
type Scorer struct {
	riskKeywords []string
}

// NewScorer creates a scorer with the default risk keyword set.
func NewScorer() *Scorer {
	return &Scorer{riskKeywords: DefaultRiskKeywords}
}

// WithRiskKeywords replaces the risk keyword set.
func (s *Scorer) WithRiskKeywords(keywords []string) *Scorer {
	s.riskKeywords = keywords
	return s
}

// Score computes AmbiguityScores for the text. Context sufficiency
// defaults low before any context foraging; callers that have enriched
// context overwrite it via ScoreWithContext.
func (s *Scorer) Score(text string) AmbiguityScores {
	return s.ScoreWithContext(text, 0.2)
}

// ScoreWithContext scores the text with an externally supplied context
// sufficiency value.
func (s *Scorer) ScoreWithContext(text string, contextSufficiency float64) AmbiguityScores {
	lower := strings.ToLower(text)

	ambiguity := 0.5
	for _, token := range vagueTokens {
		if strings.Contains(lower, token) {
			ambiguity += 0.1
		}
	}
	for _, pattern := range concretePatterns {
		if pattern.MatchString(text) {
			ambiguity -= 0.15
		}
	}
	commandLike := commandPattern.MatchString(text)
	if commandLike {
		ambiguity -= 0.25
	}
	// Very short requirements cannot carry enough detail; a bare tool
	// invocation is complete despite its brevity.
	if !commandLike && len(strings.Fields(text)) < 5 {
		ambiguity += 0.2
	}

	risk := 0.1
	for _, kw := range s.riskKeywords {
		if strings.Contains(lower, kw) {
			risk += 0.2
		}
	}

	return AmbiguityScores{
		Ambiguity:          clamp01(ambiguity),
		ContextSufficiency: clamp01(contextSufficiency),
		ExecutionRisk:      clamp01(risk),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
