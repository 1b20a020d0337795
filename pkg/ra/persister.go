package ra

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// specDocument is the on-disk YAML shape of a persisted spec.
type specDocument struct {
	ID                 string   `yaml:"id"`
	Version            int      `yaml:"version"`
	Goal               string   `yaml:"goal"`
	Text               string   `yaml:"text"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	Constraints        []string `yaml:"constraints,omitempty"`
	NonGoals           []string `yaml:"non_goals,omitempty"`
	OpenItems          []string `yaml:"open_items,omitempty"`
	RiskMitigations    []string `yaml:"risk_mitigations,omitempty"`
	Reviewed           *bool    `yaml:"reviewed,omitempty"`
}

// Persister writes spec drafts as numbered YAML documents plus a
// BDD-style feature file per spec. Identifiers are <PREFIX><NNN> and
// strictly increase within a directory.
type Persister struct {
	dir    string
	prefix string
}

// NewPersister creates a persister rooted at dir with the given id
// prefix, for example "REQ".
func NewPersister(dir, prefix string) (*Persister, error) {
	if prefix == "" {
		prefix = "REQ"
	}
	if err := os.MkdirAll(filepath.Join(dir, "features"), 0o755); err != nil {
		return nil, fmt.Errorf("ra: create spec dir: %w", err)
	}
	return &Persister{dir: dir, prefix: prefix}, nil
}

// NextID scans the directory for the largest existing number under the
// prefix and returns the next identifier.
func (p *Persister) NextID() (string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return "", fmt.Errorf("ra: scan spec dir: %w", err)
	}

	re := regexp.MustCompile("^" + regexp.QuoteMeta(p.prefix) + `(\d+)\.ya?ml$`)
	max := 0
	for _, entry := range entries {
		m := re.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", p.prefix, max+1), nil
}

// Persist writes the draft under a fresh id, or under draft.DocumentID
// when set. An explicit id that already exists on disk is rejected.
func (p *Persister) Persist(draft *SpecDraft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}

	id := draft.DocumentID
	if id == "" {
		next, err := p.NextID()
		if err != nil {
			return "", err
		}
		id = next
	} else if _, err := os.Stat(p.yamlPath(id)); err == nil {
		return "", fmt.Errorf("ra: spec %s already exists", id)
	}

	doc := specDocument{
		ID:              id,
		Version:         draft.Version,
		Goal:            draft.Goal,
		Text:            renderSpecText(draft),
		Constraints:     draft.Constraints,
		NonGoals:        draft.NonGoals,
		OpenItems:       draft.OpenItems,
		RiskMitigations: draft.RiskMitigations,
	}
	for _, c := range draft.AcceptanceCriteria {
		doc.AcceptanceCriteria = append(doc.AcceptanceCriteria, c.Text())
	}

	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("ra: marshal spec %s: %w", id, err)
	}
	if err := os.WriteFile(p.yamlPath(id), raw, 0o644); err != nil {
		return "", fmt.Errorf("ra: write spec %s: %w", id, err)
	}
	if err := os.WriteFile(p.featurePath(id), []byte(renderFeature(id, draft)), 0o644); err != nil {
		return "", fmt.Errorf("ra: write feature %s: %w", id, err)
	}

	draft.DocumentID = id
	draft.FilePath = p.yamlPath(id)
	return id, nil
}

// Read loads a persisted spec document.
func (p *Persister) Read(id string) (*specDocument, error) {
	raw, err := os.ReadFile(p.yamlPath(id))
	if err != nil {
		return nil, fmt.Errorf("ra: read spec %s: %w", id, err)
	}
	var doc specDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ra: parse spec %s: %w", id, err)
	}
	return &doc, nil
}

// List returns the persisted spec ids in ascending order.
func (p *Persister) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("ra: scan spec dir: %w", err)
	}
	re := regexp.MustCompile("^(" + regexp.QuoteMeta(p.prefix) + `\d+)\.ya?ml$`)
	var ids []string
	for _, entry := range entries {
		if m := re.FindStringSubmatch(entry.Name()); m != nil {
			ids = append(ids, m[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// UpdateText replaces the human-readable rendering of a stored spec
// and clears its reviewed flag.
func (p *Persister) UpdateText(id, text string) error {
	doc, err := p.Read(id)
	if err != nil {
		return err
	}
	doc.Text = text
	doc.Reviewed = nil

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ra: marshal spec %s: %w", id, err)
	}
	return os.WriteFile(p.yamlPath(id), raw, 0o644)
}

// Diff reports the field-level differences between the stored spec and
// a new draft, one line per changed field.
func (p *Persister) Diff(id string, newDraft *SpecDraft) ([]string, error) {
	doc, err := p.Read(id)
	if err != nil {
		return nil, err
	}

	var changes []string
	if doc.Goal != newDraft.Goal {
		changes = append(changes, fmt.Sprintf("goal: %q -> %q", doc.Goal, newDraft.Goal))
	}
	newCriteria := make([]string, 0, len(newDraft.AcceptanceCriteria))
	for _, c := range newDraft.AcceptanceCriteria {
		newCriteria = append(newCriteria, c.Text())
	}
	changes = append(changes, diffLists("acceptance_criteria", doc.AcceptanceCriteria, newCriteria)...)
	changes = append(changes, diffLists("constraints", doc.Constraints, newDraft.Constraints)...)
	changes = append(changes, diffLists("non_goals", doc.NonGoals, newDraft.NonGoals)...)
	changes = append(changes, diffLists("open_items", doc.OpenItems, newDraft.OpenItems)...)
	return changes, nil
}

func diffLists(field string, old, new []string) []string {
	oldSet := make(map[string]struct{}, len(old))
	for _, s := range old {
		oldSet[s] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, s := range new {
		newSet[s] = struct{}{}
	}

	var changes []string
	for _, s := range old {
		if _, ok := newSet[s]; !ok {
			changes = append(changes, fmt.Sprintf("%s: removed %q", field, s))
		}
	}
	for _, s := range new {
		if _, ok := oldSet[s]; !ok {
			changes = append(changes, fmt.Sprintf("%s: added %q", field, s))
		}
	}
	return changes
}

func (p *Persister) yamlPath(id string) string {
	return filepath.Join(p.dir, id+".yml")
}

func (p *Persister) featurePath(id string) string {
	return filepath.Join(p.dir, "features", id+".feature")
}

// renderSpecText builds the multi-section human-readable rendering
// stored in the document's text field.
func renderSpecText(draft *SpecDraft) string {
	var b strings.Builder
	b.WriteString("## Goal\n\n")
	b.WriteString(draft.Goal)
	b.WriteString("\n\n## Acceptance Criteria\n\n")
	for _, c := range draft.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", c.Text())
	}
	writeSection(&b, "Constraints", draft.Constraints)
	writeSection(&b, "Non-Goals", draft.NonGoals)
	writeSection(&b, "Risk Mitigations", draft.RiskMitigations)
	writeSection(&b, "Open Items", draft.OpenItems)
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// renderFeature emits a BDD feature file with one scenario per
// acceptance criterion.
func renderFeature(id string, draft *SpecDraft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\n", draft.Goal)
	fmt.Fprintf(&b, "  # %s v%d\n", id, draft.Version)
	for i, c := range draft.AcceptanceCriteria {
		fmt.Fprintf(&b, "\n  Scenario: Criterion %d\n", i+1)
		fmt.Fprintf(&b, "    Given the goal %q\n", draft.Goal)
		fmt.Fprintf(&b, "    Then %s\n", c.Text())
	}
	return b.String()
}
