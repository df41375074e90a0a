package phase

import (
	"fmt"
	"strings"

	"storyline/internal/domain"
)

// Count is the number of collected items of one kind.
type Count struct {
	Label string
	N     int
}

// Policy decides completeness from per-kind counts. Rules are tried in
// order and the first match wins:
//
//  1. every kind has at least one item and the total reaches MinTotalWithCoverage
//  2. every kind reaches Floor
//  3. the total reaches TotalCeiling
//
// A zero threshold disables its rule.
type Policy struct {
	MinTotalWithCoverage int `yaml:"min_total_with_coverage" json:"min_total_with_coverage"`
	Floor                int `yaml:"floor" json:"floor"`
	TotalCeiling         int `yaml:"total_ceiling" json:"total_ceiling"`
}

// Default thresholds.
var (
	DefaultAnalysisPolicy = Policy{MinTotalWithCoverage: 5, Floor: 2, TotalCeiling: 8}
	DefaultSolutionPolicy = Policy{MinTotalWithCoverage: 4, Floor: 2}
)

func (p Policy) Evaluate(counts []Count) (bool, string) {
	if len(counts) == 0 {
		return false, "nothing to evaluate"
	}
	total, minN := 0, counts[0].N
	for _, c := range counts {
		total += c.N
		if c.N < minN {
			minN = c.N
		}
	}
	if p.MinTotalWithCoverage > 0 && minN >= 1 && total >= p.MinTotalWithCoverage {
		return true, "Sufficient: " + describe(counts)
	}
	if p.Floor > 0 && minN >= p.Floor {
		return true, "Sufficient: " + describe(counts)
	}
	if p.TotalCeiling > 0 && total >= p.TotalCeiling {
		return true, fmt.Sprintf("Total of %d items collected", total)
	}
	floor := p.Floor
	if floor <= 0 {
		floor = 1
	}
	var missing []string
	for _, c := range counts {
		if c.N < floor {
			missing = append(missing, fmt.Sprintf("%s (%d/%d)", c.Label, c.N, floor))
		}
	}
	if len(missing) == 0 {
		missing = append(missing, fmt.Sprintf("total (%d/%d)", total, max(p.MinTotalWithCoverage, p.TotalCeiling)))
	}
	return false, "Need more: " + strings.Join(missing, ", ")
}

func describe(counts []Count) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", c.N, c.Label))
	}
	return strings.Join(parts, ", ")
}

// RequirementCounts adapts per-category counts in display order.
func RequirementCounts(counts map[domain.Category]int) []Count {
	out := make([]Count, 0, 3)
	for _, c := range domain.Categories() {
		out = append(out, Count{Label: c.Label(), N: counts[c]})
	}
	return out
}

// IsAnalysisComplete applies p to requirement counts per category.
func IsAnalysisComplete(p Policy, counts map[domain.Category]int) (bool, string) {
	return p.Evaluate(RequirementCounts(counts))
}

// SolutionCounts counts flows that have at least one step and the distinct
// actors taking part in them.
func SolutionCounts(flows []domain.BusinessFlow) []Count {
	stepped := 0
	actors := map[string]bool{}
	for _, f := range flows {
		if len(f.Steps) == 0 {
			continue
		}
		stepped++
		for _, a := range f.Actors {
			if a = strings.TrimSpace(a); a != "" {
				actors[strings.ToLower(a)] = true
			}
		}
	}
	return []Count{
		{Label: "business flows", N: stepped},
		{Label: "actors", N: len(actors)},
	}
}

// IsSolutionComplete applies p to the solution component counts.
func IsSolutionComplete(p Policy, flows []domain.BusinessFlow) (bool, string) {
	return p.Evaluate(SolutionCounts(flows))
}
