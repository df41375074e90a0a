package phase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storyline/internal/domain"
	"storyline/internal/phase"
	"storyline/internal/store"
)

func counts(pg, us, fs int) map[domain.Category]int {
	return map[domain.Category]int{
		domain.CategoryProblemGoals:      pg,
		domain.CategoryUsersStakeholders: us,
		domain.CategoryFeaturesScope:     fs,
	}
}

func TestAnalysisRules(t *testing.T) {
	p := phase.DefaultAnalysisPolicy
	cases := []struct {
		name     string
		c        map[domain.Category]int
		complete bool
		reason   string
	}{
		{"empty", counts(0, 0, 0), false, "Need more: problem/goals (0/2), users/stakeholders (0/2), features/scope (0/2)"},
		{"coverage with total 5", counts(1, 1, 3), true, "Sufficient: 1 problem/goals, 1 users/stakeholders, 3 features/scope"},
		{"coverage with total 4", counts(1, 1, 2), false, "Need more: problem/goals (1/2), users/stakeholders (1/2)"},
		{"floor of two", counts(2, 2, 2), true, "Sufficient: 2 problem/goals, 2 users/stakeholders, 2 features/scope"},
		{"total eight without coverage", counts(0, 4, 4), true, "Total of 8 items collected"},
		{"seven without coverage", counts(0, 3, 4), false, "Need more: problem/goals (0/2)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := phase.IsAnalysisComplete(p, tc.c)
			assert.Equal(t, tc.complete, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestAnalysisCompletenessIsMonotonic(t *testing.T) {
	p := phase.DefaultAnalysisPolicy
	const limit = 6
	for a := 0; a <= limit; a++ {
		for b := 0; b <= limit; b++ {
			for c := 0; c <= limit; c++ {
				ok, _ := phase.IsAnalysisComplete(p, counts(a, b, c))
				if !ok {
					continue
				}
				for _, next := range []map[domain.Category]int{counts(a+1, b, c), counts(a, b+1, c), counts(a, b, c+1)} {
					more, _ := phase.IsAnalysisComplete(p, next)
					require.True(t, more, "complete at (%d,%d,%d) but not after one more item", a, b, c)
				}
			}
		}
	}
}

func TestDisabledRules(t *testing.T) {
	p := phase.Policy{TotalCeiling: 3}
	ok, _ := p.Evaluate([]phase.Count{{Label: "a", N: 3}, {Label: "b", N: 0}})
	assert.True(t, ok)
	ok, reason := p.Evaluate([]phase.Count{{Label: "a", N: 1}, {Label: "b", N: 1}})
	assert.False(t, ok)
	assert.Equal(t, "Need more: total (2/3)", reason)
}

func TestSolutionCompleteness(t *testing.T) {
	p := phase.DefaultSolutionPolicy
	flows := []domain.BusinessFlow{
		{Name: "Sign up", Steps: []string{"enter email"}, Actors: []string{"Visitor"}},
		{Name: "Draft", Actors: []string{"Admin"}},
	}
	ok, reason := phase.IsSolutionComplete(p, flows)
	assert.False(t, ok)
	assert.Equal(t, "Need more: business flows (1/2), actors (1/2)", reason)

	flows = append(flows, domain.BusinessFlow{Name: "Invite", Steps: []string{"send link"}, Actors: []string{"visitor", "Admin"}})
	ok, _ = phase.IsSolutionComplete(p, flows)
	assert.True(t, ok)
}

func TestTransitionLog(t *testing.T) {
	m := phase.New(domain.PhaseAnalysis)
	m.Logger = zaptest.NewLogger(t)
	m.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, domain.PhaseAnalysis, m.Current())
	m.Transition(domain.PhaseBrief, "analysis complete")
	m.Transition(domain.PhaseBrief, "revision")

	h := m.History()
	require.Len(t, h, 2)
	assert.Equal(t, domain.PhaseTransition{From: domain.PhaseAnalysis, To: domain.PhaseBrief, Reason: "analysis complete", Timestamp: "2024-01-01T00:00:00Z"}, h[0])
	assert.Equal(t, domain.PhaseBrief, h[1].From)

	h[0].Reason = "mutated"
	assert.Equal(t, "analysis complete", m.History()[0].Reason)
}

func TestEndToEndAnalysisToBrief(t *testing.T) {
	reqs := store.NewRequirementStore()
	for _, c := range domain.Categories() {
		reqs.Add(c, string(c)+" one")
		reqs.Add(c, string(c)+" two")
	}
	byCat := map[domain.Category]int{}
	for _, c := range reqs.Counts() {
		byCat[c.Category] = c.Count
	}
	rule2Only := phase.Policy{Floor: 2}
	ok, _ := phase.IsAnalysisComplete(rule2Only, byCat)
	require.True(t, ok, "six items, two per category, satisfy the floor rule")
	ok, _ = phase.IsAnalysisComplete(phase.DefaultAnalysisPolicy, byCat)
	require.True(t, ok)

	m := phase.New(domain.PhaseAnalysis)
	m.Transition(domain.PhaseBrief, "analysis complete")
	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, domain.PhaseAnalysis, h[0].From)
	assert.Equal(t, domain.PhaseBrief, h[0].To)
}
