package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyline/internal/domain"
	"storyline/internal/store"
)

func fixedNow() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestRequirementDedup(t *testing.T) {
	s := store.NewRequirementStore()
	for _, c := range domain.Categories() {
		assert.True(t, s.Add(c, "Reduce churn"))
		assert.False(t, s.Add(c, "Reduce churn"))
		assert.Equal(t, []string{"Reduce churn"}, s.Items(c))
	}
	assert.True(t, s.Add(domain.CategoryProblemGoals, "reduce churn"), "comparison is case-sensitive")
	assert.True(t, s.Add(domain.CategoryProblemGoals, " Reduce churn"), "no whitespace normalisation")
	assert.Equal(t, 5, s.Total())
}

func TestRequirementUnknownCategoryRejected(t *testing.T) {
	s := store.NewRequirementStore()
	assert.False(t, s.Add(domain.Category("risks"), "x"))
	assert.Equal(t, 0, s.Total())
}

func TestAllText(t *testing.T) {
	s := store.NewRequirementStore()
	assert.Equal(t, store.NoRequirementsText, s.AllText())

	s.Add(domain.CategoryFeaturesScope, "Export to CSV")
	s.Add(domain.CategoryProblemGoals, "Cut onboarding time")
	s.Add(domain.CategoryProblemGoals, "Increase retention")

	want := "## Problem & Goals\n1. Cut onboarding time\n2. Increase retention\n\n## Features & Scope\n1. Export to CSV"
	assert.Equal(t, want, s.AllText())
}

func TestCloneIsIndependent(t *testing.T) {
	s := store.NewRequirementStore()
	s.Now = fixedNow
	s.Add(domain.CategoryProblemGoals, "a")
	s.AddTurn(domain.RoleUser, "hi")

	c := s.Clone()
	c.Add(domain.CategoryProblemGoals, "b")
	c.AddTurn(domain.RoleAssistant, "hello")

	assert.Equal(t, 1, s.Total())
	assert.Len(t, s.Conversation(), 1)
	assert.Equal(t, 2, c.Total())
	assert.Equal(t, 1, c.UserTurns())
	assert.Equal(t, "2024-01-01T00:00:00Z", c.Conversation()[1].Timestamp)
}

func TestValidateEpicStoryStructure(t *testing.T) {
	d := store.NewDocumentStore()
	d.AddEpic(domain.Epic{ID: "epic-1", Name: "Accounts"})

	rep := d.ValidateEpicStoryStructure()
	assert.False(t, rep.Valid)
	assert.Equal(t, []string{"epic-1"}, rep.EpicsWithoutStories)

	d.AddStory(domain.Story{EpicID: domain.IndependentEpicID, Title: "Set up CI"})
	rep = d.ValidateEpicStoryStructure()
	assert.False(t, rep.Valid, "independent stories do not satisfy an epic")
	assert.Equal(t, 1, rep.IndependentStories)

	d.AddStory(domain.Story{EpicID: "epic-1", Title: "Sign up"})
	rep = d.ValidateEpicStoryStructure()
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.EpicsWithoutStories)
	assert.Contains(t, rep.Summary(), "valid")
}

func TestStoryBeforeEpicIsAllowed(t *testing.T) {
	d := store.NewDocumentStore()
	d.AddStory(domain.Story{EpicID: "epic-9", Title: "Early"})
	rep := d.ValidateEpicStoryStructure()
	assert.True(t, rep.Valid)
	assert.Equal(t, []string{"Early"}, rep.OrphanStories)

	d.AddEpic(domain.Epic{ID: "epic-9"})
	rep = d.ValidateEpicStoryStructure()
	assert.True(t, rep.Valid)
	assert.Empty(t, rep.OrphanStories)
}

func TestAddLinkedStoryRejectsUnknownEpic(t *testing.T) {
	d := store.NewDocumentStore()
	assert.False(t, d.AddLinkedStory(domain.Story{EpicID: "nope", Title: "x"}))
	assert.True(t, d.AddLinkedStory(domain.Story{EpicID: domain.IndependentEpicID, Title: "y"}))
	d.AddEpic(domain.Epic{ID: "e1"})
	assert.True(t, d.AddLinkedStory(domain.Story{EpicID: "e1", Title: "z"}))
	assert.Len(t, d.Stories(), 2)
}

func TestReplaceBacklogDropsDanglingStories(t *testing.T) {
	d := store.NewDocumentStore()
	d.AddEpic(domain.Epic{ID: "old"})
	d.AddStory(domain.Story{EpicID: "old", Title: "stale"})

	rejected := d.ReplaceBacklog(
		[]domain.Epic{{ID: "e1", Name: "Billing"}},
		[]domain.Story{{EpicID: "e1", Title: "Pay"}, {EpicID: "old", Title: "stale"}},
	)
	require.Len(t, rejected, 1)
	assert.Equal(t, "stale", rejected[0].Title)
	assert.Len(t, d.Epics(), 1)
	assert.Len(t, d.Stories(), 1)
}

func TestBriefValidationAndText(t *testing.T) {
	d := store.NewDocumentStore()
	assert.Equal(t, store.NoBriefText, d.BriefText())
	ok, missing := d.ValidateBrief()
	assert.False(t, ok)
	assert.Len(t, missing, 5)

	d.SaveBrief(domain.ProductBrief{Summary: "A planner", ProblemStatement: "Too many tools"})
	ok, missing = d.ValidateBrief()
	assert.False(t, ok)
	assert.Equal(t, []string{"target_users", "product_goals", "scope"}, missing)
	assert.Contains(t, d.BriefText(), "# PRODUCT BRIEF")
	assert.Contains(t, d.BriefText(), "## Problem Statement\nToo many tools")
	assert.NotContains(t, d.BriefText(), "## Scope")
}

func TestBacklogText(t *testing.T) {
	d := store.NewDocumentStore()
	assert.Equal(t, store.NoBacklogText, d.BacklogText())
	d.AddEpic(domain.Epic{ID: "e1", Name: "Accounts", Domain: "identity"})
	d.AddStory(domain.Story{EpicID: "e1", Title: "Sign up", AcceptanceCriteria: []string{"email verified"}})
	d.AddStory(domain.Story{EpicID: domain.IndependentEpicID, Title: "Logging"})

	text := d.BacklogText()
	assert.Contains(t, text, "### Epic 1: Accounts")
	assert.Contains(t, text, "**Domain:** identity")
	assert.Contains(t, text, "1.1. Sign up")
	assert.Contains(t, text, "   - email verified")
	assert.Contains(t, text, "## Independent Stories")
}

func TestSolutionText(t *testing.T) {
	d := store.NewDocumentStore()
	assert.Equal(t, store.NoSolutionText, d.SolutionText())
	d.ReplaceFlows([]domain.BusinessFlow{{Name: "Checkout", Steps: []string{"add to cart", "pay"}, Actors: []string{"buyer", "buyer"}}})
	text := d.SolutionText()
	assert.Contains(t, text, "### 1. Checkout")
	assert.Contains(t, text, "  2. pay")
	assert.Contains(t, text, "**Actors:** buyer")
}

func TestApprovalLogResolvesMostRecentPending(t *testing.T) {
	l := store.NewApprovalLog()
	l.Now = fixedNow

	_, ok := l.Resolve(domain.PhaseBrief, domain.ApprovalApproved, "")
	assert.False(t, ok, "nothing pending")

	l.Open(domain.PhaseBrief, 0)
	rec, ok := l.Resolve(domain.PhaseBrief, domain.ApprovalRejected, "shorter summary")
	require.True(t, ok)
	assert.Equal(t, domain.ApprovalRejected, rec.Status)
	require.NotNil(t, rec.ResolvedAt)

	l.Open(domain.PhaseBrief, 1)
	cur, ok := l.Current(domain.PhaseBrief)
	require.True(t, ok)
	assert.Equal(t, 1, cur.Attempt)

	l.Resolve(domain.PhaseBrief, domain.ApprovalApproved, "")
	_, ok = l.Current(domain.PhaseBrief)
	assert.False(t, ok)
	assert.True(t, l.Approved(domain.PhaseBrief))
	assert.Len(t, l.History(domain.PhaseBrief), 2)

	refs := l.Refinements()
	require.Len(t, refs, 1)
	assert.Equal(t, "shorter summary", refs[0].Request)
}

func TestInteractions(t *testing.T) {
	in := store.NewInteractions()
	in.Now = fixedNow

	err := in.Ask(domain.PendingQuestion{Question: "Platform?", Options: []domain.Option{{Label: "Web", Value: "web"}}})
	assert.Error(t, err)

	_, err = in.Choose(0)
	assert.ErrorIs(t, err, store.ErrNoPendingQuestion)

	require.NoError(t, in.Ask(domain.PendingQuestion{
		Context:  "platform",
		Question: "Platform?",
		Options:  []domain.Option{{Label: "Web", Value: "web"}, {Label: "Mobile", Value: "mobile"}},
	}))
	_, err = in.Choose(5)
	assert.Error(t, err)

	c, err := in.Choose(1)
	require.NoError(t, err)
	assert.Equal(t, "mobile", c.SelectedValue)
	_, pending := in.Pending()
	assert.False(t, pending)

	last, ok := in.LastChoice("platform")
	require.True(t, ok)
	assert.Equal(t, "Mobile", last.SelectedLabel)
}
