package store

import (
	"fmt"
	"strings"

	"storyline/internal/domain"
)

const (
	NoBriefText    = "No Product Brief created yet."
	NoSolutionText = "No solution components defined yet."
	NoBacklogText  = "No Epics or Stories created yet."
)

// DocumentStore holds the brief, the business flows and the backlog.
type DocumentStore struct {
	brief   *domain.ProductBrief
	flows   []domain.BusinessFlow
	epics   []domain.Epic
	stories []domain.Story
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{}
}

// SaveBrief replaces the brief.
func (d *DocumentStore) SaveBrief(b domain.ProductBrief) {
	d.brief = &b
}

// Brief returns the stored brief, or the zero brief if none was saved.
func (d *DocumentStore) Brief() domain.ProductBrief {
	if d.brief == nil {
		return domain.ProductBrief{}
	}
	return *d.brief
}

func (d *DocumentStore) HasBrief() bool {
	return d.brief != nil && strings.TrimSpace(d.brief.Summary) != ""
}

func (d *DocumentStore) ValidateBrief() (bool, []string) {
	missing := d.Brief().MissingFields()
	return len(missing) == 0, missing
}

func (d *DocumentStore) AddFlow(f domain.BusinessFlow) {
	d.flows = append(d.flows, f.Normalized())
}

func (d *DocumentStore) Flows() []domain.BusinessFlow {
	return append([]domain.BusinessFlow(nil), d.flows...)
}

// ReplaceFlows swaps the whole flow collection.
func (d *DocumentStore) ReplaceFlows(flows []domain.BusinessFlow) {
	d.flows = nil
	for _, f := range flows {
		d.AddFlow(f)
	}
}

func (d *DocumentStore) AddEpic(e domain.Epic) {
	d.epics = append(d.epics, e)
}

// AddStory appends without checking the epic reference.
func (d *DocumentStore) AddStory(s domain.Story) {
	d.stories = append(d.stories, s)
}

// AddLinkedStory appends s only if its epic id is the independent sentinel
// or names a stored epic.
func (d *DocumentStore) AddLinkedStory(s domain.Story) bool {
	if !s.Independent() && !d.hasEpic(s.EpicID) {
		return false
	}
	d.stories = append(d.stories, s)
	return true
}

func (d *DocumentStore) hasEpic(id string) bool {
	for _, e := range d.epics {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (d *DocumentStore) Epics() []domain.Epic {
	return append([]domain.Epic(nil), d.epics...)
}

func (d *DocumentStore) Stories() []domain.Story {
	return append([]domain.Story(nil), d.stories...)
}

// ReplaceBacklog swaps epics and stories. Stories pointing at unknown epics
// are dropped and returned.
func (d *DocumentStore) ReplaceBacklog(epics []domain.Epic, stories []domain.Story) []domain.Story {
	d.epics = append([]domain.Epic(nil), epics...)
	d.stories = nil
	var rejected []domain.Story
	for _, s := range stories {
		if !d.AddLinkedStory(s) {
			rejected = append(rejected, s)
		}
	}
	return rejected
}

type StructureReport struct {
	Valid               bool     `json:"valid"`
	EpicsWithoutStories []string `json:"epics_without_stories,omitempty"`
	OrphanStories       []string `json:"orphan_stories,omitempty"`
	IndependentStories  int      `json:"independent_stories"`
	Epics               int      `json:"epics"`
	Stories             int      `json:"stories"`
}

// Summary renders the report as a short human-readable paragraph.
func (r StructureReport) Summary() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "Backlog structure is valid: %d epics, %d stories (%d independent).", r.Epics, r.Stories, r.IndependentStories)
	} else {
		fmt.Fprintf(&b, "Backlog structure is invalid: %d of %d epics have no stories.", len(r.EpicsWithoutStories), r.Epics)
		for _, id := range r.EpicsWithoutStories {
			fmt.Fprintf(&b, "\n  - epic %s has no stories", id)
		}
	}
	for _, title := range r.OrphanStories {
		fmt.Fprintf(&b, "\n  - story %q references an unknown epic", title)
	}
	return b.String()
}

// ValidateEpicStoryStructure checks every epic has at least one story.
// Independent stories never count against validity. Stories pointing at
// unknown epics are listed but do not fail the check.
func (d *DocumentStore) ValidateEpicStoryStructure() StructureReport {
	rep := StructureReport{Epics: len(d.epics), Stories: len(d.stories)}
	perEpic := make(map[string]int, len(d.epics))
	for _, s := range d.stories {
		switch {
		case s.Independent():
			rep.IndependentStories++
		case d.hasEpic(s.EpicID):
			perEpic[s.EpicID]++
		default:
			rep.OrphanStories = append(rep.OrphanStories, s.Title)
		}
	}
	for _, e := range d.epics {
		if perEpic[e.ID] == 0 {
			rep.EpicsWithoutStories = append(rep.EpicsWithoutStories, e.ID)
		}
	}
	rep.Valid = len(rep.EpicsWithoutStories) == 0
	return rep
}

func (d *DocumentStore) BriefText() string {
	if !d.HasBrief() {
		return NoBriefText
	}
	b := d.brief
	var sb strings.Builder
	sb.WriteString("# PRODUCT BRIEF\n")
	for _, sec := range []struct{ title, body string }{
		{"Product Summary", b.Summary},
		{"Problem Statement", b.ProblemStatement},
		{"Target Users", b.TargetUsers},
		{"Product Goals", b.Goals},
		{"Scope", b.Scope},
	} {
		if strings.TrimSpace(sec.body) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n%s\n", sec.title, sec.body)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (d *DocumentStore) SolutionText() string {
	if len(d.flows) == 0 {
		return NoSolutionText
	}
	var sb strings.Builder
	sb.WriteString("## Business Flows\n")
	for i, f := range d.flows {
		name := f.Name
		if name == "" {
			name = "Unnamed Flow"
		}
		fmt.Fprintf(&sb, "\n### %d. %s\n", i+1, name)
		if f.Description != "" {
			fmt.Fprintf(&sb, "**Description:** %s\n", f.Description)
		}
		if len(f.Steps) > 0 {
			sb.WriteString("**Steps:**\n")
			for j, step := range f.Steps {
				fmt.Fprintf(&sb, "  %d. %s\n", j+1, step)
			}
		}
		if len(f.Actors) > 0 {
			fmt.Fprintf(&sb, "**Actors:** %s\n", strings.Join(f.Actors, ", "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (d *DocumentStore) BacklogText() string {
	if len(d.epics) == 0 && len(d.stories) == 0 {
		return NoBacklogText
	}
	var sb strings.Builder
	sb.WriteString("# PRODUCT BACKLOG\n")
	if len(d.epics) > 0 {
		sb.WriteString("\n## Epics\n")
	}
	for i, e := range d.epics {
		fmt.Fprintf(&sb, "\n### Epic %d: %s\n", i+1, orDefault(e.Name, "Unnamed Epic"))
		fmt.Fprintf(&sb, "**Domain:** %s\n", orDefault(e.Domain, "N/A"))
		fmt.Fprintf(&sb, "**Description:** %s\n", orDefault(e.Description, "N/A"))
		var stories []domain.Story
		for _, s := range d.stories {
			if s.EpicID == e.ID {
				stories = append(stories, s)
			}
		}
		if len(stories) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n**User Stories (%d):**\n", len(stories))
		for j, s := range stories {
			writeStory(&sb, fmt.Sprintf("%d.%d.", i+1, j+1), s)
		}
	}
	var independent []domain.Story
	for _, s := range d.stories {
		if s.Independent() {
			independent = append(independent, s)
		}
	}
	if len(independent) > 0 {
		sb.WriteString("\n## Independent Stories\n")
		for j, s := range independent {
			writeStory(&sb, fmt.Sprintf("%d.", j+1), s)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeStory(sb *strings.Builder, prefix string, s domain.Story) {
	fmt.Fprintf(sb, "\n%s %s\n", prefix, orDefault(s.Title, "Untitled Story"))
	fmt.Fprintf(sb, "   **Description:** %s\n", orDefault(s.Description, "N/A"))
	if len(s.AcceptanceCriteria) > 0 {
		sb.WriteString("   **Acceptance Criteria:**\n")
		for _, c := range s.AcceptanceCriteria {
			fmt.Fprintf(sb, "   - %s\n", c)
		}
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

type DocumentCounts struct {
	BriefCreated  bool `json:"brief_created"`
	BriefComplete bool `json:"brief_complete"`
	Flows         int  `json:"flows"`
	Epics         int  `json:"epics"`
	Stories       int  `json:"stories"`
}

func (d *DocumentStore) Counts() DocumentCounts {
	complete, _ := d.ValidateBrief()
	return DocumentCounts{
		BriefCreated:  d.HasBrief(),
		BriefComplete: complete,
		Flows:         len(d.flows),
		Epics:         len(d.epics),
		Stories:       len(d.stories),
	}
}

func (d *DocumentStore) Snapshot() (domain.SolutionRecord, domain.DocumentationRecord) {
	sol := domain.SolutionRecord{BusinessFlows: append([]domain.BusinessFlow{}, d.flows...)}
	doc := domain.DocumentationRecord{
		Epics:   append([]domain.Epic{}, d.epics...),
		Stories: append([]domain.Story{}, d.stories...),
	}
	if d.brief != nil {
		b := *d.brief
		doc.Brief = &b
	}
	return sol, doc
}

func (d *DocumentStore) Restore(sol domain.SolutionRecord, doc domain.DocumentationRecord) {
	d.flows = append([]domain.BusinessFlow(nil), sol.BusinessFlows...)
	d.epics = append([]domain.Epic(nil), doc.Epics...)
	d.stories = append([]domain.Story(nil), doc.Stories...)
	d.brief = nil
	if doc.Brief != nil {
		b := *doc.Brief
		d.brief = &b
	}
}
