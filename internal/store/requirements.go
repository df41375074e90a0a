package store

import (
	"fmt"
	"strings"
	"time"

	"storyline/internal/domain"
)

// NoRequirementsText is returned by AllText when nothing has been collected.
const NoRequirementsText = "No requirements collected yet."

// RequirementStore holds categorized requirements and the conversation log.
type RequirementStore struct {
	items map[domain.Category][]string
	turns []domain.ConversationTurn
	Now   func() time.Time
}

func NewRequirementStore() *RequirementStore {
	return &RequirementStore{items: emptyItems()}
}

func emptyItems() map[domain.Category][]string {
	m := make(map[domain.Category][]string, 3)
	for _, c := range domain.Categories() {
		m[c] = []string{}
	}
	return m
}

func (s *RequirementStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Add appends text to category unless the category is unknown or the exact
// text is already present. Comparison is case-sensitive and untrimmed.
func (s *RequirementStore) Add(category domain.Category, text string) bool {
	if !category.Valid() {
		return false
	}
	for _, existing := range s.items[category] {
		if existing == text {
			return false
		}
	}
	s.items[category] = append(s.items[category], text)
	return true
}

func (s *RequirementStore) Items(category domain.Category) []string {
	return append([]string(nil), s.items[category]...)
}

func (s *RequirementStore) Count(category domain.Category) int {
	return len(s.items[category])
}

// Counts returns per-category counts in display order.
func (s *RequirementStore) Counts() []CategoryCount {
	out := make([]CategoryCount, 0, 3)
	for _, c := range domain.Categories() {
		out = append(out, CategoryCount{Category: c, Count: len(s.items[c])})
	}
	return out
}

func (s *RequirementStore) Total() int {
	total := 0
	for _, v := range s.items {
		total += len(v)
	}
	return total
}

// AllText renders the collected requirements as markdown sections.
func (s *RequirementStore) AllText() string {
	var b strings.Builder
	for _, c := range domain.Categories() {
		items := s.items[c]
		if len(items) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", c.Title())
		for i, item := range items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, item)
		}
	}
	if b.Len() == 0 {
		return NoRequirementsText
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *RequirementStore) AddTurn(role domain.Role, content string) domain.ConversationTurn {
	turn := domain.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	s.turns = append(s.turns, turn)
	return turn
}

func (s *RequirementStore) Conversation() []domain.ConversationTurn {
	return append([]domain.ConversationTurn(nil), s.turns...)
}

// UserTurns counts the turns the user has taken.
func (s *RequirementStore) UserTurns() int {
	n := 0
	for _, t := range s.turns {
		if t.Role == domain.RoleUser {
			n++
		}
	}
	return n
}

// Clone returns an independent copy used to stage a batch of writes.
func (s *RequirementStore) Clone() *RequirementStore {
	c := &RequirementStore{items: emptyItems(), Now: s.Now}
	for k, v := range s.items {
		c.items[k] = append([]string{}, v...)
	}
	c.turns = append([]domain.ConversationTurn(nil), s.turns...)
	return c
}

func (s *RequirementStore) Snapshot() (map[domain.Category][]string, []domain.ConversationTurn) {
	items := emptyItems()
	for k, v := range s.items {
		items[k] = append([]string{}, v...)
	}
	turns := append([]domain.ConversationTurn{}, s.turns...)
	return items, turns
}

func (s *RequirementStore) Restore(items map[domain.Category][]string, turns []domain.ConversationTurn) {
	s.items = emptyItems()
	for k, v := range items {
		if !k.Valid() {
			continue
		}
		s.items[k] = append([]string{}, v...)
	}
	s.turns = append([]domain.ConversationTurn(nil), turns...)
}

type CategoryCount struct {
	Category domain.Category `json:"category"`
	Count    int             `json:"count"`
}
