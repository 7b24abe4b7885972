package participants

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	GroupEmotion = "EMO"
	GroupNeutral = "NEU"
)

// Participant is one study subject and the condition they were assigned to.
type Participant struct {
	ID    string `json:"id"`
	Group string `json:"group"`
	Note  string `json:"note,omitempty"`
}

type Repository interface {
	LoadAll() ([]Participant, error)
	Upsert(p Participant) error
	Remove(id string) error
}

// Service is the participant registry. Lookups fall back to the id prefix
// convention (E... is EMO, N... is NEU) for subjects never registered.
type Service struct {
	mu   sync.RWMutex
	repo Repository
	byID map[string]Participant
}

func NewWithRepo(repo Repository) (*Service, error) {
	s := &Service{repo: repo, byID: make(map[string]Participant)}
	if repo != nil {
		list, err := repo.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load participants: %w", err)
		}
		for _, p := range list {
			s.byID[p.ID] = p
		}
	}
	return s, nil
}

// NormalizeGroup maps loose spellings onto EMO / NEU; anything else is empty.
func NormalizeGroup(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case "EMO", "E", "EMOTION", "EMOTIONAL":
		return GroupEmotion
	case "NEU", "N", "NEUTRAL":
		return GroupNeutral
	}
	return ""
}

// GroupFromID applies the id prefix convention.
func GroupFromID(id string) string {
	if id == "" {
		return ""
	}
	return NormalizeGroup(id[:1])
}

// GroupOf returns the registered group, else the one implied by the id.
func (s *Service) GroupOf(id string) string {
	s.mu.RLock()
	p, ok := s.byID[id]
	s.mu.RUnlock()
	if ok && p.Group != "" {
		return p.Group
	}
	return GroupFromID(id)
}

func (s *Service) Upsert(p Participant) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("participant id is required")
	}
	group := NormalizeGroup(p.Group)
	if group == "" {
		return fmt.Errorf("unknown group %q for %s", p.Group, p.ID)
	}
	p.Group = group

	s.mu.Lock()
	s.byID[p.ID] = p
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Upsert(p)
	}
	return nil
}

func (s *Service) Remove(id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Remove(id)
	}
	return nil
}

// List returns the registered participants ordered by id.
func (s *Service) List() []Participant {
	s.mu.RLock()
	out := make([]Participant, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
