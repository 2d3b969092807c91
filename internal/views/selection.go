package views

import (
	"slices"
	"sync"
)

// Mode is the contact list interaction mode.
type Mode int

const (
	ModeNavigate Mode = iota
	ModeMultiSelect
)

func (m Mode) String() string {
	if m == ModeMultiSelect {
		return "multi-select"
	}
	return "navigate"
}

// ModeOf derives the mode from the selection size.
func ModeOf(n int) Mode {
	if n == 0 {
		return ModeNavigate
	}
	return ModeMultiSelect
}

// Selection is the set of contacts picked for a bulk action. It does not
// prune itself; call Prune after the contact list changes.
type Selection struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

func (s *Selection) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return
	}
	s.ids[id] = struct{}{}
}

func (s *Selection) SelectMany(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *Selection) DeselectMany(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *Selection) Clear() {
	s.mu.Lock()
	clear(s.ids)
	s.mu.Unlock()
}

func (s *Selection) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Selection) Mode() Mode {
	return ModeOf(s.Len())
}

// IDs returns the selected ids sorted.
func (s *Selection) IDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Prune drops ids not in valid and returns how many were removed.
func (s *Selection) Prune(valid []string) int {
	keep := make(map[string]struct{}, len(valid))
	for _, id := range valid {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.ids {
		if _, ok := keep[id]; !ok {
			delete(s.ids, id)
			removed++
		}
	}
	return removed
}

type ClickAction int

const (
	ClickNavigate ClickAction = iota
	ClickToggled
)

// Click handles a click on a contact row. While anything is selected a click
// toggles the row instead of opening the thread.
func Click(sel *Selection, id string) ClickAction {
	if sel.Mode() == ModeMultiSelect {
		sel.Toggle(id)
		return ClickToggled
	}
	return ClickNavigate
}

type CheckState int

const (
	Unchecked CheckState = iota
	Indeterminate
	Checked
)

// PageCheckbox is the state of the "select page" box for the visible rows.
func PageCheckbox(page []string, sel *Selection) CheckState {
	if len(page) == 0 {
		return Unchecked
	}
	n := 0
	for _, id := range page {
		if sel.Has(id) {
			n++
		}
	}
	switch n {
	case 0:
		return Unchecked
	case len(page):
		return Checked
	}
	return Indeterminate
}

// TogglePage selects every visible row unless all of them are already
// selected, in which case it deselects them.
func TogglePage(page []string, sel *Selection) {
	if PageCheckbox(page, sel) == Checked {
		sel.DeselectMany(page)
		return
	}
	sel.SelectMany(page)
}
