// Package focus tracks which single plugin is active.
//
// The machine is either Unfocused or Focused(title). It does not send
// anything itself: Transition returns what changed and the broker emits the
// unfocus and focus notifications in that order.
package focus

import "sync"

// Transition describes the effect of one focus request.
// Unfocus is the title that lost focus, Focus the title that gained it;
// either may be empty.
type Transition struct {
	Unfocus string
	Focus   string
}

// Changed reports whether the transition did anything.
func (t Transition) Changed() bool { return t.Unfocus != "" || t.Focus != "" }

// Machine holds the focused title. The zero value is Unfocused and ready to use.
type Machine struct {
	mu      sync.Mutex
	current string
}

// Current returns the focused title, or "" when unfocused.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves focus to title when registered reports it as a live plugin.
//
// Requesting the current focus is a no-op. Requesting an unregistered title
// leaves the state untouched and emits nothing.
func (m *Machine) Transition(title string, registered func(string) bool) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if title == "" || title == m.current {
		return Transition{}
	}
	if registered == nil || !registered(title) {
		return Transition{}
	}

	tr := Transition{Unfocus: m.current, Focus: title}
	m.current = title
	return tr
}

// Clear drops focus if title currently holds it, without any transition.
// Used when the focused plugin goes away.
func (m *Machine) Clear(title string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == "" || m.current != title {
		return false
	}
	m.current = ""
	return true
}
