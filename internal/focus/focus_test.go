package focus

import "testing"

func registeredSet(titles ...string) func(string) bool {
	set := make(map[string]bool, len(titles))
	for _, t := range titles {
		set[t] = true
	}
	return func(title string) bool { return set[title] }
}

func TestTransitions(t *testing.T) {
	live := registeredSet("A", "B")

	tests := []struct {
		name     string
		start    string
		request  string
		want     Transition
		wantHeld string
	}{
		{"unfocused to A", "", "A", Transition{Focus: "A"}, "A"},
		{"A to B", "A", "B", Transition{Unfocus: "A", Focus: "B"}, "B"},
		{"same title is a no-op", "A", "A", Transition{}, "A"},
		{"unregistered keeps prior focus", "A", "Z", Transition{}, "A"},
		{"unregistered from unfocused", "", "Z", Transition{}, ""},
		{"empty title", "A", "", Transition{}, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Machine{current: tt.start}
			got := m.Transition(tt.request, live)
			if got != tt.want {
				t.Fatalf("Transition = %+v, want %+v", got, tt.want)
			}
			if got.Changed() != (tt.want != Transition{}) {
				t.Fatalf("Changed() = %v", got.Changed())
			}
			if m.Current() != tt.wantHeld {
				t.Fatalf("Current = %q, want %q", m.Current(), tt.wantHeld)
			}
		})
	}
}

func TestClear(t *testing.T) {
	var m Machine
	m.Transition("A", registeredSet("A"))

	if m.Clear("B") {
		t.Fatal("Clear of a non-focused title must not change state")
	}
	if !m.Clear("A") || m.Current() != "" {
		t.Fatalf("Clear(A) left focus %q", m.Current())
	}

	// After clearing, focusing A again emits no unfocus.
	if tr := m.Transition("A", registeredSet("A")); tr != (Transition{Focus: "A"}) {
		t.Fatalf("Transition = %+v", tr)
	}
}
