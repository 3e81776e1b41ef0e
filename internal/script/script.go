package script

import "fmt"

// TurnPair is one tutor-prompt / expected-reply pair within a level.
// Both sides are generated lazily so the text can address the learner by name.
type TurnPair struct {
	Tutor    func(speakerName string) string
	Expected func(speakerName string) string
}

// Level is an ordered list of turn pairs at one difficulty tier.
type Level struct {
	ID    string
	Title string
	Turns []TurnPair
}

// Scenario is a role-play context with ordered difficulty levels.
type Scenario struct {
	ID     string
	Title  string
	Levels []Level
}

// Level returns the level with the given id, falling back to the first level.
func (s Scenario) Level(id string) Level {
	for _, l := range s.Levels {
		if l.ID == id {
			return l
		}
	}
	return s.Levels[0]
}

// HasLevel reports whether the scenario defines the given level id.
func (s Scenario) HasLevel(id string) bool {
	for _, l := range s.Levels {
		if l.ID == id {
			return true
		}
	}
	return false
}

// Registry resolves scenario/level ids to immutable script data.
type Registry struct {
	scenarios map[string]Scenario
	defaultID string
}

// NewRegistry builds a registry from the given scenarios. The first scenario
// is the fallback for unknown ids.
func NewRegistry(scenarios ...Scenario) (*Registry, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("script: registry needs at least one scenario")
	}
	m := make(map[string]Scenario, len(scenarios))
	for _, s := range scenarios {
		if len(s.Levels) == 0 {
			return nil, fmt.Errorf("script: scenario %q has no levels", s.ID)
		}
		for _, l := range s.Levels {
			if len(l.Turns) == 0 {
				return nil, fmt.Errorf("script: scenario %q level %q has no turns", s.ID, l.ID)
			}
		}
		m[s.ID] = s
	}
	return &Registry{scenarios: m, defaultID: scenarios[0].ID}, nil
}

// Resolve returns the scenario for the id, or the default scenario when the
// id is unknown or empty.
func (r *Registry) Resolve(scenarioID string) Scenario {
	if s, ok := r.scenarios[scenarioID]; ok {
		return s
	}
	return r.scenarios[r.defaultID]
}

// Scenarios lists all registered scenarios in no particular order.
func (r *Registry) Scenarios() []Scenario {
	out := make([]Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	return out
}
