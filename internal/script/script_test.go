package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	r := Builtin()

	known := r.Resolve("restaurant")
	assert.Equal(t, "restaurant", known.ID)

	unknown := r.Resolve("no-such-scenario")
	assert.Equal(t, "jobInterview", unknown.ID)

	empty := r.Resolve("")
	assert.Equal(t, "jobInterview", empty.ID)
}

func TestScenario_LevelFallsBackToFirst(t *testing.T) {
	s := Builtin().Resolve("jobInterview")

	assert.Equal(t, "advanced", s.Level("advanced").ID)
	assert.Equal(t, "beginner", s.Level("bogus").ID)
	assert.False(t, s.HasLevel("bogus"))
	assert.True(t, s.HasLevel("intermediate"))
}

func TestTurnPair_PersonalizesByName(t *testing.T) {
	s := Builtin().Resolve("jobInterview")
	first := s.Level("beginner").Turns[0]

	prompt := first.Tutor("Giulia")
	assert.True(t, strings.Contains(prompt, "Giulia"), "tutor prompt should address the learner: %q", prompt)
	assert.NotEmpty(t, first.Expected("Giulia"))
}

func TestNewRegistry_RejectsEmptyShapes(t *testing.T) {
	_, err := NewRegistry()
	require.Error(t, err)

	_, err = NewRegistry(Scenario{ID: "x"})
	require.Error(t, err)

	_, err = NewRegistry(Scenario{ID: "x", Levels: []Level{{ID: "l"}}})
	require.Error(t, err)
}
