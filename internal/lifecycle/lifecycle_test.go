package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOrdering(t *testing.T) {
	assert.True(t, Pull < Overlay)
	assert.True(t, Overlay < Build)
	assert.True(t, Build < Stage)
	assert.True(t, Stage < Prime)
}

func TestSteps(t *testing.T) {
	assert.Equal(t, []Step{Pull, Build, Stage, Prime}, Steps(false))
	assert.Equal(t, []Step{Pull, Overlay, Build, Stage, Prime}, Steps(true))
}

func TestPrevious(t *testing.T) {
	t.Run("without overlays", func(t *testing.T) {
		assert.Empty(t, Previous(Pull, false))
		assert.Equal(t, []Step{Pull}, Previous(Build, false))
		assert.Equal(t, []Step{Pull, Build}, Previous(Stage, false))
		assert.Equal(t, []Step{Pull, Build, Stage}, Previous(Prime, false))
	})

	t.Run("with overlays", func(t *testing.T) {
		assert.Equal(t, []Step{Pull}, Previous(Overlay, true))
		assert.Equal(t, []Step{Pull, Overlay}, Previous(Build, true))
		assert.Equal(t, []Step{Pull, Overlay, Build, Stage}, Previous(Prime, true))
	})
}

func TestNext(t *testing.T) {
	assert.Equal(t, []Step{Build, Stage, Prime}, Next(Pull, false))
	assert.Equal(t, []Step{Overlay, Build, Stage, Prime}, Next(Pull, true))
	assert.Equal(t, []Step{Stage, Prime}, Next(Build, false))
	assert.Empty(t, Next(Prime, false))
}

func TestPrerequisite(t *testing.T) {
	_, ok := Prerequisite(Pull)
	assert.False(t, ok)
	_, ok = Prerequisite(Overlay)
	assert.False(t, ok)

	// A dependency must reach Stage before the dependent builds or stages.
	step, ok := Prerequisite(Build)
	require.True(t, ok)
	assert.Equal(t, Stage, step)

	step, ok = Prerequisite(Stage)
	require.True(t, ok)
	assert.Equal(t, Stage, step)

	step, ok = Prerequisite(Prime)
	require.True(t, ok)
	assert.Equal(t, Prime, step)
}

func TestParseStep(t *testing.T) {
	for _, s := range Steps(true) {
		parsed, err := ParseStep(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStep("deploy")
	assert.Error(t, err)
}
