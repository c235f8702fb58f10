package regex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombinePatterns(t *testing.T) {
	re, err := CombinePatterns([]string{"^ZELDA", "MARIO%2064$"})
	require.NoError(t, err)

	assert.True(t, re.MatchString("ZELDA%20MAJORA'S%20MASK"))
	assert.True(t, re.MatchString("SUPER%20MARIO%2064"))
	assert.False(t, re.MatchString("WAVE%20RACE%2064"))

	_, err = CombinePatterns([]string{"("})
	assert.Error(t, err)
}
