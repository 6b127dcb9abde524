package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/speaktest/internal/models"
)

func TestExtract_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "...", "?!"} {
		f := Extract(in)
		assert.Zero(t, f.Words, "input %q", in)
		assert.Zero(t, f.Sentences, "input %q", in)
	}
}

func TestExtract_ShortUnpunctuated(t *testing.T) {
	f := Extract("yes i like")

	assert.Equal(t, 3, f.Words)
	assert.Equal(t, 3, f.DistinctWords)
	assert.Equal(t, 1, f.Sentences)
	assert.InDelta(t, 3.0, f.AvgSentenceLen, 1e-9)
	assert.InDelta(t, 1.0, f.LexicalDiversity, 1e-9)
	assert.InDelta(t, 0.5, f.VowelRatio, 1e-9)
	assert.False(t, f.Capitalized)
	assert.False(t, f.TerminalPunct)
	assert.Zero(t, f.DiscourseMarkers)
}

func TestExtract_Punctuated(t *testing.T) {
	f := Extract("I like tea, but my brother prefers coffee. However, we both like cake!")

	assert.Equal(t, 13, f.Words)
	assert.Equal(t, 2, f.Sentences)
	assert.True(t, f.Capitalized)
	assert.True(t, f.TerminalPunct)
	assert.Equal(t, 2, f.DiscourseMarkers) // but, however
	assert.Equal(t, 3, f.Connectors)       // but + two commas
	assert.Less(t, f.LexicalDiversity, 1.0)
}

func TestFeatures_Vector(t *testing.T) {
	v := Extract("Hello there. How are you?").Vector()
	require.Len(t, v, models.TurnFeatureDims)
	assert.Equal(t, float32(5), v[0])
	assert.Equal(t, float32(2), v[2])
}
