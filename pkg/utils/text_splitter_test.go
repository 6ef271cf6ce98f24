package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_ShortTextIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"học phí"}, SplitText("học phí", 100, 10))
}

func TestSplitText_OverlapsAndBreaksAtSpaces(t *testing.T) {
	text := strings.Repeat("giảng viên ", 30)

	chunks := SplitText(text, 50, 10)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(c)), 50)
		assert.True(t, strings.HasSuffix(c, " "), "chunk %q should end at a space", c)
	}
	first, second := []rune(chunks[0]), chunks[1]
	assert.True(t, strings.HasPrefix(second, string(first[len(first)-10:])))
}

func TestSplitText_NoSpacesFallsBackToHardCuts(t *testing.T) {
	chunks := SplitText(strings.Repeat("x", 25), 10, 0)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"học", "phí", "ngày", "15"}, Words("Học phí: ngày 15, à?", 2))
}
