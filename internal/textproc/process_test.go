package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

func TestProcess_RejectsEmptyInput(t *testing.T) {
	_, err := Process("   \n\t  ", DefaultConfig())
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))
}

func TestProcess_StripsHTMLAndEntities(t *testing.T) {
	res, err := Process("<p>Hello &amp; <b>world</b></p>", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "Hello & world", res.Processed)
}

func TestProcess_StripsMarkdown(t *testing.T) {
	input := "# Title\n\nSome **bold** and _italic_ text with a [link](http://x) and `code`."
	res, err := Process(input, DefaultConfig())
	require.NoError(t, err)
	assert.NotContains(t, res.Processed, "#")
	assert.NotContains(t, res.Processed, "**")
	assert.NotContains(t, res.Processed, "[link]")
	assert.Contains(t, res.Processed, "bold")
	assert.Contains(t, res.Processed, "link")
	assert.Contains(t, res.Processed, "code")
}

func TestProcess_IsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	input := "  <div>Hello   World</div>  \n\n\n more "
	first, err := Process(input, cfg)
	require.NoError(t, err)
	second, err := Process(first.Processed, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Processed, second.Processed)
}

func TestProcess_TruncationBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCharacters = 10
	cfg.Strategy = TruncateTail

	exact := strings.Repeat("a", 10)
	res, err := Process(exact, cfg)
	require.NoError(t, err)
	assert.False(t, res.Truncated)

	oneOver := strings.Repeat("a", 11)
	res, err = Process(oneOver, cfg)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, res.ProcessedLength, 10)
}

func TestProcess_MiddleTruncationKeepsPrefixAndSuffix(t *testing.T) {
	cfg := Config{MaxCharacters: 10, Strategy: TruncateMiddle, TruncationIndicator: "..."}
	res, err := Process("abcdefghijklmnopqrstuvwxyz", cfg)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Processed, "...")
	assert.LessOrEqual(t, len([]rune(res.Processed)), 10)
}

func TestProcess_WordBoundaryNeverExceedsBudget(t *testing.T) {
	cfg := Config{MaxCharacters: 12, Strategy: TruncateTail, PreserveWordBoundary: true}
	res, err := Process("hello there friend", cfg)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(res.Processed)), 12)
}

func TestProcess_RejectsOversizedInput(t *testing.T) {
	huge := strings.Repeat("a", MaxInputCharacters+1)
	_, err := Process(huge, DefaultConfig())
	require.Error(t, err)
}

func TestHash_DeterministicSHA256(t *testing.T) {
	h1, alg1 := Hash("hello world", AlgorithmSHA256)
	h2, alg2 := Hash("hello world", AlgorithmSHA256)
	assert.Equal(t, h1, h2)
	assert.Equal(t, AlgorithmSHA256, alg1)
	assert.Equal(t, AlgorithmSHA256, alg2)
}

func TestHash_DJB2Fallback(t *testing.T) {
	h1, alg := Hash("hello world", AlgorithmDJB2)
	h2, _ := Hash("hello world", AlgorithmDJB2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, AlgorithmDJB2, alg)
	assert.NotEmpty(t, h1)
}

func TestHash_DifferentTextsDifferentHashes(t *testing.T) {
	h1, _ := Hash("hello", AlgorithmSHA256)
	h2, _ := Hash("world", AlgorithmSHA256)
	assert.NotEqual(t, h1, h2)
}
