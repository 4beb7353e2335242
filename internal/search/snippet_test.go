package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnippetHighlightsMatchedTerms(t *testing.T) {
	content := "The quick brown fox jumps over the lazy dog near the riverbank at dawn."
	s := Snippet(content, []string{"fox", "dog"}, 240)
	assert.Contains(t, s, MatchOpen+"fox"+MatchClose)
	assert.Contains(t, s, MatchOpen+"dog"+MatchClose)
}

func TestSnippetTruncatesToMaxLength(t *testing.T) {
	content := strings.Repeat("word ", 200)
	s := Snippet(content, nil, 50)
	assert.LessOrEqual(t, len([]rune(s)), 51) // +1 for trailing ellipsis rune
}

func TestSnippetEmptyContent(t *testing.T) {
	assert.Equal(t, "", Snippet("", []string{"x"}, 100))
}

func TestQueryTermsDropsOperatorsAndQuotes(t *testing.T) {
	terms := queryTerms(Normalise(`"exact phrase" AND wildcard*`))
	assert.Equal(t, []string{"exact", "phrase", "wildcard"}, terms)
}
