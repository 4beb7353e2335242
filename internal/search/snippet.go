package search

import (
	"strings"
)

// MaxSnippetLength bounds the returned excerpt (spec §4.7: "snippet length
// is bounded").
const MaxSnippetLength = 240

// snippetWindow is the number of words captured around the highest
// term-density point.
const snippetWindow = 20

// MatchOpen/MatchClose delimit matched query terms inside a snippet
// unambiguously, without assuming any particular rendering surface.
const (
	MatchOpen  = "‣"
	MatchClose = "‣"
)

// Snippet returns the excerpt of content with the highest density of query
// terms, marking each matched term with MatchOpen/MatchClose delimiters.
func Snippet(content string, queryTerms []string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxSnippetLength
	}
	words := strings.Fields(content)
	if len(words) == 0 {
		return ""
	}
	terms := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		if t != "" {
			terms[strings.ToLower(t)] = true
		}
	}

	bestStart, bestCount := 0, -1
	for start := 0; start < len(words); start += 1 {
		end := start + snippetWindow
		if end > len(words) {
			end = len(words)
		}
		count := 0
		for _, w := range words[start:end] {
			if terms[strings.ToLower(strings.Trim(w, `.,!?;:"'`))] {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestStart = start
		}
		if end == len(words) {
			break
		}
	}

	end := bestStart + snippetWindow
	if end > len(words) {
		end = len(words)
	}
	window := words[bestStart:end]
	for i, w := range window {
		clean := strings.Trim(w, `.,!?;:"'`)
		if terms[strings.ToLower(clean)] {
			window[i] = MatchOpen + w + MatchClose
		}
	}

	snippet := strings.Join(window, " ")
	if bestStart > 0 {
		snippet = "…" + snippet
	}
	if end < len(words) {
		snippet = snippet + "…"
	}
	runes := []rune(snippet)
	if len(runes) > maxLen {
		snippet = string(runes[:maxLen]) + "…"
	}
	return snippet
}

// queryTerms splits a normalised query into the individual terms snippets
// and the reranker match against, dropping boolean operators and wildcard
// markers so they aren't treated as content terms.
func queryTerms(normalised string) []string {
	fields := strings.Fields(normalised)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'*?`)
		switch strings.ToUpper(f) {
		case "AND", "OR", "NOT", "":
			continue
		}
		out = append(out, f)
	}
	return out
}
