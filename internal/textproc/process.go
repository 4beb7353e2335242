// Package textproc implements the deterministic text-to-embedding-input
// transform (component C1): markup stripping, whitespace normalisation,
// truncation, and content hashing. Every function here is pure and safe
// to call from any goroutine.
package textproc

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// MaxInputCharacters is the implementation's hard limit on input size.
const MaxInputCharacters = 1_000_000

// CharsPerTokenEstimate is the fixed four-characters-per-token budget used
// unless a caller overrides it per language.
const CharsPerTokenEstimate = 4

// TruncationStrategy selects where truncation removes characters from.
type TruncationStrategy string

const (
	TruncateHead   TruncationStrategy = "head"
	TruncateTail   TruncationStrategy = "tail"
	TruncateMiddle TruncationStrategy = "middle"
)

// Config configures one pass of Process.
type Config struct {
	Lowercase            bool
	StripSpecialChars    bool
	MaxCharacters        int
	MaxTokens            int
	Strategy             TruncationStrategy
	PreserveWordBoundary bool
	TruncationIndicator  string
	// UserHook, when set, runs after special-char stripping and before
	// truncation. It must be pure.
	UserHook func(string) string
}

// DefaultConfig returns a config with no truncation and no case-folding,
// i.e. only markup stripping and whitespace normalisation.
func DefaultConfig() Config {
	return Config{
		Strategy: TruncateTail,
	}
}

// Result is the outcome of one Process call.
type Result struct {
	Processed         string
	OriginalLength    int
	ProcessedLength   int
	EstTokens         int
	Truncated         bool
	OperationsApplied []string
}

var (
	htmlTagPattern       = regexp.MustCompile(`<[^>]+>`)
	mdHeaderPattern      = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdBoldItalicPattern  = regexp.MustCompile(`(\*\*\*|___)(.+?)(\*\*\*|___)|(\*\*|__)(.+?)(\*\*|__)|(\*|_)(.+?)(\*|_)`)
	mdLinkPattern        = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	mdImagePattern       = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)
	mdCodeBlockPattern   = regexp.MustCompile("(?s)```.*?```")
	mdCodeSpanPattern    = regexp.MustCompile("`([^`]*)`")
	mdListPattern        = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdBlockquotePattern  = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdRulePattern        = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	mdTablePipePattern   = regexp.MustCompile(`\|`)
	mdTableSepPattern    = regexp.MustCompile(`(?m)^\s*:?-{2,}:?\s*(\|\s*:?-{2,}:?\s*)*$`)
	whitespaceRunPattern = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)
	specialCharsPattern  = regexp.MustCompile(`[^\w\s]`)
)

// Process runs the full C1 pipeline: HTML-tag strip -> HTML-entity decode
// -> Markdown strip -> whitespace normalisation -> optional lowercase ->
// optional special-char strip -> optional user hook -> truncation.
func Process(text string, cfg Config) (Result, error) {
	if isBlank(text) {
		return Result{}, cerrors.ValidationError("text must not be empty or whitespace-only", nil)
	}
	if len([]rune(text)) > MaxInputCharacters {
		return Result{}, cerrors.ValidationError("text exceeds the maximum of 1,000,000 characters", nil)
	}

	originalLen := len([]rune(text))
	var ops []string

	out := htmlTagPattern.ReplaceAllString(text, " ")
	ops = append(ops, "strip_html_tags")

	out = html.UnescapeString(out)
	ops = append(ops, "decode_html_entities")

	out = stripMarkdown(out)
	ops = append(ops, "strip_markdown")

	out = normaliseWhitespace(out)
	ops = append(ops, "normalise_whitespace")

	if cfg.Lowercase {
		out = strings.ToLower(out)
		ops = append(ops, "lowercase")
	}

	if cfg.StripSpecialChars {
		out = specialCharsPattern.ReplaceAllString(out, "")
		out = normaliseWhitespace(out)
		ops = append(ops, "strip_special_chars")
	}

	if cfg.UserHook != nil {
		out = cfg.UserHook(out)
		ops = append(ops, "user_hook")
	}

	truncated := false
	if cfg.MaxCharacters > 0 || cfg.MaxTokens > 0 {
		var wasTruncated bool
		out, wasTruncated = truncate(out, cfg)
		if wasTruncated {
			truncated = true
			ops = append(ops, "truncate")
		}
	}

	estTokens := (len([]rune(out)) + CharsPerTokenEstimate - 1) / CharsPerTokenEstimate

	return Result{
		Processed:         out,
		OriginalLength:    originalLen,
		ProcessedLength:   len([]rune(out)),
		EstTokens:         estTokens,
		Truncated:         truncated,
		OperationsApplied: ops,
	}, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// stripMarkdown removes common Markdown constructs, leaving their text
// content (for links/images) or nothing (for structural markers).
func stripMarkdown(s string) string {
	s = mdCodeBlockPattern.ReplaceAllString(s, " ")
	s = mdImagePattern.ReplaceAllString(s, "$1")
	s = mdLinkPattern.ReplaceAllString(s, "$1")
	s = mdCodeSpanPattern.ReplaceAllString(s, "$1")
	s = mdHeaderPattern.ReplaceAllString(s, "")
	s = mdBlockquotePattern.ReplaceAllString(s, "")
	s = mdRulePattern.ReplaceAllString(s, "")
	s = mdListPattern.ReplaceAllString(s, "")
	s = mdBoldItalicPattern.ReplaceAllStringFunc(s, func(m string) string {
		return mdBoldItalicPattern.ReplaceAllString(m, "$2$5$8")
	})
	// Table separator rows (---|---) disappear; remaining pipes become spaces.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if mdTableSepPattern.MatchString(line) {
			lines[i] = ""
			continue
		}
		if mdTablePipePattern.MatchString(line) {
			lines[i] = mdTablePipePattern.ReplaceAllString(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}

func normaliseWhitespace(s string) string {
	s = whitespaceRunPattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// truncate applies the configured budget and strategy. Word-boundary
// preservation never extends the result beyond the character budget.
func truncate(s string, cfg Config) (string, bool) {
	runes := []rune(s)
	maxChars := cfg.MaxCharacters
	if cfg.MaxTokens > 0 {
		byTokens := cfg.MaxTokens * CharsPerTokenEstimate
		if maxChars <= 0 || byTokens < maxChars {
			maxChars = byTokens
		}
	}
	if maxChars <= 0 || len(runes) <= maxChars {
		return s, false
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = TruncateTail
	}

	indicator := []rune(cfg.TruncationIndicator)

	switch strategy {
	case TruncateHead:
		budget := maxChars - len(indicator)
		if budget < 0 {
			budget = 0
		}
		start := len(runes) - budget
		kept := runes[start:]
		if cfg.PreserveWordBoundary {
			kept = trimToWordBoundary(kept, false)
		}
		return string(indicator) + string(kept), true

	case TruncateMiddle:
		budget := maxChars - len(indicator)
		if budget < 0 {
			budget = 0
		}
		prefixLen := budget / 2
		suffixLen := budget - prefixLen
		prefix := runes[:prefixLen]
		suffix := runes[len(runes)-suffixLen:]
		if cfg.PreserveWordBoundary {
			prefix = trimToWordBoundary(prefix, true)
			suffix = trimToWordBoundary(suffix, false)
		}
		return string(prefix) + string(indicator) + string(suffix), true

	default: // tail
		budget := maxChars - len(indicator)
		if budget < 0 {
			budget = 0
		}
		kept := runes[:budget]
		if cfg.PreserveWordBoundary {
			kept = trimToWordBoundary(kept, true)
		}
		return string(kept) + string(indicator), true
	}
}

// trimToWordBoundary trims partial trailing (fromStart=true) or leading
// (fromStart=false) words, never extending the slice.
func trimToWordBoundary(runes []rune, fromStart bool) []rune {
	if len(runes) == 0 {
		return runes
	}
	if fromStart {
		for i := len(runes) - 1; i >= 0; i-- {
			if unicode.IsSpace(runes[i]) {
				return runes[:i]
			}
		}
		return runes
	}
	for i := 0; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return runes[i+1:]
		}
	}
	return runes
}
