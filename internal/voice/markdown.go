package voice

import (
	"regexp"
	"strings"
)

var (
	mdHeaderPattern      = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	mdBoldStarPattern    = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	mdItalicStarPattern  = regexp.MustCompile(`\*([^*\n]+)\*`)
	mdBoldUnderPattern   = regexp.MustCompile(`(^|[^\pL\pN_])__([^_\n]+)__([^\pL\pN_]|$)`)
	mdItalicUnderPattern = regexp.MustCompile(`(^|[^\pL\pN_])_([^_\n]+)_([^\pL\pN_]|$)`)
	mdFencedCodePattern  = regexp.MustCompile("(?s)```.*?```")
	mdInlineCodePattern  = regexp.MustCompile("`([^`\n]+)`")
	mdBulletPattern      = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	mdNumberedPattern    = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	mdLinkPattern        = regexp.MustCompile(`\[([^\]\n]+)\]\([^)\n]+\)`)
	mdBlankLinesPattern  = regexp.MustCompile(`\n{3,}`)
	mdSpaceRunPattern    = regexp.MustCompile(` {2,}`)
	mdDividerPattern     = regexp.MustCompile(`(?m)^[-=*]{3,}$`)
)

type markdownRule struct {
	name  string
	apply func(string) string
}

// markdownRules run in order; later rules assume earlier ones already ran.
// Underscore emphasis is only recognised at word boundaries so identifiers
// like user_id_value survive.
var markdownRules = []markdownRule{
	{"line endings", func(s string) string {
		return strings.ReplaceAll(s, "\r\n", "\n")
	}},
	{"headers", func(s string) string {
		return mdHeaderPattern.ReplaceAllString(s, "")
	}},
	{"emphasis", func(s string) string {
		s = mdBoldStarPattern.ReplaceAllString(s, "$1")
		s = mdItalicStarPattern.ReplaceAllString(s, "$1")
		s = mdBoldUnderPattern.ReplaceAllString(s, "${1}${2}${3}")
		return mdItalicUnderPattern.ReplaceAllString(s, "${1}${2}${3}")
	}},
	{"code", func(s string) string {
		s = mdFencedCodePattern.ReplaceAllString(s, "")
		return mdInlineCodePattern.ReplaceAllString(s, "$1")
	}},
	{"lists", func(s string) string {
		s = mdBulletPattern.ReplaceAllString(s, "")
		return mdNumberedPattern.ReplaceAllString(s, "")
	}},
	{"links", func(s string) string {
		return mdLinkPattern.ReplaceAllString(s, "$1")
	}},
	{"whitespace", func(s string) string {
		s = mdBlankLinesPattern.ReplaceAllString(s, "\n\n")
		return mdSpaceRunPattern.ReplaceAllString(s, " ")
	}},
	{"dividers", func(s string) string {
		return mdDividerPattern.ReplaceAllString(s, "")
	}},
	{"trim", strings.TrimSpace},
}

func normalizeMarkdownPass(s string) string {
	for _, r := range markdownRules {
		s = r.apply(s)
	}
	return s
}

// NormalizeMarkdown turns markdown into plain text that reads well when spoken.
//
// A single pass can expose new syntax (removing a divider can leave three
// newlines in a row), so passes repeat until the text stops changing. Every
// rule only ever shortens its input, which bounds the loop and makes the
// result idempotent.
func NormalizeMarkdown(text string) string {
	out := text
	for {
		next := normalizeMarkdownPass(out)
		if next == out {
			return out
		}
		out = next
	}
}
