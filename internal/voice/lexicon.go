package voice

import "regexp"

// Pronunciation maps a written term to how the synthesizer should say it.
type Pronunciation struct {
	Term   string
	Spoken string
}

var defaultPronunciations = []Pronunciation{
	{"Reevo", "Reee Vo"},
	{"API", "A P I"},
	{"CRM", "C R M"},
	{"LiveKit", "Live Kit"},
	{"JWT", "J W T"},
	{"HTTP", "H T T P"},
	{"URL", "U R L"},
	{"SQL", "sequel"},
	{"AI", "A I"},
}

type lexiconRule struct {
	pattern *regexp.Regexp
	spoken  string
}

// Lexicon rewrites whole-word terms, case-insensitively, in declaration order.
type Lexicon struct {
	rules []lexiconRule
}

func NewLexicon(entries []Pronunciation) *Lexicon {
	l := &Lexicon{rules: make([]lexiconRule, 0, len(entries))}
	for _, e := range entries {
		if e.Term == "" {
			continue
		}
		l.rules = append(l.rules, lexiconRule{
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.Term) + `\b`),
			spoken:  e.Spoken,
		})
	}
	return l
}

func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultPronunciations)
}

func (l *Lexicon) Apply(text string) string {
	if l == nil {
		return text
	}
	for _, r := range l.rules {
		text = r.pattern.ReplaceAllLiteralString(text, r.spoken)
	}
	return text
}
