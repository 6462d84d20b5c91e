package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLexicon(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The reevo API uses JWT.", "The Reee Vo A P I uses J W T."},
		{"Open the CRM via HTTP and the URL", "Open the C R M via H T T P and the U R L"},
		{"Run SQL on LiveKit with ai", "Run sequel on Live Kit with A I"},
		{"RAPID apis and MAIL stay", "RAPID apis and MAIL stay"},
	}
	lex := DefaultLexicon()
	for _, tc := range cases {
		assert.Equal(t, tc.want, lex.Apply(tc.in))
	}
}

func TestNilLexiconIsNoop(t *testing.T) {
	var lex *Lexicon
	assert.Equal(t, "API", lex.Apply("API"))
}

func TestNewLexiconSkipsEmptyTerms(t *testing.T) {
	lex := NewLexicon([]Pronunciation{{Term: "", Spoken: "x"}, {Term: "k8s", Spoken: "kubernetes"}})
	assert.Equal(t, "deploy to kubernetes", lex.Apply("deploy to K8S"))
}
