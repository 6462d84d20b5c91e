package voice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRechunk(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		group int
		want  []string
	}{
		{"seven words by five", "one two three four five six seven", 5, []string{"one two three four five ", "six seven"}},
		{"exact multiple", "a b c d", 2, []string{"a b ", "c d"}},
		{"single word", "hello", 5, []string{"hello"}},
		{"non-positive group uses default", "1 2 3 4 5 6", 0, []string{"1 2 3 4 5 ", "6"}},
		{"newlines stay inside words", "Summary:\nDate: Sept 10", 2, []string{"Summary:\nDate: Sept ", "10"}},
		{"empty", "", 5, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Rechunk(tc.text, tc.group))
		})
	}
}

func TestPropertyRechunkRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z0-9,.:'é]{1,10}`), 1, 60).Draw(t, "words")
		group := rapid.IntRange(1, 12).Draw(t, "group")
		text := strings.Join(words, " ")

		chunks := Rechunk(text, group)
		require.Equal(t, text, strings.Join(chunks, ""))
		require.Len(t, chunks, (len(words)+group-1)/group)
		for i, c := range chunks {
			last := i == len(chunks)-1
			require.Equal(t, !last, strings.HasSuffix(c, " "), "chunk %d = %q", i, c)
			require.LessOrEqual(t, len(strings.Fields(c)), group)
		}
	})
}
