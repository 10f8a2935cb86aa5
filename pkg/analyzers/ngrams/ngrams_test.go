package ngrams

import (
	"testing"

	"github.com/dukex/mangotango/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "it", "s_ok", "42"}, Tokenize("Hello, World!  it's_ok 42"))
	assert.Equal(t, []string{"ça", "va"}, Tokenize("Ça va?"))
	assert.Empty(t, Tokenize(" ... "))
}

func TestNgrams(t *testing.T) {
	tokens := []string{"a", "b", "c", "d"}

	assert.Equal(t, [][]string{
		{"a", "b", "c"},
		{"a", "b", "c", "d"},
		{"b", "c", "d"},
	}, Ngrams(tokens, MinN, MaxN))

	assert.Empty(t, Ngrams([]string{"a", "b"}, MinN, MaxN))
}

func TestExtractor_AssignsIDsInOrderOfAppearance(t *testing.T) {
	e := newExtractor()
	e.add("m1", "a b c a b c")
	e.add("m2", "A. B, C!")

	defs := e.definitions()
	require.Len(t, defs, 8)
	assert.Equal(t, table.Row{"0", "a b c", int64(3)}, defs[0])
	assert.Equal(t, table.Row{"1", "a b c a", int64(4)}, defs[1])
	assert.Equal(t, table.Row{"2", "a b c a b", int64(5)}, defs[2])

	counts := e.messageNgrams()
	require.Len(t, counts, 9)
	assert.Equal(t, table.Row{"m1", "0", int64(2)}, counts[0])
	assert.Equal(t, table.Row{"m1", "1", int64(1)}, counts[1])
	assert.Equal(t, table.Row{"m2", "0", int64(1)}, counts[8])
}

func TestSummarize(t *testing.T) {
	e := newExtractor()
	e.add("m1", "a b c a b c")
	e.add("m2", "a b c")
	e.add("m3", "a b c")

	authors := []table.Row{{"ann", "m1"}, {"bob", "m2"}, {"ann", "m3"}}
	rows := summarize(e.messageNgrams(), e.definitions(), authors)

	require.Len(t, rows, 8)
	assert.Equal(t, table.Row{"0", "a b c", int64(3), int64(4), int64(2)}, rows[0])
	assert.Equal(t, table.Row{"1", "a b c a", int64(4), int64(1), int64(1)}, rows[1])

	for _, row := range rows[1:] {
		assert.Equal(t, int64(1), row[3])
	}
}

func TestSummarize_SkipsUnknownNgrams(t *testing.T) {
	rows := summarize(
		[]table.Row{{"m1", "99", int64(4)}},
		[]table.Row{{"0", "a b c", int64(3)}},
		nil,
	)

	assert.Empty(t, rows)
}
