package summarizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	require.Nil(t, SplitText("   \n ", 10))
	require.Equal(t, []string{"short"}, SplitText(" short ", 10))
	require.Equal(t, []string{"aa\nbb", "cc"}, SplitText("aa\nbb\ncc", 5))
	require.Equal(t, []string{"hello", "world", "again"}, SplitText("hello world again", 6))

	long := strings.Repeat("é", 25)
	chunks := SplitText(long, 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	require.Equal(t, long, strings.Join(chunks, ""))
}

func TestGroupByLen(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"aa\n\nbb", "cc"}, groupByLen([]string{"aa", "bb", "cc"}, 4))
	require.Equal(t, []string{"toolong", "x"}, groupByLen([]string{"toolong", "x"}, 3))
}
