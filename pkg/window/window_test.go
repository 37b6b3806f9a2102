package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlide_Counts(t *testing.T) {
	for l := 0; l <= 8; l++ {
		for n := 1; n <= 5; n++ {
			s := make([]int, l)
			for i := range s {
				s[i] = i
			}

			got := Collect(s, n)
			if l < n {
				assert.Empty(t, got, "len=%d n=%d", l, n)
				continue
			}

			require.Len(t, got, l-n+1, "len=%d n=%d", l, n)
			for i, tr := range got {
				assert.Equal(t, i, tr.Offset)
				assert.Len(t, tr.Window, n)
				assert.Equal(t, l, len(tr.Head)+len(tr.Window)+len(tr.Tail))
			}
		}
	}
}

func TestSlide_FiveEventsWindowThree(t *testing.T) {
	s := []string{"a", "b", "c", "d", "e"}

	got := Collect(s, 3)

	require.Len(t, got, 3)
	assert.Equal(t, Triple[string]{Offset: 0, Head: []string{}, Window: []string{"a", "b", "c"}, Tail: []string{"d", "e"}}, got[0])
	assert.Equal(t, Triple[string]{Offset: 1, Head: []string{"a"}, Window: []string{"b", "c", "d"}, Tail: []string{"e"}}, got[1])
	assert.Equal(t, Triple[string]{Offset: 2, Head: []string{"a", "b"}, Window: []string{"c", "d", "e"}, Tail: []string{}}, got[2])

	for _, tr := range got {
		var joined []string
		joined = append(joined, tr.Head...)
		joined = append(joined, tr.Window...)
		joined = append(joined, tr.Tail...)
		assert.Equal(t, s, joined)
	}
}

func TestSlide_Restartable(t *testing.T) {
	seq := Slide([]int{1, 2, 3}, 2)

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 2, first)
	assert.Equal(t, first, second)
}

func TestSlide_EarlyBreak(t *testing.T) {
	seen := 0
	for tr := range Slide([]int{1, 2, 3, 4}, 1) {
		seen++
		if tr.Offset == 1 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestSlide_NonPositiveSize(t *testing.T) {
	assert.Empty(t, Collect([]int{1, 2}, 0))
	assert.Empty(t, Collect([]int{1, 2}, -1))
}
