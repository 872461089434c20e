package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForEachUniquePair(t *testing.T) {
	t.Run("ints", func(t *testing.T) {
		var pairs [][2]int
		ForEachUniquePair([]int{0, 1, 2, 3}, func(a1, a2 int) bool {
			pairs = append(pairs, [2]int{a1, a2})
			return true
		})
		require.EqualValues(t, [][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}, pairs)
	})
	t.Run("nil", func(t *testing.T) {
		count := 0
		ForEachUniquePair([]int(nil), func(_, _ int) bool {
			count++
			return true
		})
		require.EqualValues(t, 0, count)
	})
	t.Run("stop", func(t *testing.T) {
		count := 0
		ForEachUniquePair([]string{"a", "b", "c"}, func(_, _ string) bool {
			count++
			return false
		})
		require.EqualValues(t, 1, count)
	})
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"c": 3, "a": 1, "b": 2}
	require.EqualValues(t, []string{"a", "b", "c"}, SortedKeys(m))
	require.EqualValues(t, 0, len(SortedKeys(map[int]bool{})))
}

func TestGoTh(t *testing.T) {
	require.EqualValues(t, "1_000_000", GoTh(1000000))
	require.EqualValues(t, "999", GoTh(uint64(999)))
	require.EqualValues(t, "1_234.50", GoThFloat(1234.5, 2))
}

func TestFilterSlice(t *testing.T) {
	ret := FilterSlice([]int{1, 2, 3, 4, 5}, func(el int) bool { return el%2 == 1 })
	require.EqualValues(t, []int{1, 3, 5}, ret)
}
