package set

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		s := New("a", "b")
		require.True(t, s.Contains("a"))
		require.False(t, s.Contains("c"))
		s.Insert("c").Remove("a")
		require.EqualValues(t, []string{"b", "c"}, Sorted(s))
	})
	t.Run("nil safe", func(t *testing.T) {
		var s Set[int]
		require.False(t, s.Contains(1))
		require.True(t, s.IsEmpty())
		require.Nil(t, s.Clone())
		require.False(t, s.Intersects(New(1)))
	})
	t.Run("union intersect", func(t *testing.T) {
		s1 := New(1, 2, 3)
		s2 := New(3, 4)
		require.EqualValues(t, []int{1, 2, 3, 4}, Sorted(Union(s1, s2)))
		require.EqualValues(t, []int{3}, Sorted(Intersect(s1, s2)))
		require.True(t, s1.Intersects(s2))
		require.False(t, s1.Intersects(New(7)))
		require.EqualValues(t, 0, len(Intersect[int]()))
	})
	t.Run("clone is independent", func(t *testing.T) {
		s1 := New(1)
		s2 := s1.Clone().Insert(2)
		require.False(t, s1.Contains(2))
		require.True(t, s2.Contains(1))
	})
}
