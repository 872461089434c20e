package set

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

type Set[K comparable] map[K]struct{}

func New[K comparable](elems ...K) Set[K] {
	ret := make(Set[K])
	ret.Insert(elems...)
	return ret
}

func (s Set[K]) Insert(elems ...K) Set[K] {
	for _, el := range elems {
		s[el] = struct{}{}
	}
	return s
}

func (s Set[K]) Remove(elems ...K) Set[K] {
	for _, el := range elems {
		delete(s, el)
	}
	return s
}

func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}

// ForEach nil-safe
func (s Set[K]) ForEach(fun func(el K) bool) {
	for el := range s {
		if !fun(el) {
			return
		}
	}
}

func (s Set[K]) AddAll(another Set[K]) Set[K] {
	for el := range another {
		s[el] = struct{}{}
	}
	return s
}

func (s Set[K]) Clone() Set[K] {
	if s == nil {
		return nil
	}
	return New[K]().AddAll(s)
}

// Contains nil-safe
func (s Set[K]) Contains(el K) bool {
	if len(s) == 0 {
		return false
	}
	_, contains := s[el]
	return contains
}

// Intersects true if sets have at least one common element. Nil-safe
func (s Set[K]) Intersects(another Set[K]) bool {
	small, large := s, another
	if len(small) > len(large) {
		small, large = large, small
	}
	for el := range small {
		if large.Contains(el) {
			return true
		}
	}
	return false
}

// AsList is non-deterministic
func (s Set[K]) AsList() []K {
	if len(s) == 0 {
		return nil
	}
	ret := make([]K, 0, len(s))
	for el := range s {
		ret = append(ret, el)
	}
	return ret
}

func Union[K comparable](sets ...Set[K]) Set[K] {
	ret := New[K]()
	for _, s := range sets {
		ret.AddAll(s)
	}
	return ret
}

func Intersect[K comparable](sets ...Set[K]) Set[K] {
	ret := New[K]()
	if len(sets) == 0 {
		return ret
	}
	for el := range sets[0] {
		inAll := true
		for _, s := range sets[1:] {
			if !s.Contains(el) {
				inAll = false
				break
			}
		}
		if inAll {
			ret.Insert(el)
		}
	}
	return ret
}

// Sorted deterministic list of elements
func Sorted[K constraints.Ordered](s Set[K]) []K {
	ret := s.AsList()
	slices.Sort(ret)
	return ret
}

func (s Set[K]) Equal(another Set[K]) bool {
	if len(s) != len(another) {
		return false
	}
	for el := range s {
		if !another.Contains(el) {
			return false
		}
	}
	return true
}
