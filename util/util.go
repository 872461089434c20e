package util

import (
	"strings"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func ForEachUniquePair[T any](sl []T, fun func(a1, a2 T) bool) {
	for i, r1 := range sl {
		for _, r2 := range sl[i+1:] {
			if !fun(r1, r2) {
				return
			}
		}
	}
}

// SortedKeys returns keys of the map in ascending order
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	ret := maps.Keys(m)
	slices.Sort(ret)
	return ret
}

func CloneMapShallow[K comparable, V any](m map[K]V) map[K]V {
	ret := make(map[K]V, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

func FilterSlice[T any](slice []T, filter func(el T) bool) []T {
	ret := slice[:0]
	for _, el := range slice {
		if filter(el) {
			ret = append(ret, el)
		}
	}
	var nilElem T
	for i := len(ret); i < len(slice); i++ {
		slice[i] = nilElem
	}
	return ret
}

func FindFirst[T any](slice []T, cond func(el T) bool) (T, bool) {
	for _, el := range slice {
		if cond(el) {
			return el, true
		}
	}
	var nilElem T
	return nilElem, false
}

var prn = message.NewPrinter(language.English)

// GoTh formats number with '_' as thousands separator
func GoTh[T constraints.Integer](v T) string {
	return strings.Replace(prn.Sprintf("%d", v), ",", "_", -1)
}

// GoThFloat same as GoTh for amounts with fractional part
func GoThFloat(v float64, decimals int) string {
	return strings.Replace(prn.Sprintf("%.*f", decimals, v), ",", "_", -1)
}
