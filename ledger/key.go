package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/synchrony-labs/synchrony/util"
)

// Epsilon is the tolerance of all float comparisons over ledger values
const Epsilon = 1e-10

// Key names one field of the account state: <account>.<field>
type Key string

func (k Key) Account() string {
	if i := strings.LastIndexByte(string(k), '.'); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

func (k Key) Field() string {
	if i := strings.LastIndexByte(string(k), '.'); i >= 0 {
		return string(k[i+1:])
	}
	return string(k)
}

type (
	// Reader is read access to the account state. Absent keys read as 0
	Reader interface {
		Value(k Key) (float64, error)
	}

	// ReaderFunc adapts a function to Reader
	ReaderFunc func(k Key) (float64, error)

	// State is a plain in-memory account state
	State map[Key]float64
)

func (f ReaderFunc) Value(k Key) (float64, error) {
	return f(k)
}

func (s State) Value(k Key) (float64, error) {
	return s[k], nil
}

func (s State) Get(k Key) float64 {
	return s[k]
}

func (s State) Clone() State {
	return util.CloneMapShallow(s)
}

// Keys sorted
func (s State) Keys() []Key {
	return util.SortedKeys(s)
}

// Sum of values of keys which pass the filter. Nil filter means all keys
func (s State) Sum(filter func(k Key) bool) float64 {
	ret := 0.0
	for _, k := range s.Keys() {
		if filter == nil || filter(k) {
			ret += s[k]
		}
	}
	return ret
}

// Apply overwrites values with the After side of deltas
func (s State) Apply(deltas ...Delta) State {
	for _, d := range deltas {
		s[d.Key] = d.After
	}
	return s
}

// EqualWithin compares values of the given keys within Epsilon. Returns the first differing key
func (s State) EqualWithin(another State, keys []Key) (Key, bool) {
	for _, k := range keys {
		if !ValuesEqual(s[k], another[k]) {
			return k, false
		}
	}
	return "", true
}

func (s State) String() string {
	var buf strings.Builder
	for i, k := range s.Keys() {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%s", k, FormatValue(s[k]))
	}
	return buf.String()
}

func ValuesEqual(v1, v2 float64) bool {
	return math.Abs(v1-v2) <= Epsilon
}

func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// Overlay reads from the state first and falls back to the reader
func Overlay(s State, r Reader) Reader {
	return ReaderFunc(func(k Key) (float64, error) {
		if v, ok := s[k]; ok {
			return v, nil
		}
		if r == nil {
			return 0, nil
		}
		return r.Value(k)
	})
}

// IsConserved true if the field of the key equals one of the conserved field names or ends with "_"+name
func IsConserved(k Key, fields []string) bool {
	f := k.Field()
	for _, name := range fields {
		if f == name || strings.HasSuffix(f, "_"+name) {
			return true
		}
	}
	return false
}
