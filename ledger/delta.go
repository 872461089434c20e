package ledger

import (
	"fmt"
	"sort"
)

// Delta is the change of one key made by a transaction or a batch
type Delta struct {
	Key    Key     `yaml:"key" json:"key"`
	Before float64 `yaml:"before" json:"before"`
	After  float64 `yaml:"after" json:"after"`
}

func (d Delta) Change() float64 {
	return d.After - d.Before
}

func (d Delta) String() string {
	return fmt.Sprintf("%s: %s -> %s", d.Key, FormatValue(d.Before), FormatValue(d.After))
}

// DeltaSet key-sorted deltas with unique keys
type DeltaSet []Delta

// MergeDeltas chains deltas given in serial order into a DeltaSet.
// When the same key is changed more than once, every delta must start where the previous one ended
func MergeDeltas(lists ...[]Delta) (DeltaSet, error) {
	byKey := make(map[Key]Delta)
	for _, lst := range lists {
		for _, d := range lst {
			prev, found := byKey[d.Key]
			if !found {
				byKey[d.Key] = d
				continue
			}
			if !ValuesEqual(prev.After, d.Before) {
				return nil, fmt.Errorf("broken delta chain on key '%s': previous value %s, next delta starts at %s",
					d.Key, FormatValue(prev.After), FormatValue(d.Before))
			}
			prev.After = d.After
			byKey[d.Key] = prev
		}
	}
	ret := make(DeltaSet, 0, len(byKey))
	for _, d := range byKey {
		ret = append(ret, d)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Key < ret[j].Key
	})
	return ret, nil
}

func (ds DeltaSet) Keys() []Key {
	ret := make([]Key, len(ds))
	for i := range ds {
		ret[i] = ds[i].Key
	}
	return ret
}

// NetChange sum of changes of keys which pass the filter
func (ds DeltaSet) NetChange(filter func(k Key) bool) float64 {
	ret := 0.0
	for _, d := range ds {
		if filter == nil || filter(d.Key) {
			ret += d.Change()
		}
	}
	return ret
}

// Effective drops deltas which do not change the value
func (ds DeltaSet) Effective() DeltaSet {
	ret := make(DeltaSet, 0, len(ds))
	for _, d := range ds {
		if !ValuesEqual(d.Before, d.After) {
			ret = append(ret, d)
		}
	}
	return ret
}
