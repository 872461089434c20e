package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synchrony-labs/synchrony/ledger"
	"gopkg.in/yaml.v2"
)

var (
	// ErrStaleState the stored value differs from the value the delta was computed from
	ErrStaleState = errors.New("stale state")
	ErrNotFound   = errors.New("not found")
	ErrClosed     = errors.New("store is closed")
)

type (
	// Store is the ledger state store. Apply is the only write: all deltas and the batch record
	// go in together or not at all
	Store interface {
		Read(ctx context.Context, k ledger.Key) (float64, error)
		Apply(ctx context.Context, deltas ledger.DeltaSet, rec *Record) error
		Record(ctx context.Context, id string) (*Record, error)
		Snapshot(ctx context.Context) (ledger.State, error)
		Close() error
	}

	// Record of the committed batch
	Record struct {
		ID          string    `yaml:"id"`
		Digest      string    `yaml:"digest,omitempty"`
		Mode        string    `yaml:"mode"`
		Committed   []string  `yaml:"committed"`
		Excluded    []string  `yaml:"excluded,omitempty"`
		Witness     []string  `yaml:"witness,omitempty"`
		Certificate string    `yaml:"certificate,omitempty"`
		Deltas      int       `yaml:"deltas"`
		NetChange   float64   `yaml:"net_change"`
		Time        time.Time `yaml:"time"`
	}
)

const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeSQLite = "sqlite"
)

// Open opens the store of the given type. Path is ignored by the memory store
func Open(typ, path string) (Store, error) {
	switch typ {
	case TypeMemory, "":
		return NewMemory(), nil
	case TypeBadger:
		return OpenBadger(path)
	case TypeSQLite:
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown state store type '%s'", typ)
}

func (r *Record) Bytes() []byte {
	ret, err := yaml.Marshal(r)
	if err != nil {
		panic(err)
	}
	return ret
}

func RecordFromBytes(data []byte) (*Record, error) {
	ret := &Record{}
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("wrong batch record: %w", err)
	}
	return ret, nil
}

func (r *Record) String() string {
	return string(r.Bytes())
}

// Reader adapts the store to ledger.Reader in the context
func Reader(ctx context.Context, s Store) ledger.Reader {
	return ledger.ReaderFunc(func(k ledger.Key) (float64, error) {
		return s.Read(ctx, k)
	})
}

// Load writes genesis values to the store as one batch with the given record
func Load(ctx context.Context, s Store, values ledger.State, rec *Record) error {
	current := make(ledger.State, len(values))
	for _, k := range values.Keys() {
		v, err := s.Read(ctx, k)
		if err != nil {
			return err
		}
		current[k] = v
	}
	deltas := make(ledger.DeltaSet, 0, len(values))
	for _, k := range values.Keys() {
		deltas = append(deltas, ledger.Delta{Key: k, Before: current[k], After: values[k]})
	}
	return s.Apply(ctx, deltas, rec)
}

func staleError(k ledger.Key, stored, before float64) error {
	return fmt.Errorf("%w: key '%s' is %s in the store, delta expects %s",
		ErrStaleState, k, ledger.FormatValue(stored), ledger.FormatValue(before))
}

func recordNotFound(id string) error {
	return fmt.Errorf("%w: batch record '%s'", ErrNotFound, id)
}
