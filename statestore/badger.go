package statestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/synchrony-labs/synchrony/ledger"
)

var (
	prefixState  = []byte("s/")
	prefixRecord = []byte("r/")
)

// Badger store. Values are float64 bits, big-endian. Apply is one badger transaction
type Badger struct {
	db *badger.DB
	// commits are serialized so that badger transaction conflicts do not occur
	mutex sync.Mutex
}

func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open badger state store at '%s': %w", path, err)
	}
	return &Badger{db: db}, nil
}

func stateKey(k ledger.Key) []byte {
	return append(append([]byte(nil), prefixState...), k...)
}

func recordKey(id string) []byte {
	return append(append([]byte(nil), prefixRecord...), id...)
}

func encodeValue(v float64) []byte {
	var ret [8]byte
	binary.BigEndian.PutUint64(ret[:], math.Float64bits(v))
	return ret[:]
}

func decodeValue(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("wrong value length %d", len(data))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

func readValue(txn *badger.Txn, k ledger.Key) (float64, error) {
	item, err := txn.Get(stateKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return decodeValue(data)
}

func (b *Badger) Read(_ context.Context, k ledger.Key) (ret float64, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		ret, err = readValue(txn, k)
		return err
	})
	return
}

func (b *Badger) Apply(ctx context.Context, deltas ledger.DeltaSet, rec *Record) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, d := range deltas {
			stored, err := readValue(txn, d.Key)
			if err != nil {
				return err
			}
			if !ledger.ValuesEqual(stored, d.Before) {
				return staleError(d.Key, stored, d.Before)
			}
			if err = txn.Set(stateKey(d.Key), encodeValue(d.After)); err != nil {
				return err
			}
		}
		if rec == nil {
			return nil
		}
		return txn.Set(recordKey(rec.ID), rec.Bytes())
	})
}

func (b *Badger) Record(_ context.Context, id string) (ret *Record, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return recordNotFound(id)
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ret, err = RecordFromBytes(data)
		return err
	})
	return
}

func (b *Badger) Snapshot(_ context.Context) (ledger.State, error) {
	ret := make(ledger.State)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefixState); it.ValidForPrefix(prefixState); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			v, err := decodeValue(data)
			if err != nil {
				return err
			}
			ret[ledger.Key(item.Key()[len(prefixState):])] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// RunValueLogGC runs garbage collection of the value log
func (b *Badger) RunValueLogGC(discardRatio float64) error {
	return b.db.RunValueLogGC(discardRatio)
}

func (b *Badger) Close() error {
	return b.db.Close()
}
