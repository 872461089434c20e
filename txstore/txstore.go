package txstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/synchrony-labs/synchrony/ledger"
)

// Store archives submitted batch documents by content digest
type Store interface {
	PersistDocument(doc *ledger.Document) (string, error)
	GetDocument(digest string) (*ledger.Document, error)
	Close() error
}

type SimpleTxStore struct {
	db *badger.DB
}

type DummyTxStore struct{}

func OpenSimpleTxStore(path string) (*SimpleTxStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open transaction store at '%s': %w", path, err)
	}
	return &SimpleTxStore{db: db}, nil
}

// PersistDocument stores canonical encoding of the document. Returns its digest
func (s *SimpleTxStore) PersistDocument(doc *ledger.Document) (string, error) {
	digest, data, err := ledger.DocumentDigest(doc)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(digest), data)
	})
	return digest, err
}

func (s *SimpleTxStore) GetDocument(digest string) (ret *ledger.Document, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(digest))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("batch document %s not found", digest)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ret, err = ledger.DecodeDocument(val)
			return err
		})
	})
	return
}

func (s *SimpleTxStore) Close() error {
	return s.db.Close()
}

func NewDummyTxStore() DummyTxStore {
	return DummyTxStore{}
}

// PersistDocument only computes the digest
func (d DummyTxStore) PersistDocument(doc *ledger.Document) (string, error) {
	digest, _, err := ledger.DocumentDigest(doc)
	return digest, err
}

func (d DummyTxStore) GetDocument(digest string) (*ledger.Document, error) {
	return nil, fmt.Errorf("dummy transaction store does not keep batch document %s", digest)
}

func (d DummyTxStore) Close() error {
	return nil
}
