package node

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/txstore"
)

const badgerGCPeriod = 5 * time.Minute

func (n *Node) storeType() string {
	typ := viper.GetString(global.ConfigKeyStoreType)
	if typ == "" {
		typ = statestore.TypeMemory
	}
	return typ
}

// openStateStore opens the ledger state store of the configured type
func (n *Node) openStateStore() error {
	path := viper.GetString(global.ConfigKeyStorePath)
	if path == "" {
		path = global.StateStoreDBName
	}
	typ := n.storeType()
	store, err := statestore.Open(typ, path)
	if err != nil {
		return err
	}
	n.stateStore = store
	if typ == statestore.TypeMemory {
		n.Log().Infof("state store is in memory")
		return nil
	}
	n.Log().Infof("opened %s state store '%s'", typ, path)

	if bdb, ok := store.(*statestore.Badger); ok {
		n.runInBackground(badgerGCPeriod, func() {
			n.databaseGC(bdb)
		})
	}
	return nil
}

func (n *Node) openTxStore() error {
	switch viper.GetString(global.ConfigKeyTxStoreType) {
	case "dummy", "":
		n.Log().Infof("transaction store is 'dummy'")
		n.txStore = txstore.NewDummyTxStore()
	case "db":
		path := viper.GetString(global.ConfigKeyTxStorePath)
		if path == "" {
			path = global.TxStoreDBName
		}
		store, err := txstore.OpenSimpleTxStore(path)
		if err != nil {
			return err
		}
		n.txStore = store
		n.Log().Infof("opened DB '%s' as transaction store", path)
	default:
		return errors.New("transaction store type must be one of: db | dummy")
	}
	return nil
}

func (n *Node) closeStores() error {
	var err error
	if n.txStore != nil {
		err = errors.Join(err, n.txStore.Close())
	}
	if n.stateStore != nil {
		err = errors.Join(err, n.stateStore.Close())
	}
	return err
}

func (n *Node) databaseGC(bdb *statestore.Badger) {
	start := time.Now()
	err := bdb.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		err = nil
	}
	n.Log().Infof("----- Badger DB GC (%v): %v", time.Since(start), err)
}

// runInBackground repeats fun with the period until the node stops
func (n *Node) runInBackground(period time.Duration, fun func()) {
	n.bgWG.Add(1)
	go func() {
		defer n.bgWG.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-n.ctx.Done():
				return
			case <-ticker.C:
				fun()
			}
		}
	}()
}
