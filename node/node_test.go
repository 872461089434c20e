package node

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/synchrony-labs/synchrony/batch"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/statestore"
)

func TestNode(t *testing.T) {
	for _, typ := range []string{statestore.TypeMemory, statestore.TypeBadger, statestore.TypeSQLite} {
		t.Run(typ, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			dir := t.TempDir()
			viper.Set(global.ConfigKeyLoggerOutput, "stderr")
			viper.Set(global.ConfigKeyStoreType, typ)
			viper.Set(global.ConfigKeyStorePath, filepath.Join(dir, "state"))
			viper.Set(global.ConfigKeyTxStoreType, "db")
			viper.Set(global.ConfigKeyTxStorePath, filepath.Join(dir, "txstore"))
			viper.Set(global.ConfigKeyWorkers, 2)

			n := New(context.Background())
			err := n.Start(batch.WithInitialState(ledger.State{"alice.balance": 10}))
			require.NoError(t, err)
			require.EqualValues(t, 2, n.Processor().Config().Workers)

			res := n.Processor().ExecuteBatch(context.Background(), []*ledger.Transaction{
				ledger.Transfer("t1", "alice", "bob", 4),
			})
			require.True(t, res.Success, res.String())

			v, err := n.StateStore().Read(context.Background(), "bob.balance")
			require.NoError(t, err)
			require.EqualValues(t, 4, v)

			doc, err := n.TxStore().GetDocument(res.Digest)
			require.NoError(t, err)
			require.EqualValues(t, 1, len(doc.Transactions))

			require.NoError(t, n.Stop())
			require.NoError(t, n.Stop())
		})
	}
	t.Run("trace tags reach components", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		viper.Set(global.ConfigKeyLoggerOutput, "stderr")
		viper.Set(global.ConfigKeyStoreType, statestore.TypeMemory)
		viper.Set(ConfigKeyTraceTags, []string{"batch", "exec"})
		n := New(context.Background())
		require.NoError(t, n.Start())
		defer func() { _ = n.Stop() }()

		require.True(t, n.TraceTagEnabled("batch"))
		require.True(t, n.Processor().TraceTagEnabled("batch"))
		require.True(t, n.Processor().TraceTagEnabled("exec"))
		require.False(t, n.Processor().TraceTagEnabled("prover"))
	})
	t.Run("unknown store type", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		viper.Set(global.ConfigKeyLoggerOutput, "stderr")
		viper.Set(global.ConfigKeyStoreType, "postgres")
		n := New(context.Background())
		require.Error(t, n.Start())
		require.NoError(t, n.Stop())
	})
}
