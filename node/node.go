package node

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/batch"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/metrics"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/txstore"
	"github.com/synchrony-labs/synchrony/util"
)

// Node owns the stores and the processor assembled from the configuration
type Node struct {
	*global.Global
	ctx           context.Context
	cancel        context.CancelFunc
	stateStore    statestore.Store
	txStore       txstore.Store
	processor     *batch.Processor
	metricsServer *http.Server
	pprofServer   *http.Server
	stopOnce      sync.Once
	bgWG          sync.WaitGroup
	started       time.Time
}

// New node with the logger from the configuration. Configuration must be read in before
func New(ctx context.Context) *Node {
	ret := &Node{
		Global:  global.New(newNodeLogger()),
		started: time.Now(),
	}
	ret.ctx, ret.cancel = context.WithCancel(ctx)
	ret.EnableTraceTags(viper.GetStringSlice(ConfigKeyTraceTags)...)
	return ret
}

func (n *Node) Ctx() context.Context {
	return n.ctx
}

func (n *Node) Processor() *batch.Processor {
	return n.processor
}

func (n *Node) StateStore() statestore.Store {
	return n.stateStore
}

func (n *Node) TxStore() txstore.Store {
	return n.txStore
}

// Start opens databases and creates the processor. Optional options are applied after those from the configuration
func (n *Node) Start(opts ...batch.Option) error {
	n.Log().Info(global.BannerString())

	return util.CatchPanicOrError(func() error {
		if err := n.openStateStore(); err != nil {
			return err
		}
		if err := n.openTxStore(); err != nil {
			return err
		}
		var err error
		all := append([]batch.Option{
			batch.WithConfig(batch.ConfigFromViper()),
			batch.WithStore(n.stateStore),
			batch.WithTxStore(n.txStore),
		}, opts...)
		if n.processor, err = batch.New(n, all...); err != nil {
			return err
		}
		n.startMetricsIfEnabled()
		n.startPProfIfEnabled()
		n.startMemoryLogging()
		n.Log().Infof("node started. Workers: %d, state store: %s, transaction store: %s",
			n.processor.Config().Workers, n.storeType(), viper.GetString(global.ConfigKeyTxStoreType))
		return nil
	})
}

func (n *Node) startMetricsIfEnabled() {
	if !viper.GetBool(global.ConfigKeyMetricsEnable) {
		n.Log().Debugf("metrics disabled")
		return
	}
	n.metricsServer = metrics.Start(n, viper.GetInt(global.ConfigKeyMetricsPort))
}

// Stop stops background processes and closes databases. Idempotent
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		n.cancel()
		for _, srv := range []*http.Server{n.metricsServer, n.pprofServer} {
			if srv == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = errors.Join(err, srv.Shutdown(ctx))
			cancel()
		}
		n.bgWG.Wait()
		if n.processor != nil {
			err = errors.Join(err, n.processor.Close())
		} else {
			err = errors.Join(err, n.closeStores())
		}
		n.Log().Infof("node stopped. Uptime: %v", n.UpTime().Round(time.Millisecond))
	})
	return err
}

func (n *Node) UpTime() time.Duration {
	return time.Since(n.started)
}
