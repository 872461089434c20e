package batch

import (
	"time"

	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/oracle"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/txstore"
)

const (
	FallbackOnTimeoutSerial = "serial"
	FallbackOnTimeoutFail   = "fail"
)

type (
	Config struct {
		Workers                int
		GuardTimeout           time.Duration
		LinearizabilityTimeout time.Duration
		ConservationTimeout    time.Duration
		BatchTimeout           time.Duration
		// FallbackSerial enables the serial re-run after a recoverable failure
		FallbackSerial bool
		// FallbackOnTimeout what happens when the batch runs out of time: serial re-run or failure
		FallbackOnTimeout string
		ConservedFields   []string
		Epsilon           float64
		// OracleCacheSize 0 disables verdict memoization
		OracleCacheSize int
	}

	Option func(p *Processor)
)

func DefaultConfig() Config {
	return Config{
		Workers:                global.DefaultWorkers,
		GuardTimeout:           global.DefaultTimeoutGuard,
		LinearizabilityTimeout: global.DefaultTimeoutLinearizability,
		ConservationTimeout:    global.DefaultTimeoutConservation,
		BatchTimeout:           global.DefaultTimeoutBatch,
		FallbackSerial:         true,
		FallbackOnTimeout:      FallbackOnTimeoutSerial,
		ConservedFields:        []string{global.DefaultConservedField},
		Epsilon:                global.DefaultEpsilon,
		OracleCacheSize:        global.DefaultOracleCacheSize,
	}
}

// ConfigFromViper reads the config keys which are set, the rest are defaults
func ConfigFromViper() Config {
	ret := DefaultConfig()
	if viper.IsSet(global.ConfigKeyWorkers) {
		ret.Workers = viper.GetInt(global.ConfigKeyWorkers)
	}
	if viper.IsSet(global.ConfigKeyTimeoutGuard) {
		ret.GuardTimeout = viper.GetDuration(global.ConfigKeyTimeoutGuard)
	}
	if viper.IsSet(global.ConfigKeyTimeoutLinearizability) {
		ret.LinearizabilityTimeout = viper.GetDuration(global.ConfigKeyTimeoutLinearizability)
	}
	if viper.IsSet(global.ConfigKeyTimeoutConservation) {
		ret.ConservationTimeout = viper.GetDuration(global.ConfigKeyTimeoutConservation)
	}
	if viper.IsSet(global.ConfigKeyTimeoutBatch) {
		ret.BatchTimeout = viper.GetDuration(global.ConfigKeyTimeoutBatch)
	}
	if viper.IsSet(global.ConfigKeyFallbackSerial) {
		ret.FallbackSerial = viper.GetBool(global.ConfigKeyFallbackSerial)
	}
	if viper.IsSet(global.ConfigKeyFallbackOnTimeout) {
		ret.FallbackOnTimeout = viper.GetString(global.ConfigKeyFallbackOnTimeout)
	}
	if fields := viper.GetStringSlice(global.ConfigKeyConservationFields); len(fields) > 0 {
		ret.ConservedFields = fields
	}
	if viper.IsSet(global.ConfigKeyConservationEpsilon) {
		ret.Epsilon = viper.GetFloat64(global.ConfigKeyConservationEpsilon)
	}
	if viper.IsSet(global.ConfigKeyOracleCacheSize) {
		ret.OracleCacheSize = viper.GetInt(global.ConfigKeyOracleCacheSize)
	}
	return ret
}

func WithConfig(cfg Config) Option {
	return func(p *Processor) {
		p.cfg = cfg
	}
}

// WithInitialState loads the values into the state store when the processor is created
func WithInitialState(st ledger.State) Option {
	return func(p *Processor) {
		p.genesis = st
	}
}

func WithSolver(solver oracle.Solver) Option {
	return func(p *Processor) {
		p.solver = solver
	}
}

func WithStore(store statestore.Store) Option {
	return func(p *Processor) {
		p.store = store
	}
}

func WithTxStore(store txstore.Store) Option {
	return func(p *Processor) {
		p.txStore = store
	}
}
