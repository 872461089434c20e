package global

import "time"

// configuration keys
const (
	ConfigKeyLoggerLevel      = "logger.level"
	ConfigKeyLoggerOutput     = "logger.output"
	ConfigKeyLoggerTimeLayout = "logger.timelayout"

	ConfigKeyWorkers                = "executor.workers"
	ConfigKeyTimeoutLinearizability = "timeouts.linearizability"
	ConfigKeyTimeoutConservation    = "timeouts.conservation"
	ConfigKeyTimeoutGuard           = "timeouts.guard"
	ConfigKeyTimeoutBatch           = "timeouts.batch"
	ConfigKeyFallbackSerial         = "fallback.serial"
	ConfigKeyFallbackOnTimeout      = "fallback.on_timeout"
	ConfigKeyConservationFields     = "conservation.fields"
	ConfigKeyConservationEpsilon    = "conservation.epsilon"
	ConfigKeyOracleCacheSize        = "oracle.cache_size"

	ConfigKeyStoreType   = "store.type"
	ConfigKeyStorePath   = "store.path"
	ConfigKeyTxStoreType = "txstore.type"
	ConfigKeyTxStorePath = "txstore.path"

	ConfigKeyMetricsEnable = "metrics.enable"
	ConfigKeyMetricsPort   = "metrics.port"
)

const (
	DefaultWorkers                = 8
	DefaultTimeoutLinearizability = 30 * time.Second
	DefaultTimeoutConservation    = 5 * time.Second
	DefaultTimeoutGuard           = time.Second
	DefaultTimeoutBatch           = 60 * time.Second
	DefaultEpsilon                = 1e-10
	DefaultOracleCacheSize        = 256
	DefaultConservedField         = "balance"

	StateStoreDBName = "synchronydb"
	TxStoreDBName    = "synchronydb.txstore"
)
