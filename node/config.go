package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/statestore"
	"go.uber.org/zap"
)

const (
	ConfigName           = "synchrony"
	ConfigKeyTraceTags   = "trace_tags"
	ConfigKeyPProfEnable = "pprof.enable"
	ConfigKeyPProfPort   = "pprof.port"

	nodeLoggerName = "[node]"
	envPrefix      = "SYNCHRONY"
)

// DefineFlags declares configuration flags with their defaults on the flag set
func DefineFlags(fs *pflag.FlagSet) {
	fs.String(global.ConfigKeyLoggerLevel, "info", "log level")
	fs.String(global.ConfigKeyLoggerOutput, "stdout", "comma separated list where to write log")
	fs.String(global.ConfigKeyLoggerTimeLayout, global.TimeLayoutDefault, "time format")

	fs.String(global.ConfigKeyStoreType, statestore.TypeBadger, "one of: memory | badger | sqlite")
	fs.String(global.ConfigKeyStorePath, global.StateStoreDBName, "path of the state store database")
	fs.String(global.ConfigKeyTxStoreType, "dummy", "one of: db | dummy")
	fs.String(global.ConfigKeyTxStorePath, global.TxStoreDBName, "path of the transaction store database")
}

// ReadInConfig binds flags and reads the YAML configuration file. Missing file is not an error
func ReadInConfig(fs *pflag.FlagSet, configFile string) error {
	if fs != nil {
		if err := viper.BindPFlags(fs); err != nil {
			return err
		}
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(ConfigName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

func newNodeLogger() *zap.SugaredLogger {
	outputs := make([]string, 0)
	for _, o := range strings.Split(viper.GetString(global.ConfigKeyLoggerOutput), ",") {
		if o = strings.TrimSpace(o); o != "" {
			outputs = append(outputs, o)
		}
	}
	return global.NewLogger(
		nodeLoggerName,
		global.ParseLevel(viper.GetString(global.ConfigKeyLoggerLevel)),
		outputs,
		viper.GetString(global.ConfigKeyLoggerTimeLayout),
	)
}

// ConfigTemplate initial content of synchrony.yaml
const ConfigTemplate = `# Configuration of the Synchrony core

# logger config
logger:
  level: info
  output: stdout

executor:
  # size of the worker pool
  workers: %d

timeouts:
  linearizability: %v
  conservation: %v
  guard: %v
  batch: %v

fallback:
  # re-run the batch serially once after a recoverable failure
  serial: true
  # what to do when the batch runs out of time: serial | fail
  on_timeout: serial

conservation:
  fields: [%s]
  epsilon: %g

oracle:
  # memoized verdicts, 0 disables the cache
  cache_size: %d

# ledger state store: memory | badger | sqlite
store:
  type: %s
  path: %s

# archive of submitted batch documents: db | dummy
txstore:
  type: db
  path: %s

metrics:
  enable: false
  port: 14000

pprof:
  enable: false
  port: 8080

trace_tags: []
`
