package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/node"
	"github.com/synchrony-labs/synchrony/synchro/batch_cmd"
	"github.com/synchrony-labs/synchrony/synchro/db_cmd"
	"github.com/synchrony-labs/synchrony/synchro/glb"
	"github.com/synchrony-labs/synchrony/synchro/init_cmd"
)

var configFile string

func initRoot() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "synchro",
		Short: "a CLI for the Synchrony core",
		Long: `synchro is a CLI tool for the Synchrony core.
It provides:
      - execution of batch documents against the ledger state store, parallel where possible
      - inspection of dependency graphs, balances and batch records
`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			glb.AssertNoError(node.ReadInConfig(cmd.Flags(), configFile))
			if f := viper.ConfigFileUsed(); f != "" {
				glb.Verbosef("Using config file: %s", f)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./synchrony.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	node.DefineFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		init_cmd.CmdInit(),
		batch_cmd.CmdRun(),
		batch_cmd.CmdAtomic(),
		batch_cmd.CmdGraph(),
		db_cmd.CmdBalances(),
		db_cmd.CmdRecord(),
	)
	rootCmd.InitDefaultHelpCmd()
	return rootCmd
}

func main() {
	if err := initRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
