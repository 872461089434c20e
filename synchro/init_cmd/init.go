package init_cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/synchrony-labs/synchrony/batch"
	"github.com/synchrony-labs/synchrony/global"
	"github.com/synchrony-labs/synchrony/node"
	"github.com/synchrony-labs/synchrony/statestore"
	"github.com/synchrony-labs/synchrony/synchro/glb"
)

func CmdInit() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Args:  cobra.NoArgs,
		Short: "specifies initialization subcommands",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	initCmd.AddCommand(
		initConfigCmd(),
		initStateCmd(),
	)
	initCmd.InitDefaultHelpCmd()
	return initCmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Args:  cobra.NoArgs,
		Short: "creates initial config file synchrony.yaml",
		Run:   runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) {
	fname := node.ConfigName + ".yaml"
	glb.FileMustNotExist(fname)

	cfg := batch.DefaultConfig()
	yamlStr := fmt.Sprintf(node.ConfigTemplate,
		cfg.Workers,
		cfg.LinearizabilityTimeout,
		cfg.ConservationTimeout,
		cfg.GuardTimeout,
		cfg.BatchTimeout,
		strings.Join(cfg.ConservedFields, ", "),
		cfg.Epsilon,
		cfg.OracleCacheSize,
		statestore.TypeBadger,
		global.StateStoreDBName,
		global.TxStoreDBName,
	)
	glb.AssertNoError(os.WriteFile(fname, []byte(yamlStr), 0666))
	glb.Infof("initial configuration file has been saved as '%s'", fname)
}

func initStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <document.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "writes the 'state' section of the batch document into the ledger state store",
		Run:   runStateCmd,
	}
}

func runStateCmd(_ *cobra.Command, args []string) {
	doc := glb.ReadDocument(args[0])
	glb.Assertf(len(doc.State) > 0, "document '%s' has no state", args[0])

	n := glb.StartNode()
	defer glb.StopNode()

	rec := &statestore.Record{
		ID:   "state-" + time.Now().UTC().Format("20060102-150405"),
		Mode: "load",
		Time: time.Now().UTC(),
	}
	glb.AssertNoError(statestore.Load(context.Background(), n.StateStore(), doc.State, rec))
	glb.Infof("%d values written to the state store, record '%s'", len(doc.State), rec.ID)
}
