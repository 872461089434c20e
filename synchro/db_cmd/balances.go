package db_cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/synchro/glb"
	"github.com/synchrony-labs/synchrony/util"
	"github.com/synchrony-labs/synchrony/util/set"
)

func CmdBalances() *cobra.Command {
	balancesCmd := &cobra.Command{
		Use:   "balances [<account> ...]",
		Short: "displays values in the state store, of all accounts or of the listed ones",
		Run:   runBalancesCmd,
	}
	balancesCmd.InitDefaultHelpCmd()
	return balancesCmd
}

func runBalancesCmd(_ *cobra.Command, args []string) {
	n := glb.StartNode()
	defer glb.StopNode()

	st, err := n.StateStore().Snapshot(context.Background())
	glb.AssertNoError(err)

	accounts := set.New(args...)
	fields := n.Processor().Config().ConservedFields
	total := 0.0
	count := 0
	for _, k := range st.Keys() {
		if len(accounts) > 0 && !accounts.Contains(k.Account()) {
			continue
		}
		glb.Infof("%30s: %s", k, util.GoThFloat(st[k], 2))
		if ledger.IsConserved(k, fields) {
			total += st[k]
		}
		count++
	}
	glb.Infof("---------------------------")
	glb.Infof("keys: %d, total of conserved fields: %s", count, util.GoThFloat(total, 2))
}
