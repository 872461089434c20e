package batch_cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/synchro/glb"
)

var groupName string

func CmdAtomic() *cobra.Command {
	atomicCmd := &cobra.Command{
		Use:   "atomic <document.yaml>",
		Short: "executes all transactions of the document as one atomic group: all are committed or none",
		Args:  cobra.ExactArgs(1),
		Run:   runAtomicCmd,
	}
	atomicCmd.Flags().StringVarP(&groupName, "name", "n", "atomic", "name of the group")
	return atomicCmd
}

func runAtomicCmd(_ *cobra.Command, args []string) {
	doc := glb.ReadDocument(args[0])
	glb.Assertf(len(doc.Groups) == 0, "document '%s' declares its own atomic groups, use 'run'", args[0])
	p := startProcessor(doc)
	defer glb.StopNode()

	res := p.ExecuteAtomicBatch(context.Background(), &ledger.AtomicGroup{
		Name:         groupName,
		Transactions: doc.Transactions,
	})
	displayResult(res)
}
