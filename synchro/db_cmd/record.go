package db_cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/synchrony-labs/synchrony/synchro/glb"
)

func CmdRecord() *cobra.Command {
	return &cobra.Command{
		Use:   "record <batch id>",
		Short: "displays the record of a committed batch",
		Args:  cobra.ExactArgs(1),
		Run:   runRecordCmd,
	}
}

func runRecordCmd(_ *cobra.Command, args []string) {
	n := glb.StartNode()
	defer glb.StopNode()

	rec, err := n.StateStore().Record(context.Background(), args[0])
	glb.AssertNoError(err)
	glb.Infof("%s", rec.String())

	if rec.Digest == "" {
		return
	}
	doc, err := n.TxStore().GetDocument(rec.Digest)
	if err != nil {
		glb.Verbosef("batch document %s is not available: %v", rec.Digest, err)
		return
	}
	glb.Infof("batch document %s: %d transactions, %d atomic groups", rec.Digest, len(doc.Transactions), len(doc.Groups))
}
