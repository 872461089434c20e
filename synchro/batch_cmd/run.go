package batch_cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/synchrony-labs/synchrony/batch"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/synchro/glb"
	"github.com/synchrony-labs/synchrony/util"
)

const configKeyLoadState = "load_state"

func CmdRun() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <document.yaml>",
		Short: "executes the batch document and commits its effects to the state store",
		Args:  cobra.ExactArgs(1),
		Run:   runRunCmd,
	}
	runCmd.Flags().Bool(configKeyLoadState, false, "write the 'state' section of the document to the store before execution")
	glb.AssertNoError(viper.BindPFlag(configKeyLoadState, runCmd.Flags().Lookup(configKeyLoadState)))
	return runCmd
}

func runRunCmd(_ *cobra.Command, args []string) {
	doc := glb.ReadDocument(args[0])
	p := startProcessor(doc)
	defer glb.StopNode()

	res := p.ExecuteDocument(context.Background(), doc)
	displayResult(res)
}

func startProcessor(doc *ledger.Document) *batch.Processor {
	opts := make([]batch.Option, 0)
	if viper.GetBool(configKeyLoadState) && len(doc.State) > 0 {
		opts = append(opts, batch.WithInitialState(doc.State))
	}
	return glb.StartNode(opts...).Processor()
}

func displayResult(res *batch.BatchResult) {
	glb.Infof("%s", res.Lines().String())
	if viper.GetBool("verbose") {
		for _, d := range res.Deltas {
			glb.Infof("    %s", d.String())
		}
		if res.Certificate != nil {
			glb.Infof("%s", res.Certificate.String())
		}
	}
	if !res.Success {
		glb.Fatalf("batch failed: %v", res.Err)
	}
	glb.Infof("committed %s transactions, %s deltas", util.GoTh(len(res.Committed)), util.GoTh(len(res.Deltas)))
}
