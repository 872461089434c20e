package batch_cmd

import (
	"github.com/spf13/cobra"
	"github.com/synchrony-labs/synchrony/conflict"
	"github.com/synchrony-labs/synchrony/depgraph"
	"github.com/synchrony-labs/synchrony/synchro/glb"
)

var dotFile string

func CmdGraph() *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph <document.yaml>",
		Short: "analyzes the batch document, displays the execution schedule and saves the dependency graph in DOT format",
		Args:  cobra.ExactArgs(1),
		Run:   runGraphCmd,
	}
	graphCmd.Flags().StringVarP(&dotFile, "output", "o", "", "name of the DOT file without extension (default: no file)")
	return graphCmd
}

func runGraphCmd(_ *cobra.Command, args []string) {
	doc := glb.ReadDocument(args[0])
	a, err := depgraph.Analyze(doc.Transactions)
	glb.AssertNoError(err)

	sched, err := conflict.Resolve(a)
	glb.AssertNoError(err)

	glb.Infof("transactions: %d, dependencies: %d, unbounded: %d", a.Len(), len(a.Edges), len(a.Unbounded))
	glb.Infof("schedule:\n%s", sched.Lines("    ").String())
	glb.Infof("independent sets: %d, max width: %d, parallelism: %.2f", sched.Len(), sched.MaxWidth(), sched.Parallelism())

	if dotFile != "" {
		glb.AssertNoError(a.SaveDOTFile(dotFile))
		glb.Infof("dependency graph saved to %s.gv", dotFile)
	}
}
