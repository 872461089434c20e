package glb

import (
	"context"
	"os"

	"github.com/synchrony-labs/synchrony/batch"
	"github.com/synchrony-labs/synchrony/ledger"
	"github.com/synchrony-labs/synchrony/node"
)

var theNode *node.Node

// StartNode opens the stores and creates the processor from the configuration
func StartNode(opts ...batch.Option) *node.Node {
	Assertf(theNode == nil, "node already started")
	n := node.New(context.Background())
	theNode = n
	AssertNoError(n.Start(opts...))
	return n
}

func StopNode() {
	if theNode == nil {
		return
	}
	n := theNode
	theNode = nil
	if err := n.Stop(); err != nil {
		Infof("Error while stopping the node: %v", err)
	}
}

func ReadDocument(fname string) *ledger.Document {
	data, err := os.ReadFile(fname)
	AssertNoError(err)
	doc, err := ledger.DecodeDocument(data)
	AssertNoError(err)
	return doc
}

func FileMustNotExist(fname string) {
	_, err := os.Stat(fname)
	if err == nil {
		Fatalf("file %s already exists", fname)
	}
	Assertf(os.IsNotExist(err), "%v", err)
}
