package depgraph

import (
	"io"
	"os"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

var (
	fontsizeAttribute = graph.VertexAttribute("fontsize", "10")
	txNodeAttributes  = []func(*graph.VertexProperties){
		fontsizeAttribute,
		graph.VertexAttribute("shape", "box"),
		graph.VertexAttribute("colorscheme", "blues3"),
		graph.VertexAttribute("style", "filled"),
		graph.VertexAttribute("color", "2"),
		graph.VertexAttribute("fillcolor", "1"),
	}
	unboundedNodeAttributes = []func(*graph.VertexProperties){
		fontsizeAttribute,
		graph.VertexAttribute("shape", "diamond"),
		graph.VertexAttribute("colorscheme", "reds3"),
		graph.VertexAttribute("style", "filled"),
		graph.VertexAttribute("color", "3"),
		graph.VertexAttribute("fillcolor", "1"),
	}
)

func edgeAttributes(e *Edge) []func(*graph.EdgeProperties) {
	ret := []func(*graph.EdgeProperties){
		graph.EdgeAttribute("label", e.Kind.String()),
		graph.EdgeAttribute("fontsize", "8"),
	}
	switch {
	case e.Kind == Declared:
		ret = append(ret, graph.EdgeAttribute("style", "dashed"))
	case e.Kind&WAW != 0:
		ret = append(ret, graph.EdgeAttribute("color", "red"))
	case e.Kind&RAW != 0:
		ret = append(ret, graph.EdgeAttribute("color", "blue"))
	default:
		ret = append(ret, graph.EdgeAttribute("color", "darkgreen"))
	}
	return ret
}

// MakeDrawGraph copy of the dependency graph with drawing attributes
func (a *Analysis) MakeDrawGraph() graph.Graph[string, string] {
	ret := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	for _, acc := range a.Access {
		attr := txNodeAttributes
		if acc.Unbounded {
			attr = unboundedNodeAttributes
		}
		_ = ret.AddVertex(string(acc.TxID), attr...)
	}
	for _, e := range a.Edges {
		_ = ret.AddEdge(string(e.From), string(e.To), edgeAttributes(e)...)
	}
	return ret
}

// SaveDOT writes the dependency graph in DOT format
func (a *Analysis) SaveDOT(w io.Writer) error {
	return draw.DOT(a.MakeDrawGraph(), w)
}

// SaveDOTFile writes <fname>.gv
func (a *Analysis) SaveDOTFile(fname string) error {
	dotFile, err := os.Create(fname + ".gv")
	if err != nil {
		return err
	}
	defer func() { _ = dotFile.Close() }()
	return a.SaveDOT(dotFile)
}
