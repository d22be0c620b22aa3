package gan

import (
	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// DOT parses the graphviz rendering of g so callers can annotate it before writing.
func DOT(g *G.ExprGraph, label string) (*gographviz.Graph, error) {
	ast, err := gographviz.ParseString(g.ToDot())
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse graph")
	}
	retVal := gographviz.NewGraph()
	if err = gographviz.Analyse(ast, retVal); err != nil {
		return nil, errors.Wrap(err, "unable to analyse graph")
	}
	if label != "" {
		if err = retVal.AddAttr(retVal.Name, "label", `"`+label+`"`); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return retVal, nil
}
