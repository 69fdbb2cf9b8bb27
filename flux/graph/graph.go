package graph

import (
	"fmt"
	"github.com/awalterschulze/gographviz"
	"github.com/tryfix/kflux/flux/topology"
)

var colors = []string{`slateblue4`, `darkorange3`, `seagreen`, `firebrick`, `deepskyblue4`, `goldenrod4`}

type Graph struct {
	parent   string
	vizGraph *gographviz.Graph
}

func NewGraph() *Graph {
	parent := `flux`
	g := gographviz.NewGraph()
	if err := g.SetName(parent); err != nil {
		panic(err)
	}
	if err := g.SetDir(true); err != nil {
		panic(err)
	}
	if err := g.AddAttr(parent, `rankdir`, `LR`); err != nil {
		panic(err)
	}

	return &Graph{
		parent:   parent,
		vizGraph: g,
	}
}

// Plan draws every position of the plan in a cluster per scheduler segment.
func (g *Graph) Plan(plan *topology.Plan) error {
	var previous string
	for i, segment := range plan.Segments() {
		cluster := fmt.Sprintf(`cluster_%d`, i)
		if err := g.vizGraph.AddSubGraph(g.parent, cluster, map[string]string{
			`label`: fmt.Sprintf(`"%s"`, segment[0].Scheduler),
			`style`: `dashed`,
		}); err != nil {
			return err
		}

		color := colors[i%len(colors)]
		for _, pos := range segment {
			name := nodeName(pos.Node)
			if err := g.vizGraph.AddNode(cluster, name, g.attrs(pos.Node, color)); err != nil {
				return err
			}

			if previous != `` {
				if err := g.vizGraph.AddEdge(previous, name, true, nil); err != nil {
					return err
				}
			}
			previous = name
		}
	}

	return nil
}

func (g *Graph) attrs(n *topology.Node, color string) map[string]string {
	attrs := map[string]string{
		`label`:     fmt.Sprintf(`"%s"`, n.Name),
		`fontcolor`: `grey100`,
		`fillcolor`: color,
		`style`:     `filled`,
	}

	switch n.Type {
	case topology.TypeSource:
		attrs[`shape`] = `oval`
	case topology.TypeBoundary:
		attrs[`shape`] = `diamond`
		attrs[`label`] = fmt.Sprintf(`"%s\n%s"`, n.Name, n.Scheduler.Name())
	case topology.TypeSink:
		attrs[`shape`] = `doubleoctagon`
	default:
		attrs[`shape`] = `box`
	}

	return attrs
}

func nodeName(n *topology.Node) string {
	return fmt.Sprintf(`n%d`, n.Id)
}

func (g *Graph) Build() string {
	return g.vizGraph.String()
}

// Render returns the DOT representation of plan.
func Render(plan *topology.Plan) (string, error) {
	g := NewGraph()
	if err := g.Plan(plan); err != nil {
		return ``, err
	}

	return g.Build(), nil
}
