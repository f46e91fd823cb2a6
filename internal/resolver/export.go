package resolver

import (
	"fmt"
	"strings"

	"github.com/moolen/ordo/internal/component"
)

// Edge means "From depends on To".
type Edge struct {
	From component.ID `json:"from"`
	To   component.ID `json:"to"`
}

// Export is a snapshot of the resolved part of a graph.
type Export struct {
	Nodes []component.ID `json:"nodes"`
	Edges []Edge         `json:"edges"`
	Order []component.ID `json:"order"`
}

// NewExport describes the nodes in order and the edges between them.
func NewExport(g Graph, order []component.ID) Export {
	included := make(map[component.ID]struct{}, len(order))
	for _, id := range order {
		included[id] = struct{}{}
	}

	exp := Export{
		Nodes: make([]component.ID, len(order)),
		Order: make([]component.ID, len(order)),
	}
	copy(exp.Nodes, order)
	copy(exp.Order, order)

	for _, id := range order {
		deps, _ := g.Dependencies(id)
		for _, dep := range deps {
			if _, ok := included[dep]; ok {
				exp.Edges = append(exp.Edges, Edge{From: id, To: dep})
			}
		}
	}
	return exp
}

// DOT renders the graph as Graphviz DOT text.
func (e Export) DOT() string {
	var b strings.Builder
	b.WriteString("digraph ordo {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := e.aliases()
	for i, id := range e.Nodes {
		b.WriteString(fmt.Sprintf("  n%d [label=\"%s\"];\n", i, escape(string(id))))
	}
	for _, edge := range e.Edges {
		b.WriteString(fmt.Sprintf("  %s -> %s;\n", aliases[edge.From], aliases[edge.To]))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid renders the graph as Mermaid flowchart text.
func (e Export) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := e.aliases()
	for i, id := range e.Nodes {
		b.WriteString(fmt.Sprintf("    n%d[\"%s\"]\n", i, escape(string(id))))
	}
	for _, edge := range e.Edges {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", aliases[edge.From], aliases[edge.To]))
	}
	return b.String()
}

func (e Export) aliases() map[component.ID]string {
	aliases := make(map[component.ID]string, len(e.Nodes))
	for i, id := range e.Nodes {
		aliases[id] = fmt.Sprintf("n%d", i)
	}
	return aliases
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escape(s string) string {
	return labelEscaper.Replace(s)
}
