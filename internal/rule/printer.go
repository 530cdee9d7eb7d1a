package rule

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// Render draws the condition tree for terminal output.
func Render(g *Group) string {
	if g == nil {
		return "(no conditions)\n"
	}
	tree := treeprint.NewWithRoot(groupLabel(g))
	renderChildren(g, tree)
	return tree.String()
}

func renderChildren(g *Group, tree treeprint.Tree) {
	for _, child := range g.children {
		switch n := child.(type) {
		case *Group:
			renderChildren(n, tree.AddBranch(groupLabel(n)))
		case *Condition:
			tree.AddNode(n.String())
		}
	}
}

func groupLabel(g *Group) string {
	if g.matchAll {
		return fmt.Sprintf("ALL of (%d)", len(g.children))
	}
	return fmt.Sprintf("ANY of (%d)", len(g.children))
}
