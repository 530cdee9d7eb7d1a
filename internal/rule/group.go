package rule

import (
	"fmt"
)

// Node is a member of a condition tree. It is implemented only by
// *Condition and *Group.
type Node interface {
	node()
}

const (
	MatchAll = true
	MatchAny = false
)

// Group combines its children with AND (match all) or OR (match any).
type Group struct {
	children []Node
	matchAll bool
}

// NewGroup creates a group owning children in the given order. A nil child
// is rejected.
func NewGroup(matchAll bool, children ...Node) (*Group, error) {
	owned := make([]Node, 0, len(children))
	for i, child := range children {
		switch n := child.(type) {
		case *Condition:
			if n == nil {
				return nil, fmt.Errorf("%w: child %d is a nil condition", ErrInvalidChildType, i)
			}
		case *Group:
			if n == nil {
				return nil, fmt.Errorf("%w: child %d is a nil group", ErrInvalidChildType, i)
			}
		default:
			return nil, fmt.Errorf("%w: child %d is %T", ErrInvalidChildType, i, child)
		}
		owned = append(owned, child)
	}

	return &Group{children: owned, matchAll: matchAll}, nil
}

// MustGroup is NewGroup for trees built from known-good nodes.
func MustGroup(matchAll bool, children ...Node) *Group {
	g, err := NewGroup(matchAll, children...)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Group) MatchAll() bool { return g.matchAll }

// Children returns a copy of the children in their original order.
func (g *Group) Children() []Node {
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

func (g *Group) Len() int { return len(g.children) }

// Depth is the number of group levels in the tree; a group with no nested
// groups has depth 1.
func (g *Group) Depth() int {
	deepest := 0
	for _, child := range g.children {
		if sub, ok := child.(*Group); ok {
			if d := sub.Depth(); d > deepest {
				deepest = d
			}
		}
	}
	return deepest + 1
}

// Equal reports structural, order-preserving equality.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.matchAll != other.matchAll || len(g.children) != len(other.children) {
		return false
	}
	for i := range g.children {
		switch a := g.children[i].(type) {
		case *Condition:
			b, ok := other.children[i].(*Condition)
			if !ok || !a.Equal(b) {
				return false
			}
		case *Group:
			b, ok := other.children[i].(*Group)
			if !ok || !a.Equal(b) {
				return false
			}
		}
	}
	return true
}

// WalkFunc is called for every node with its group depth (the root is 1)
// and a field path such as "children[0].children[2]". Returning an error
// stops the walk.
type WalkFunc func(n Node, depth int, path string) error

// Walk visits g and its descendants depth-first, parents before children.
func Walk(g *Group, fn WalkFunc) error {
	return walk(g, 1, "", fn)
}

func walk(g *Group, depth int, path string, fn WalkFunc) error {
	if err := fn(g, depth, path); err != nil {
		return err
	}
	for i, child := range g.children {
		childPath := fmt.Sprintf("children[%d]", i)
		if path != "" {
			childPath = path + "." + childPath
		}
		switch n := child.(type) {
		case *Group:
			if err := walk(n, depth+1, childPath, fn); err != nil {
				return err
			}
		case *Condition:
			if err := fn(n, depth, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Group) String() string {
	mode := "any"
	if g.matchAll {
		mode = "all"
	}
	return fmt.Sprintf("group(%s, %d children)", mode, len(g.children))
}

func (*Group) node() {}
