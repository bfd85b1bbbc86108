// Package filetree models the pack being assembled as an immutable tree of
// folders and files keyed by module-relative path.
package filetree

import (
	"path"
	"sort"
)

// Node is either a *Leaf or a *Tree
type Node interface {
	NodePath() string
	sealed()
}

// Leaf is a file with its content. Content is never modified in place.
type Leaf struct {
	Path    string
	Content []byte
}

// Tree is a folder; Children paths are unique
type Tree struct {
	Path     string
	Children []Node
}

func (l *Leaf) NodePath() string { return l.Path }
func (t *Tree) NodePath() string { return t.Path }

func (*Leaf) sealed() {}
func (*Tree) sealed() {}

// Name returns the last path element; the root tree has name ""
func Name(n Node) string {
	p := n.NodePath()
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Clone copies the node structure. Leaf content is shared.
func Clone(n Node) Node {
	switch v := n.(type) {
	case *Leaf:
		return &Leaf{Path: v.Path, Content: v.Content}
	case *Tree:
		out := &Tree{Path: v.Path, Children: make([]Node, len(v.Children))}
		for i, c := range v.Children {
			out.Children[i] = Clone(c)
		}
		return out
	}
	return nil
}

// Child returns the direct child at p
func (t *Tree) Child(p string) (Node, bool) {
	for _, c := range t.Children {
		if c.NodePath() == p {
			return c, true
		}
	}
	return nil, false
}

// SortChildren orders children by path
func (t *Tree) SortChildren() {
	sort.Slice(t.Children, func(i, j int) bool {
		return t.Children[i].NodePath() < t.Children[j].NodePath()
	})
}

// Walk visits n and its descendants depth first, children in path order.
// Returning false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	t, ok := n.(*Tree)
	if !ok {
		return
	}
	children := make([]Node, len(t.Children))
	copy(children, t.Children)
	sort.Slice(children, func(i, j int) bool { return children[i].NodePath() < children[j].NodePath() })
	for _, c := range children {
		Walk(c, fn)
	}
}

// Leaves collects every leaf under n keyed by path
func Leaves(n Node) map[string][]byte {
	out := make(map[string][]byte)
	Walk(n, func(n Node) bool {
		if l, ok := n.(*Leaf); ok {
			out[l.Path] = l.Content
		}
		return true
	})
	return out
}

// Equal reports structural equality: same paths, kinds and leaf content
func Equal(a, b Node) bool {
	switch av := a.(type) {
	case *Leaf:
		bv, ok := b.(*Leaf)
		return ok && av.Path == bv.Path && string(av.Content) == string(bv.Content)
	case *Tree:
		bv, ok := b.(*Tree)
		if !ok || av.Path != bv.Path || len(av.Children) != len(bv.Children) {
			return false
		}
		for _, c := range av.Children {
			other, found := bv.Child(c.NodePath())
			if !found || !Equal(c, other) {
				return false
			}
		}
		return true
	}
	return false
}
