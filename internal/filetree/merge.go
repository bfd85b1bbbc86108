package filetree

import (
	"strings"

	"github.com/xekr/packsmith/internal/domain"
)

// Merge overlays one tree on another and returns a new tree with the overlay's path.
// Matching leaves take the overlay's content, matching trees merge recursively,
// unmatched children from either side are kept. Neither input is modified.
func Merge(base, overlay Node) (*Tree, error) {
	bt, ok := base.(*Tree)
	if !ok {
		return nil, domain.MergeTypeMismatch(nodePath(base))
	}
	ot, ok := overlay.(*Tree)
	if !ok {
		return nil, domain.MergeTypeMismatch(nodePath(overlay))
	}
	return mergeTrees(bt, ot)
}

func mergeTrees(base, overlay *Tree) (*Tree, error) {
	out := &Tree{Path: overlay.Path, Children: make([]Node, 0, len(base.Children)+len(overlay.Children))}
	index := make(map[string]int, len(base.Children))
	for _, c := range base.Children {
		index[c.NodePath()] = len(out.Children)
		out.Children = append(out.Children, Clone(c))
	}

	for _, oc := range overlay.Children {
		i, found := index[oc.NodePath()]
		if !found {
			index[oc.NodePath()] = len(out.Children)
			out.Children = append(out.Children, Clone(oc))
			continue
		}

		switch existing := out.Children[i].(type) {
		case *Leaf:
			ol, ok := oc.(*Leaf)
			if !ok {
				return nil, domain.MergeTypeMismatch(oc.NodePath())
			}
			out.Children[i] = &Leaf{Path: ol.Path, Content: ol.Content}
		case *Tree:
			ot, ok := oc.(*Tree)
			if !ok {
				return nil, domain.MergeTypeMismatch(oc.NodePath())
			}
			merged, err := mergeTrees(existing, ot)
			if err != nil {
				return nil, err
			}
			out.Children[i] = merged
		}
	}

	return out, nil
}

// MergeAll folds overlays onto base in order, skipping nil overlays
func MergeAll(base *Tree, overlays ...*Tree) (*Tree, error) {
	current := Clone(base).(*Tree)
	for _, o := range overlays {
		if o == nil {
			continue
		}
		merged, err := Merge(current, o)
		if err != nil {
			return nil, err
		}
		current = merged
	}
	return current, nil
}

func nodePath(n Node) string {
	if n == nil {
		return ""
	}
	return n.NodePath()
}

// Upsert returns a copy of root with l placed at its path, creating folders on the way
func Upsert(root *Tree, l *Leaf) (*Tree, error) {
	segments := strings.Split(l.Path, "/")
	var node Node = &Leaf{Path: l.Path, Content: l.Content}
	for i := len(segments) - 1; i >= 1; i-- {
		node = &Tree{Path: strings.Join(segments[:i], "/"), Children: []Node{node}}
	}
	return Merge(root, &Tree{Path: root.Path, Children: []Node{node}})
}
