// Package tree provides the tagged document tree used to carry model output
// between parsing, reconciliation and rendering. A Node is exactly one of
// Null, Leaf, Map (ordered keys) or List, so consumers branch on Kind rather
// than on dynamic type assertions.
package tree

import (
	"slices"
	"strings"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	// KindNull is an absent value, used for placeholders in target schemas.
	KindNull Kind = iota
	// KindLeaf is a scalar text value.
	KindLeaf
	// KindMap is an ordered string-keyed mapping.
	KindMap
	// KindList is an ordered sequence.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLeaf:
		return "leaf"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Node is a tagged tree value. A nil *Node behaves as Null for every read.
type Node struct {
	kind   Kind
	text   string
	keys   []string
	values map[string]*Node
	items  []*Node
}

// Null returns a Null node.
func Null() *Node { return &Node{kind: KindNull} }

// Leaf returns a scalar node.
func Leaf(s string) *Node { return &Node{kind: KindLeaf, text: s} }

// NewMap returns an empty ordered map.
func NewMap() *Node { return &Node{kind: KindMap, values: map[string]*Node{}} }

// List returns a list holding items. Nil items are stored as Null.
func List(items ...*Node) *Node {
	n := &Node{kind: KindList, items: make([]*Node, 0, len(items))}
	for _, it := range items {
		n.Append(it)
	}
	return n
}

// Strings builds a list of leaves.
func Strings(items ...string) *Node {
	n := &Node{kind: KindList, items: make([]*Node, 0, len(items))}
	for _, s := range items {
		n.items = append(n.items, Leaf(s))
	}
	return n
}

// Kind reports the variant of n.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

// IsNull reports whether n is Null (or nil).
func (n *Node) IsNull() bool { return n.Kind() == KindNull }

// IsLeaf reports whether n is a scalar.
func (n *Node) IsLeaf() bool { return n.Kind() == KindLeaf }

// IsMap reports whether n is a map.
func (n *Node) IsMap() bool { return n.Kind() == KindMap }

// IsList reports whether n is a list.
func (n *Node) IsList() bool { return n.Kind() == KindList }

// Text returns the scalar value of a Leaf, or "" for any other kind.
func (n *Node) Text() string {
	if n.Kind() != KindLeaf {
		return ""
	}
	return n.text
}

// Len is the number of map keys or list items.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindMap:
		return len(n.keys)
	case KindList:
		return len(n.items)
	default:
		return 0
	}
}

// Keys returns the map keys in insertion order.
func (n *Node) Keys() []string {
	if n.Kind() != KindMap {
		return nil
	}
	return slices.Clone(n.keys)
}

// Get returns the value stored under key.
func (n *Node) Get(key string) (*Node, bool) {
	if n.Kind() != KindMap {
		return nil, false
	}
	v, ok := n.values[key]
	return v, ok
}

// Has reports whether a map holds key.
func (n *Node) Has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// Lookup follows a key path through nested maps. It returns nil when any
// step is missing or not a map.
func (n *Node) Lookup(path ...string) *Node {
	cur := n
	for _, k := range path {
		next, ok := cur.Get(k)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Set stores v under key, keeping the original position of an existing key.
// It returns n for chaining and panics if n is not a map.
func (n *Node) Set(key string, v *Node) *Node {
	if n.Kind() != KindMap {
		panic("tree: Set on " + n.Kind().String())
	}
	if v == nil {
		v = Null()
	}
	if _, ok := n.values[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.values[key] = v
	return n
}

// Delete removes key from a map. It is a no-op for other kinds.
func (n *Node) Delete(key string) {
	if n.Kind() != KindMap {
		return
	}
	if _, ok := n.values[key]; !ok {
		return
	}
	delete(n.values, key)
	n.keys = slices.DeleteFunc(n.keys, func(k string) bool { return k == key })
}

// Items returns the list items.
func (n *Node) Items() []*Node {
	if n.Kind() != KindList {
		return nil
	}
	return slices.Clone(n.items)
}

// Append adds v to a list and panics if n is not a list.
func (n *Node) Append(v *Node) *Node {
	if n.Kind() != KindList {
		panic("tree: Append on " + n.Kind().String())
	}
	if v == nil {
		v = Null()
	}
	n.items = append(n.items, v)
	return n
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	switch n.Kind() {
	case KindLeaf:
		return Leaf(n.text)
	case KindMap:
		out := NewMap()
		for _, k := range n.keys {
			out.Set(k, n.values[k].Clone())
		}
		return out
	case KindList:
		out := &Node{kind: KindList, items: make([]*Node, 0, len(n.items))}
		for _, it := range n.items {
			out.items = append(out.items, it.Clone())
		}
		return out
	default:
		return Null()
	}
}

// Equal reports deep equality, including map key order.
func (n *Node) Equal(o *Node) bool {
	if n.Kind() != o.Kind() {
		return false
	}
	switch n.Kind() {
	case KindNull:
		return true
	case KindLeaf:
		return n.text == o.text
	case KindMap:
		if !slices.Equal(n.keys, o.keys) {
			return false
		}
		for _, k := range n.keys {
			if !n.values[k].Equal(o.values[k]) {
				return false
			}
		}
		return true
	case KindList:
		if len(n.items) != len(o.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders n as compact JSON, for diagnostics.
func (n *Node) String() string {
	var b strings.Builder
	writeJSON(&b, n)
	return b.String()
}
