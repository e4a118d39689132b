// Package gkdtree holds the k-d tree produced by a distributed build:
// an ordinary pointer-linked binary tree of D-dimensional points, plus
// the flat complete-array form the tree travels in while under
// construction and on the wire.
package gkdtree

import "math"

// Sentinel is the coordinate value reported for padding slots.
// Padding is tracked with an explicit per-node flag; the sentinel only
// exists so that coordinate reads on padding nodes stay distinguishable
// from any legal (finite) coordinate.
var Sentinel = math.Inf(-1)

// Node is a single tree node owning up to two children.
// Nodes are read-only after construction: consumers may inspect
// coordinates and children but never mutate them.
type Node struct {
	coords  []float64
	left    *Node
	right   *Node
	padding bool
}

// NewNode returns a genuine node holding a copy of coords
// and taking ownership of both children.
func NewNode(coords []float64, left, right *Node) *Node {
	c := make([]float64, len(coords))
	copy(c, coords)
	return &Node{coords: c, left: left, right: right}
}

// NewPadding returns a structurally-required but data-less node.
// Every coordinate read on it yields [Sentinel].
func NewPadding(dims int, left, right *Node) *Node {
	return &Node{coords: make([]float64, dims), left: left, right: right, padding: true}
}

// Coord returns coordinate i, or [Sentinel] if the node is padding.
func (n *Node) Coord(i int) float64 {
	if n.padding {
		return Sentinel
	}
	return n.coords[i]
}

// Dims returns the dimensionality of the node's point.
func (n *Node) Dims() int { return len(n.coords) }

// Left returns the left child, or nil if absent.
func (n *Node) Left() *Node { return n.left }

// Right returns the right child, or nil if absent.
func (n *Node) Right() *Node { return n.right }

// IsPadding reports whether the node is a padding slot rather than a
// real data point. Padding nodes never have genuine descendants.
func (n *Node) IsPadding() bool { return n.padding }

// CountGenuine returns the number of non-padding nodes in the tree
// rooted at n. A nil root counts as zero.
func CountGenuine(n *Node) int {
	if n == nil || n.padding {
		return 0
	}
	return 1 + CountGenuine(n.left) + CountGenuine(n.right)
}

// Walk visits every genuine node of the tree rooted at n in preorder.
// Padding nodes terminate the descent, since no genuine node can sit
// below a padding slot.
func Walk(n *Node, fn func(*Node)) {
	if n == nil || n.padding {
		return
	}
	fn(n)
	Walk(n.left, fn)
	Walk(n.right, fn)
}

// Height returns the number of levels occupied by genuine nodes.
func Height(n *Node) int {
	if n == nil || n.padding {
		return 0
	}
	return 1 + max(Height(n.left), Height(n.right))
}
