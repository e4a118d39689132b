package gkdtree

import "github.com/bits-and-blooms/bitset"

// The tree travels in a flat complete-binary-tree layout while under
// construction and on the wire: slot 0 is the root and the children of
// slot i occupy slots 2i+1 and 2i+2. Presence of a genuine point in a
// slot is tracked out of band in a bitset; unset slots are padding.

// PackArray flattens the tree rooted at n into the complete-array layout
// sized to the tree's genuine height. Slots not covered by a genuine
// node are left unset in the returned bitset and zeroed in the
// coordinate array. A nil root packs to an empty array.
func PackArray(n *Node, dims int) (coords []float64, present *bitset.BitSet) {
	h := Height(n)
	if h == 0 {
		return nil, bitset.New(0)
	}

	slots := 1<<h - 1
	coords = make([]float64, slots*dims)
	present = bitset.New(uint(slots))
	packSlot(n, 0, dims, coords, present)
	return coords, present
}

func packSlot(n *Node, slot, dims int, coords []float64, present *bitset.BitSet) {
	if n == nil || n.padding {
		return
	}
	copy(coords[slot*dims:(slot+1)*dims], n.coords)
	present.Set(uint(slot))
	packSlot(n.left, 2*slot+1, dims, coords, present)
	packSlot(n.right, 2*slot+2, dims, coords, present)
}

// UnpackArray materializes the pointer-linked tree for a complete-array
// layout. Every slot of the array becomes a node: slots unset in present
// become padding nodes, preserving the structural shape of the array.
// An empty array unpacks to a nil root.
func UnpackArray(coords []float64, present *bitset.BitSet, dims int) *Node {
	if len(coords) == 0 {
		return nil
	}
	return unpackSlot(coords, present, dims, len(coords)/dims, 0)
}

func unpackSlot(coords []float64, present *bitset.BitSet, dims, slots, slot int) *Node {
	if slot >= slots {
		return nil
	}

	left := unpackSlot(coords, present, dims, slots, 2*slot+1)
	right := unpackSlot(coords, present, dims, slots, 2*slot+2)

	if !present.Test(uint(slot)) {
		return NewPadding(dims, left, right)
	}
	return NewNode(coords[slot*dims:(slot+1)*dims], left, right)
}
