package gprocdag

import "math/bits"

// PartitionTree maps the ranks of a group of Procs cooperating processes
// onto a virtual binary tree. The tree is a perfect binary tree for the
// first MaxDepth levels; when Procs is not a power of two, the remaining
// Surplus ranks are grafted onto level MaxDepth+1 so that every rank is
// assigned exactly one leaf position.
//
// With Procs=6 the leaf assignments look like:
//
//	0 (L0)
//	0 2 (L1)
//	0 1 2 3 (L2)
//	4 5 (L3, surplus; activated by ranks 0 and 1)
//
// Rank 0 always owns the root and keeps the low half at every split;
// the high half is handed to the rank reported by NextRank.
//
// Methods on PartitionTree use unchecked math,
// so invalid values, such as a non-positive Procs,
// ranks outside [0, Procs), or depths never reached by the recursion,
// result in undefined behavior.
type PartitionTree struct {
	// The number of cooperating processes.
	Procs int
}

// MaxDepth returns the number of levels at which the virtual tree is
// still a perfect binary tree, floor(log2(Procs)).
func (t PartitionTree) MaxDepth() int {
	return bits.Len(uint(t.Procs)) - 1
}

// Surplus returns how many ranks do not fit the perfect binary structure,
// Procs - 2^MaxDepth. Those ranks occupy the tail of the rank space and
// are absorbed at level MaxDepth+1.
func (t PartitionTree) Surplus() int {
	return t.Procs - 1<<t.MaxDepth()
}

// NextRank returns the rank that takes ownership of the high half when
// rank's group descends to nextDepth. The caller itself keeps its rank
// and the low half. It returns -1 when rank's group is already a
// singleton at nextDepth, i.e. no further split is possible.
//
// Two regimes, mutually exclusive by depth:
//   - nextDepth <= MaxDepth: plain binary halving of the rank space,
//     the high half starting at rank + 2^(MaxDepth-nextDepth).
//   - nextDepth == MaxDepth+1: only the first Surplus ranks split once
//     more, each paired with tail rank Procs-Surplus+rank, so the
//     deepest level absorbs exactly the surplus count.
func (t PartitionTree) NextRank(rank, nextDepth int) int {
	maxDepth := t.MaxDepth()
	switch {
	case nextDepth <= maxDepth:
		return rank + 1<<(maxDepth-nextDepth)
	case nextDepth == maxDepth+1:
		if s := t.Surplus(); rank < s {
			return t.Procs - s + rank
		}
		return -1
	default:
		return -1
	}
}

// Parent returns the rank responsible for activating the given rank,
// and the depth at which the activation happens. It is the inverse of
// NextRank: NextRank(parent, depth) == rank for every rank > 0.
// Rank 0 is never activated by a peer and returns (-1, 0).
func (t PartitionTree) Parent(rank int) (parent, depth int) {
	if rank == 0 {
		return -1, 0
	}

	maxDepth := t.MaxDepth()
	if s := t.Surplus(); s > 0 && rank >= t.Procs-s {
		return rank - (t.Procs - s), maxDepth + 1
	}

	// Within the perfect part of the tree, the activation depth is
	// encoded in the lowest set bit of the rank.
	tz := bits.TrailingZeros(uint(rank))
	return rank &^ (1 << tz), maxDepth - tz
}
