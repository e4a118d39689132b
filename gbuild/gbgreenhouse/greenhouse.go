// Package gbgreenhouse grows a k-d subtree for a point slice that a
// single process owns outright, with no further communication.
//
// Growth happens in two explicit phases: Grow fills a flat
// complete-binary-tree array (slot 0 root, children of slot i at 2i+1
// and 2i+2), parallelizing sibling subtrees across goroutines; Finalize
// then unpacks the array into the pointer-linked node form. The fixed,
// index-addressable layout is what lets sibling builds run without any
// locking: no two goroutines ever touch the same slot.
package gbgreenhouse

import (
	"math/bits"
	"runtime"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/grove-engine/grove/gkdtree"
)

// Config contains Greenhouse configuration.
type Config struct {
	// Workers bounds how many goroutines may build sibling subtrees
	// concurrently. Values <= 1 build sequentially.
	Workers int
}

// DefaultConfig returns standard Greenhouse configuration.
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0)}
}

// Greenhouse holds the per-process build state: the private point slice,
// the array-encoded tree being grown, and per-slot presence flags.
// It is single-use: New, Grow, Finalize, then discard.
type Greenhouse struct {
	pts        []float64
	dims       int
	startDepth int
	cfg        Config

	coords []float64
	// Presence is tracked as one bool per slot during growth rather
	// than a bitset: concurrent writers own disjoint slots, and
	// distinct bools never share a write, where bitset words would.
	filled []bool
	slots  int
	grown  bool
}

// New returns a Greenhouse that takes ownership of points (flat, stride
// dims). startDepth is the recursion depth at which this process became
// sole owner of the slice; axis cycling continues from there.
func New(points []float64, dims, startDepth int, cfg Config) *Greenhouse {
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}
	return &Greenhouse{
		pts:        points,
		dims:       dims,
		startDepth: startDepth,
		cfg:        cfg,
	}
}

// Slots returns the size of the array-encoded tree. Zero until Grow runs.
func (g *Greenhouse) Slots() int { return g.slots }

// Grow builds the complete-array representation in place, recursively
// splitting on the upper median along the cycling axis. Sibling subtrees
// are built concurrently while the worker budget allows.
func (g *Greenhouse) Grow() {
	g.grown = true

	n := len(g.pts) / g.dims
	if n == 0 {
		return
	}

	// A median split leaves floor(n/2) points on the heavier side, so
	// the array needs floor(log2(n))+1 levels.
	height := bits.Len(uint(n))
	g.slots = 1<<height - 1
	g.coords = make([]float64, g.slots*g.dims)
	g.filled = make([]bool, g.slots)

	// Each level of concurrent descent doubles the worker count.
	budget := bits.Len(uint(g.cfg.Workers)) - 1

	g.grow(g.pts, 0, g.startDepth, budget)
	g.pts = nil
}

func (g *Greenhouse) grow(sub []float64, slot, depth, budget int) {
	n := len(sub) / g.dims
	if n == 0 {
		return
	}

	axis := depth % g.dims
	gkdtree.SortByAxis(sub, g.dims, axis)
	mid := gkdtree.UpperMedian(n)

	copy(g.coords[slot*g.dims:(slot+1)*g.dims], sub[mid*g.dims:(mid+1)*g.dims])
	g.filled[slot] = true

	low := sub[:mid*g.dims]
	high := sub[(mid+1)*g.dims:]

	if budget > 0 && len(low) > 0 && len(high) > 0 {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.grow(high, 2*slot+2, depth+1, budget-1)
		}()
		g.grow(low, 2*slot+1, depth+1, budget-1)
		wg.Wait()
		return
	}

	g.grow(low, 2*slot+1, depth+1, budget)
	g.grow(high, 2*slot+2, depth+1, budget)
}

// Finalize converts the grown array into the pointer-linked tree,
// materializing unfilled slots as padding nodes, and reports the number
// of genuine nodes produced. Grow must have run first.
func (g *Greenhouse) Finalize() (*gkdtree.Node, int) {
	if !g.grown {
		panic("gbgreenhouse: Finalize called before Grow")
	}
	if g.slots == 0 {
		return nil, 0
	}

	present := bitset.New(uint(g.slots))
	count := 0
	for i, ok := range g.filled {
		if ok {
			present.Set(uint(i))
			count++
		}
	}

	root := gkdtree.UnpackArray(g.coords, present, g.dims)
	g.coords = nil
	g.filled = nil
	return root, count
}
