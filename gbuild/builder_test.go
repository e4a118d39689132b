package gbuild_test

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/grove-engine/grove/gbuild"
	"github.com/grove-engine/grove/gbuild/gbnetwork"
	"github.com/grove-engine/grove/gkdtree"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// runBuild runs a full collective build with the given group size, one
// goroutine per rank, and returns the root held by rank 0. The input
// slice is not modified.
func runBuild(t *testing.T, procs int, points []float64, count, dims int) *gkdtree.Node {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := gbnetwork.NewLocalNetwork(procs, gbnetwork.DefaultConfig())
	log := slogt.New(t)

	seed := make([]float64, len(points))
	copy(seed, points)

	roots := make([]*gkdtree.Node, procs)
	errs := make([]error, procs)

	var wg sync.WaitGroup
	for r := 0; r < procs; r++ {
		b, err := gbuild.New(log.With("rank", r), net.Transport(r), gbuild.Config{Workers: 2})
		require.NoError(t, err)

		wg.Add(1)
		go func(r int, b *gbuild.Builder) {
			defer wg.Done()
			var pts []float64
			if r == 0 {
				pts = seed
			}
			roots[r], errs[r] = b.Build(ctx, pts, count, dims)
		}(r, b)
	}
	wg.Wait()

	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
	for r := 1; r < procs; r++ {
		require.Nil(t, roots[r], "rank %d must return an empty result", r)
	}
	return roots[0]
}

// sixPoints is the reference scenario: the depth-0 split runs on x and
// the upper median of {9,8,7,6,5,4} is 7.
func sixPoints() []float64 {
	return []float64{
		9, 1,
		8, 2,
		7, 3,
		6, 4,
		5, 5,
		4, 6,
	}
}

func TestBuild_SixPointScenario(t *testing.T) {
	t.Parallel()

	for _, procs := range []int{1, 2, 3, 4} {
		procs := procs
		t.Run(fmt.Sprintf("P%d", procs), func(t *testing.T) {
			t.Parallel()

			pts := sixPoints()
			root := runBuild(t, procs, pts, 6, 2)

			require.NotNil(t, root)
			require.Equal(t, 7.0, root.Coord(0))
			require.Equal(t, 6, gkdtree.CountGenuine(root))
			requireKDOrdering(t, root, 0, 2)
			require.Equal(t, sortedPoints(pts, 2), treePoints(root, 2))
		})
	}
}

func TestBuild_SurplusGroup(t *testing.T) {
	t.Parallel()

	// 6 ranks: 2 surplus processes absorbed at the deepest level.
	pts := sixPoints()
	root := runBuild(t, 6, pts, 6, 2)

	require.Equal(t, 7.0, root.Coord(0))
	require.Equal(t, 6, gkdtree.CountGenuine(root))
	requireKDOrdering(t, root, 0, 2)
}

func TestBuild_EmptyInput(t *testing.T) {
	t.Parallel()

	for _, procs := range []int{1, 3} {
		root := runBuild(t, procs, nil, 0, 2)
		require.Nil(t, root)
	}
}

func TestBuild_MoreRanksThanPoints(t *testing.T) {
	t.Parallel()

	pts := []float64{2, 2, 1, 1}
	root := runBuild(t, 4, pts, 2, 2)

	require.Equal(t, 2, gkdtree.CountGenuine(root))
	requireKDOrdering(t, root, 0, 2)
	require.Equal(t, sortedPoints(pts, 2), treePoints(root, 2))
}

func TestBuild_RandomPoints(t *testing.T) {
	t.Parallel()

	const count, dims = 50, 3
	rng := rand.New(rand.NewSource(17))
	pts := make([]float64, count*dims)
	for i := range pts {
		// Integer coordinates so duplicate values exercise the
		// ordering invariant's equality edges.
		pts[i] = float64(rng.Intn(25))
	}

	for _, procs := range []int{1, 2, 5, 8} {
		root := runBuild(t, procs, pts, count, dims)

		require.Equal(t, count, gkdtree.CountGenuine(root), "procs=%d", procs)
		requireKDOrdering(t, root, 0, dims)
		require.Equal(t, sortedPoints(pts, dims), treePoints(root, dims), "procs=%d", procs)
	}
}

func TestBuild_InvalidDims(t *testing.T) {
	t.Parallel()

	net := gbnetwork.NewLocalNetwork(1, gbnetwork.DefaultConfig())
	b, err := gbuild.New(slogt.New(t), net.Transport(0), gbuild.DefaultConfig())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), []float64{1, 2}, 2, 0)
	require.Error(t, err)
}

func TestBuild_CoordinatorSliceMismatch(t *testing.T) {
	t.Parallel()

	net := gbnetwork.NewLocalNetwork(1, gbnetwork.DefaultConfig())
	b, err := gbuild.New(slogt.New(t), net.Transport(0), gbuild.DefaultConfig())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), []float64{1, 2, 3}, 2, 2)
	require.ErrorContains(t, err, "count*dims")
}

func TestBuild_NonCoordinatorRejectsPoints(t *testing.T) {
	t.Parallel()

	// Detected before any communication, so no peer is needed.
	net := gbnetwork.NewLocalNetwork(2, gbnetwork.DefaultConfig())
	b, err := gbuild.New(slogt.New(t), net.Transport(1), gbuild.DefaultConfig())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), []float64{1, 2}, 2, 1)
	require.Error(t, err)
}

func TestBuild_CancellationReleasesRanks(t *testing.T) {
	t.Parallel()

	// Rank 1 never calls Build, so rank 0 would block forever waiting
	// for its subtree; cancellation must release it.
	net := gbnetwork.NewLocalNetwork(2, gbnetwork.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	b, err := gbuild.New(slogt.New(t), net.Transport(0), gbuild.DefaultConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := b.Build(ctx, sixPoints(), 6, 2)
		done <- err
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

// requireKDOrdering checks the k-d ordering invariant at every level.
func requireKDOrdering(t *testing.T, n *gkdtree.Node, depth, dims int) {
	t.Helper()

	if n == nil || n.IsPadding() {
		return
	}
	axis := depth % dims
	pivot := n.Coord(axis)

	gkdtree.Walk(n.Left(), func(c *gkdtree.Node) {
		require.LessOrEqual(t, c.Coord(axis), pivot, "left subtree exceeds pivot at depth %d", depth)
	})
	gkdtree.Walk(n.Right(), func(c *gkdtree.Node) {
		require.GreaterOrEqual(t, c.Coord(axis), pivot, "right subtree undercuts pivot at depth %d", depth)
	})

	requireKDOrdering(t, n.Left(), depth+1, dims)
	requireKDOrdering(t, n.Right(), depth+1, dims)
}

func treePoints(root *gkdtree.Node, dims int) [][]float64 {
	var out [][]float64
	gkdtree.Walk(root, func(n *gkdtree.Node) {
		p := make([]float64, dims)
		for i := range p {
			p[i] = n.Coord(i)
		}
		out = append(out, p)
	})
	sortPointSlice(out)
	return out
}

func sortedPoints(pts []float64, dims int) [][]float64 {
	out := make([][]float64, 0, len(pts)/dims)
	for i := 0; i+dims <= len(pts); i += dims {
		p := make([]float64, dims)
		copy(p, pts[i:i+dims])
		out = append(out, p)
	}
	sortPointSlice(out)
	return out
}

func sortPointSlice(pts [][]float64) {
	sort.Slice(pts, func(i, j int) bool {
		for k := range pts[i] {
			if pts[i][k] != pts[j][k] {
				return pts[i][k] < pts[j][k]
			}
		}
		return false
	})
}
