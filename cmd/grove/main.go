// Command grove runs a demonstration distributed k-d tree build: a
// LocalNetwork of in-process ranks, the point set seeded on rank 0 only,
// and optional tree dump and wall-clock timing, both purely
// observational.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/grove-engine/grove/gbuild"
	"github.com/grove-engine/grove/gbuild/gbnetwork"
	"github.com/grove-engine/grove/gkdtree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		procs   int
		points  int
		dims    int
		seed    uint64
		workers int
		dump    bool
		timed   bool
	)

	cmd := &cobra.Command{
		Use:   "grove",
		Short: "Build a k-d tree across a group of message-passing ranks",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)).
				With("session", petname.Generate(2, "-"))

			root, elapsed, err := runBuild(cmd.Context(), log, procs, points, dims, seed, workers)
			if err != nil {
				return err
			}

			log.Info("build finished",
				"procs", procs, "points", points, "dims", dims,
				"genuine", gkdtree.CountGenuine(root), "elapsed", elapsed)

			out := cmd.OutOrStdout()
			if timed {
				fmt.Fprintf(out, "# %g\n", elapsed.Seconds())
			}
			if dump && root != nil {
				printTree(out, root, 0)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&procs, "procs", 4, "number of cooperating ranks")
	cmd.Flags().IntVar(&points, "points", 6, "number of points to index")
	cmd.Flags().IntVar(&dims, "dims", 2, "point dimensionality")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for synthetic point generation")
	cmd.Flags().IntVar(&workers, "workers", 0, "local builder goroutines per rank (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&dump, "print", false, "dump the resulting tree")
	cmd.Flags().BoolVar(&timed, "time", false, "report wall-clock build time")

	return cmd
}

func runBuild(ctx context.Context, log *slog.Logger, procs, points, dims int, seed uint64, workers int) (*gkdtree.Node, time.Duration, error) {
	if procs < 1 {
		return nil, 0, fmt.Errorf("procs must be positive, got %d", procs)
	}

	pts := seedPoints(points, dims, seed)
	net := gbnetwork.NewLocalNetwork(procs, gbnetwork.DefaultConfig())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	roots := make([]*gkdtree.Node, procs)
	errs := make([]error, procs)

	start := time.Now()

	var wg sync.WaitGroup
	for r := 0; r < procs; r++ {
		b, err := gbuild.New(log.With("rank", r), net.Transport(r), gbuild.Config{Workers: workers})
		if err != nil {
			cancel()
			wg.Wait()
			return nil, 0, err
		}

		wg.Add(1)
		go func(r int, b *gbuild.Builder) {
			defer wg.Done()
			var own []float64
			if r == 0 {
				own = pts
			}
			roots[r], errs[r] = b.Build(ctx, own, points, dims)
			if errs[r] != nil {
				// A single failed rank fails the whole build;
				// release everyone still blocked on a peer.
				cancel()
			}
		}(r, b)
	}
	wg.Wait()

	elapsed := time.Since(start)

	for r, err := range errs {
		if err != nil {
			return nil, 0, fmt.Errorf("rank %d: %w", r, err)
		}
	}
	return roots[0], elapsed, nil
}

// seedPoints materializes the coordinator's point set. The 6-point
// 2-dimensional default reproduces the reference dataset, point i at
// (9-i, 1+i); anything else is drawn uniformly with integer coordinates.
func seedPoints(points, dims int, seed uint64) []float64 {
	pts := make([]float64, points*dims)

	if points == 6 && dims == 2 {
		for i := 0; i < points; i++ {
			pts[i*2] = float64(9 - i)
			pts[i*2+1] = float64(1 + i)
		}
		return pts
	}

	u := distuv.Uniform{Min: 0, Max: 100, Src: rand.NewSource(seed)}
	for i := range pts {
		pts[i] = math.Round(u.Rand())
	}
	return pts
}

func nodeString(n *gkdtree.Node) string {
	var sb strings.Builder
	sb.WriteString("(")
	for i := 0; i < n.Dims(); i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		c := n.Coord(i)
		if c == gkdtree.Sentinel {
			sb.WriteString("n/a")
			break
		}
		sb.WriteString(strconv.FormatFloat(c, 'g', -1, 64))
	}
	sb.WriteString(")")
	return sb.String()
}

func printTree(w io.Writer, n *gkdtree.Node, depth int) {
	fmt.Fprintf(w, "depth = %d\n", depth)
	fmt.Fprintln(w, nodeString(n))

	if n.Left() != nil {
		fmt.Fprintf(w, "left node of %s -- ", nodeString(n))
		printTree(w, n.Left(), depth+1)
	}
	if n.Right() != nil {
		fmt.Fprintf(w, "right node of %s -- ", nodeString(n))
		printTree(w, n.Right(), depth+1)
	}
}
