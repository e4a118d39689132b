// Package gbuild orchestrates the distributed construction of a k-d tree
// over a group of ranks connected by message passing.
//
// The point set starts fully resident on rank 0. At every level the
// group's leader splits its slice at the upper median along the cycling
// axis, keeps the low half, and ships the high half to the rank reported
// by [gprocdag.PartitionTree.NextRank]; the recursion repeats in both
// halves until a rank's group is a singleton, at which point the rank
// grows the rest of its subtree locally. Subtrees then converge back up
// the same paths in serialized form until rank 0 holds the whole tree.
//
// The exchange keeps a group's entire partition resident at its leader,
// so median selection is leader-local and the activation message that
// carries a partition to its new leader doubles as the broadcast of the
// split outcome.
package gbuild

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
	"github.com/grove-engine/grove/gbuild/gbencoding"
	"github.com/grove-engine/grove/gbuild/gbgreenhouse"
	"github.com/grove-engine/grove/gbuild/gbnetwork"
	"github.com/grove-engine/grove/gkdtree"
	"github.com/grove-engine/grove/gprocdag"
)

// Config contains Builder configuration.
type Config struct {
	// Workers bounds the local builder's intra-process parallelism.
	Workers int
}

// DefaultConfig returns standard Builder configuration.
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0)}
}

// Builder runs one rank's side of a collective build.
type Builder struct {
	log *slog.Logger
	tr  gbnetwork.Transport
	cfg Config

	codec *gbencoding.Codec
	ptree gprocdag.PartitionTree

	// Per-build state, set at the top of Build.
	dims    int
	buildID string
}

// New returns a Builder bound to one transport endpoint.
func New(log *slog.Logger, tr gbnetwork.Transport, cfg Config) (*Builder, error) {
	if log == nil {
		log = slog.Default()
	}
	if tr == nil {
		return nil, fmt.Errorf("transport required")
	}
	if tr.Size() < 1 {
		return nil, fmt.Errorf("group must have at least one rank, got %d", tr.Size())
	}
	if cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}

	codec, err := gbencoding.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	return &Builder{
		log:   log,
		tr:    tr,
		cfg:   cfg,
		codec: codec,
		ptree: gprocdag.PartitionTree{Procs: tr.Size()},
	}, nil
}

// Build constructs the k-d tree for the given point set. It must be
// called collectively, once on every rank of the group, with identical
// count and dims everywhere; points must be non-empty only on rank 0,
// which takes ownership of the slice. Rank 0 returns the root of the
// assembled tree; every other rank returns nil.
//
// A single attempt either completes for the whole group or fails for the
// whole group: canceling ctx is the only way to release ranks blocked on
// a peer that failed.
func (b *Builder) Build(ctx context.Context, points []float64, count, dims int) (*gkdtree.Node, error) {
	// Configuration errors must surface on every rank before any
	// communication, or healthy ranks would block on a failed peer.
	if dims < 1 {
		return nil, fmt.Errorf("dims must be positive, got %d", dims)
	}
	if count < 0 {
		return nil, fmt.Errorf("count must be non-negative, got %d", count)
	}
	b.dims = dims

	if b.tr.Rank() == 0 {
		if len(points) != count*dims {
			return nil, fmt.Errorf("point slice holds %d values, want count*dims = %d", len(points), count*dims)
		}
		b.buildID = uuid.NewString()

		root, err := b.buildSubtree(ctx, points, 0)
		if err != nil {
			return nil, err
		}
		b.log.Debug("build complete", "buildID", b.buildID, "genuine", gkdtree.CountGenuine(root))
		return root, nil
	}

	if len(points) != 0 {
		return nil, fmt.Errorf("rank %d received a point slice; only rank 0 seeds points", b.tr.Rank())
	}
	return nil, b.runMember(ctx)
}

// runMember is the non-coordinator side: wait for the activation message
// carrying this rank's partition, build the subtree, send it back.
func (b *Builder) runMember(ctx context.Context) error {
	rank := b.tr.Rank()
	parent, depth := b.ptree.Parent(rank)

	msg, err := b.tr.Recv(ctx, parent)
	if err != nil {
		return fmt.Errorf("rank %d failed to receive activation: %w", rank, err)
	}
	if msg.Kind != gbnetwork.KindPoints {
		return fmt.Errorf("rank %d expected points frame, got kind %d", rank, msg.Kind)
	}

	pf, err := b.codec.DecodePoints(msg.Payload)
	if err != nil {
		return fmt.Errorf("rank %d failed to decode activation: %w", rank, err)
	}
	if pf.Dims != b.dims {
		return fmt.Errorf("rank %d activated with dims %d, expected %d", rank, pf.Dims, b.dims)
	}
	if pf.Depth != depth {
		return fmt.Errorf("rank %d activated at depth %d, expected %d", rank, pf.Depth, depth)
	}
	b.buildID = pf.BuildID

	b.log.Debug("rank activated",
		"buildID", b.buildID, "rank", rank, "parent", parent,
		"depth", depth, "points", len(pf.Coords)/b.dims)

	sub, err := b.buildSubtree(ctx, pf.Coords, depth)
	if err != nil {
		return err
	}

	payload, err := b.encodeSubtree(sub)
	if err != nil {
		return fmt.Errorf("rank %d failed to encode subtree: %w", rank, err)
	}
	if err := b.tr.Send(ctx, parent, gbnetwork.Message{Kind: gbnetwork.KindTree, Payload: payload}); err != nil {
		return fmt.Errorf("rank %d failed to return subtree: %w", rank, err)
	}
	return nil
}

// buildSubtree builds the subtree for the partition this rank leads from
// the given depth down. While the rank's group still has more than one
// member it splits and ships the high half; once the group is a
// singleton the remaining slice is grown locally.
func (b *Builder) buildSubtree(ctx context.Context, pts []float64, depth int) (*gkdtree.Node, error) {
	rank := b.tr.Rank()
	partner := b.ptree.NextRank(rank, depth+1)

	if partner < 0 {
		gh := gbgreenhouse.New(pts, b.dims, depth, gbgreenhouse.Config{Workers: b.cfg.Workers})
		gh.Grow()
		root, n := gh.Finalize()
		b.log.Debug("local subtree grown",
			"buildID", b.buildID, "rank", rank, "depth", depth,
			"slots", gh.Slots(), "genuine", n)
		return root, nil
	}

	n := len(pts) / b.dims
	axis := depth % b.dims

	var median, low, high []float64
	if n > 0 {
		gkdtree.SortByAxis(pts, b.dims, axis)
		mid := gkdtree.UpperMedian(n)
		median = pts[mid*b.dims : (mid+1)*b.dims]
		low = pts[:mid*b.dims]
		high = pts[(mid+1)*b.dims:]
	}

	b.log.Debug("splitting partition",
		"buildID", b.buildID, "rank", rank, "depth", depth, "axis", axis,
		"points", n, "partner", partner)

	// The high half is shipped even when empty: every rank must be
	// activated exactly once for the collective to terminate.
	payload, err := b.codec.EncodePoints(&gbencoding.Points{
		BuildID: b.buildID,
		Depth:   depth + 1,
		Dims:    b.dims,
		Coords:  high,
	})
	if err != nil {
		return nil, fmt.Errorf("rank %d failed to encode partition: %w", rank, err)
	}
	if err := b.tr.Send(ctx, partner, gbnetwork.Message{Kind: gbnetwork.KindPoints, Payload: payload}); err != nil {
		return nil, fmt.Errorf("rank %d failed to ship partition to rank %d: %w", rank, partner, err)
	}

	left, err := b.buildSubtree(ctx, low, depth+1)
	if err != nil {
		return nil, err
	}

	msg, err := b.tr.Recv(ctx, partner)
	if err != nil {
		return nil, fmt.Errorf("rank %d failed to receive subtree from rank %d: %w", rank, partner, err)
	}
	if msg.Kind != gbnetwork.KindTree {
		return nil, fmt.Errorf("rank %d expected tree frame from rank %d, got kind %d", rank, partner, msg.Kind)
	}
	right, err := b.decodeSubtree(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("rank %d failed to decode subtree from rank %d: %w", rank, partner, err)
	}

	if n == 0 {
		// Nothing to split here: no node, and both children are
		// necessarily empty too.
		return nil, nil
	}
	return gkdtree.NewNode(median, left, right), nil
}

func (b *Builder) encodeSubtree(root *gkdtree.Node) ([]byte, error) {
	coords, present := gkdtree.PackArray(root, b.dims)
	return b.codec.EncodeTree(&gbencoding.Tree{
		BuildID: b.buildID,
		Dims:    b.dims,
		Coords:  coords,
		Present: present,
	})
}

func (b *Builder) decodeSubtree(payload []byte) (*gkdtree.Node, error) {
	tf, err := b.codec.DecodeTree(payload)
	if err != nil {
		return nil, err
	}
	if tf.BuildID != b.buildID {
		return nil, fmt.Errorf("subtree belongs to build %s, expected %s", tf.BuildID, b.buildID)
	}
	if tf.Dims != b.dims {
		return nil, fmt.Errorf("subtree has dims %d, expected %d", tf.Dims, b.dims)
	}
	return gkdtree.UnpackArray(tf.Coords, tf.Present, tf.Dims), nil
}
