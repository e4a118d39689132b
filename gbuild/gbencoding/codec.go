// Package gbencoding serializes the two frame types exchanged during a
// distributed build: point slices descending the virtual process tree,
// and serialized subtrees converging back up. Frames are versioned
// little-endian binary with zstd-compressed coordinate payloads.
package gbencoding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	int8Size  = 1
	int16Size = 2
	int32Size = 4
	int64Size = 8
	uuidSize  = 16

	versionSize = int16Size
	kindSize    = int8Size
	buildIDSize = uuidSize
	depthSize   = int32Size
	dimsSize    = int32Size
	countSize   = int64Size
	slotsSize   = int64Size
	wordsSize   = int32Size

	pointsPrefixSize = versionSize + kindSize + buildIDSize + depthSize + dimsSize + countSize
	treePrefixSize   = versionSize + kindSize + buildIDSize + dimsSize + slotsSize + wordsSize

	binaryVersion = 1

	pointsKind = 1
	treeKind   = 2
)

// Points is a point slice in flight to the rank taking over the high
// half of a split, tagged with the recursion depth it lands at.
type Points struct {
	BuildID string
	Depth   int
	Dims    int
	Coords  []float64 // flat, stride Dims
}

// Tree is a subtree in flight back to the parent rank, in the flat
// complete-array layout with an out-of-band presence mask.
type Tree struct {
	BuildID string
	Dims    int
	Coords  []float64      // full array, slots*Dims
	Present *bitset.BitSet // genuine slots
}

// Codec encodes and decodes build frames. Each rank owns one Codec.
type Codec struct {
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewCodec returns a ready Codec.
func NewCodec() (*Codec, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{zenc: zenc, zdec: zdec}, nil
}

// EncodePoints serializes a points frame.
func (c *Codec) EncodePoints(p *Points) ([]byte, error) {
	uid, err := uuid.Parse(p.BuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse build ID: %w", err)
	}

	out := make([]byte, pointsPrefixSize)
	binary.LittleEndian.PutUint16(out[0:2], binaryVersion)
	out[2] = pointsKind
	copy(out[3:19], uid[:])
	binary.LittleEndian.PutUint32(out[19:23], uint32(p.Depth))
	binary.LittleEndian.PutUint32(out[23:27], uint32(p.Dims))
	binary.LittleEndian.PutUint64(out[27:35], uint64(len(p.Coords)/p.Dims))

	return c.zenc.EncodeAll(floatsToBytes(p.Coords), out), nil
}

// DecodePoints deserializes a points frame.
func (c *Codec) DecodePoints(data []byte) (*Points, error) {
	if len(data) < pointsPrefixSize {
		return nil, fmt.Errorf("points frame too short: %d bytes", len(data))
	}
	if v := binary.LittleEndian.Uint16(data[0:2]); v != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", v)
	}
	if data[2] != pointsKind {
		return nil, fmt.Errorf("unexpected frame kind: %d", data[2])
	}

	p := &Points{}

	uid := uuid.UUID{}
	copy(uid[:], data[3:19])
	p.BuildID = uid.String()

	p.Depth = int(binary.LittleEndian.Uint32(data[19:23]))
	p.Dims = int(binary.LittleEndian.Uint32(data[23:27]))
	count := int(binary.LittleEndian.Uint64(data[27:35]))

	raw, err := c.zdec.DecodeAll(data[pointsPrefixSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress points payload: %w", err)
	}
	if len(raw) != count*p.Dims*int64Size {
		return nil, fmt.Errorf("points payload size mismatch: got %d bytes want %d", len(raw), count*p.Dims*int64Size)
	}

	p.Coords = bytesToFloats(raw)
	return p, nil
}

// EncodeTree serializes a tree frame. Only the coordinates of genuine
// slots travel; padding slots are reconstructed from the presence mask.
func (c *Codec) EncodeTree(t *Tree) ([]byte, error) {
	uid, err := uuid.Parse(t.BuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse build ID: %w", err)
	}

	slots := len(t.Coords) / t.Dims
	present := t.Present
	if present == nil {
		present = bitset.New(uint(slots))
	}
	words := present.Bytes()

	out := make([]byte, treePrefixSize+len(words)*int64Size)
	binary.LittleEndian.PutUint16(out[0:2], binaryVersion)
	out[2] = treeKind
	copy(out[3:19], uid[:])
	binary.LittleEndian.PutUint32(out[19:23], uint32(t.Dims))
	binary.LittleEndian.PutUint64(out[23:31], uint64(slots))
	binary.LittleEndian.PutUint32(out[31:35], uint32(len(words)))
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[treePrefixSize+i*int64Size:], w)
	}

	genuine := make([]float64, 0, len(t.Coords))
	for i := 0; i < slots; i++ {
		if present.Test(uint(i)) {
			genuine = append(genuine, t.Coords[i*t.Dims:(i+1)*t.Dims]...)
		}
	}

	return c.zenc.EncodeAll(floatsToBytes(genuine), out), nil
}

// DecodeTree deserializes a tree frame back into the full array layout,
// with padding slots zeroed and unset in the presence mask.
func (c *Codec) DecodeTree(data []byte) (*Tree, error) {
	if len(data) < treePrefixSize {
		return nil, fmt.Errorf("tree frame too short: %d bytes", len(data))
	}
	if v := binary.LittleEndian.Uint16(data[0:2]); v != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", v)
	}
	if data[2] != treeKind {
		return nil, fmt.Errorf("unexpected frame kind: %d", data[2])
	}

	t := &Tree{}

	uid := uuid.UUID{}
	copy(uid[:], data[3:19])
	t.BuildID = uid.String()

	t.Dims = int(binary.LittleEndian.Uint32(data[19:23]))
	slots := int(binary.LittleEndian.Uint64(data[23:31]))
	nWords := int(binary.LittleEndian.Uint32(data[31:35]))

	if nWords != (slots+63)/64 {
		return nil, fmt.Errorf("tree presence mask has %d words, want %d for %d slots", nWords, (slots+63)/64, slots)
	}
	if len(data) < treePrefixSize+nWords*int64Size {
		return nil, fmt.Errorf("tree frame truncated: %d bytes", len(data))
	}

	words := make([]uint64, nWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[treePrefixSize+i*int64Size:])
	}
	t.Present = bitset.FromWithLength(uint(slots), words)

	raw, err := c.zdec.DecodeAll(data[treePrefixSize+nWords*int64Size:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tree payload: %w", err)
	}

	genuine := int(t.Present.Count())
	if len(raw) != genuine*t.Dims*int64Size {
		return nil, fmt.Errorf("tree payload size mismatch: got %d bytes want %d", len(raw), genuine*t.Dims*int64Size)
	}

	packed := bytesToFloats(raw)
	t.Coords = make([]float64, slots*t.Dims)
	next := 0
	for i := 0; i < slots; i++ {
		if t.Present.Test(uint(i)) {
			copy(t.Coords[i*t.Dims:(i+1)*t.Dims], packed[next:next+t.Dims])
			next += t.Dims
		}
	}

	return t, nil
}

func floatsToBytes(fs []float64) []byte {
	out := make([]byte, len(fs)*int64Size)
	for i, f := range fs {
		binary.LittleEndian.PutUint64(out[i*int64Size:], math.Float64bits(f))
	}
	return out
}

func bytesToFloats(bs []byte) []float64 {
	out := make([]float64, len(bs)/int64Size)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(bs[i*int64Size:]))
	}
	return out
}
