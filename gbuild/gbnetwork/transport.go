// Package gbnetwork provides the message-passing substrate the
// distributed build runs on: blocking point-to-point send/receive
// between the fixed ranks of a process group.
package gbnetwork

import (
	"context"
	"fmt"
)

// Kind tags the payload carried by a Message.
type Kind uint8

const (
	// KindPoints carries a point slice descending the virtual tree.
	KindPoints Kind = iota + 1
	// KindTree carries a serialized subtree converging back up.
	KindTree
)

// Message is a single point-to-point frame.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Transport is one rank's endpoint into the group. Send and Recv are
// blocking and MPI-like: Recv takes the sender's rank, and messages
// between any (sender, receiver) pair are delivered in order. Both
// return the context error if the context is canceled while blocked.
type Transport interface {
	// Rank returns this endpoint's rank, in [0, Size).
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int

	Send(ctx context.Context, to int, m Message) error
	Recv(ctx context.Context, from int) (Message, error)
}

// Config contains LocalNetwork configuration.
type Config struct {
	// BufferSize is the capacity of each rank-pair channel.
	BufferSize int
}

// DefaultConfig returns standard LocalNetwork configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 32}
}

// LocalNetwork connects a group of in-process ranks with one buffered
// channel per ordered rank pair. The whole network must be created
// before any rank starts; endpoints are then handed out via Transport.
type LocalNetwork struct {
	// chans[from][to] carries messages from rank "from" to rank "to".
	chans [][]chan Message
	size  int
}

// NewLocalNetwork returns a network connecting size ranks.
func NewLocalNetwork(size int, cfg Config) *LocalNetwork {
	if cfg.BufferSize <= 0 {
		cfg = DefaultConfig()
	}

	chans := make([][]chan Message, size)
	for from := range chans {
		chans[from] = make([]chan Message, size)
		for to := range chans[from] {
			if to != from {
				chans[from][to] = make(chan Message, cfg.BufferSize)
			}
		}
	}

	return &LocalNetwork{chans: chans, size: size}
}

// Size returns the number of ranks in the network.
func (n *LocalNetwork) Size() int { return n.size }

// Transport returns the endpoint for the given rank.
func (n *LocalNetwork) Transport(rank int) Transport {
	return &localTransport{net: n, rank: rank}
}

type localTransport struct {
	net  *LocalNetwork
	rank int
}

func (t *localTransport) Rank() int { return t.rank }

func (t *localTransport) Size() int { return t.net.size }

func (t *localTransport) Send(ctx context.Context, to int, m Message) error {
	if to < 0 || to >= t.net.size || to == t.rank {
		return fmt.Errorf("invalid send target %d from rank %d", to, t.rank)
	}

	select {
	case t.net.chans[t.rank][to] <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *localTransport) Recv(ctx context.Context, from int) (Message, error) {
	if from < 0 || from >= t.net.size || from == t.rank {
		return Message{}, fmt.Errorf("invalid recv source %d at rank %d", from, t.rank)
	}

	select {
	case m := <-t.net.chans[from][t.rank]:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
