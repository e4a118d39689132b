package gbnetwork_test

import (
	"context"
	"testing"
	"time"

	"github.com/grove-engine/grove/gbuild/gbnetwork"
	"github.com/stretchr/testify/require"
)

func TestLocalNetwork_SendRecv(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := gbnetwork.NewLocalNetwork(3, gbnetwork.DefaultConfig())

	t0 := net.Transport(0)
	t2 := net.Transport(2)

	require.Equal(t, 0, t0.Rank())
	require.Equal(t, 3, t0.Size())

	want := gbnetwork.Message{Kind: gbnetwork.KindPoints, Payload: []byte("hello")}
	require.NoError(t, t0.Send(ctx, 2, want))

	got, err := t2.Recv(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLocalNetwork_PairFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := gbnetwork.NewLocalNetwork(2, gbnetwork.DefaultConfig())

	t0 := net.Transport(0)
	t1 := net.Transport(1)

	for i := byte(0); i < 5; i++ {
		require.NoError(t, t0.Send(ctx, 1, gbnetwork.Message{Kind: gbnetwork.KindPoints, Payload: []byte{i}}))
	}
	for i := byte(0); i < 5; i++ {
		m, err := t1.Recv(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, []byte{i}, m.Payload)
	}
}

func TestLocalNetwork_RecvUnblocksOnCancel(t *testing.T) {
	t.Parallel()

	net := gbnetwork.NewLocalNetwork(2, gbnetwork.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := net.Transport(1).Recv(ctx, 0)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock on cancellation")
	}
}

func TestLocalNetwork_InvalidPeers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := gbnetwork.NewLocalNetwork(2, gbnetwork.DefaultConfig())
	tr := net.Transport(0)

	require.Error(t, tr.Send(ctx, 0, gbnetwork.Message{}))
	require.Error(t, tr.Send(ctx, 2, gbnetwork.Message{}))

	_, err := tr.Recv(ctx, -1)
	require.Error(t, err)
}
