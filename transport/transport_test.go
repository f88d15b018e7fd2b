package transport

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestTransport(t *testing.T, ctx context.Context) *Transport {
	t.Helper()
	h, err := NewHost(HostConfig{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := New(ctx, Config{Host: h})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func connect(t *testing.T, ctx context.Context, a, b *Transport) {
	t.Helper()
	addrInfo := peer.AddrInfo{ID: b.host.ID(), Addrs: b.host.Addrs()}
	if err := a.host.Connect(ctx, addrInfo); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestBroadcastRejectsUnknownTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newTestTransport(t, ctx)

	if err := tr.Broadcast(ctx, "/bogus/topic", []byte("x")); err == nil {
		t.Fatalf("expected error broadcasting on an unjoined topic")
	}
}

func TestSubscribeRejectsUnknownTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newTestTransport(t, ctx)

	if _, err := tr.Subscribe("/bogus/topic"); err == nil {
		t.Fatalf("expected error subscribing to an unjoined topic")
	}
}

func TestBroadcastDeliversAcrossPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestTransport(t, ctx)
	b := newTestTransport(t, ctx)
	connect(t, ctx, a, b)

	sub, err := b.Subscribe(TopicBlock)
	if err != nil {
		t.Fatal(err)
	}

	// gossipsub meshes take a few heartbeats to form; retry until the
	// publish is actually seen by the subscriber or the deadline expires.
	deadline := time.Now().Add(10 * time.Second)
	var received Message
	for time.Now().Before(deadline) {
		if err := a.Broadcast(ctx, TopicBlock, []byte("hello-block")); err != nil {
			t.Fatal(err)
		}
		select {
		case received = <-sub:
			if string(received.Bytes) == "hello-block" {
				return
			}
		case <-time.After(300 * time.Millisecond):
		}
	}
	t.Fatalf("did not receive broadcast message before deadline")
}

func TestPeerCountReflectsConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestTransport(t, ctx)
	b := newTestTransport(t, ctx)

	if a.PeerCount() != 0 {
		t.Fatalf("expected 0 peers before connecting")
	}
	connect(t, ctx, a, b)
	if a.PeerCount() != 1 {
		t.Fatalf("peer count = %d, want 1", a.PeerCount())
	}
}

func TestAllTopicsJoinedOnNew(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newTestTransport(t, ctx)

	for _, topic := range []string{TopicTx, TopicBlock, TopicVote} {
		if _, ok := tr.topics[topic]; !ok {
			t.Fatalf("expected topic %s to be joined", topic)
		}
	}
}
