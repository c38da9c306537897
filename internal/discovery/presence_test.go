package discovery

import (
	"context"
	"sync"
	"testing"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// fakePubSub is an in-memory overlay.GossipPubSub: Publish fans a message
// out to every other subscriber's handler synchronously, simulating a
// single-topic mesh without any real transport.
type fakePubSub struct {
	mu       sync.Mutex
	handlers map[overlay.PeerId]func(overlay.PeerId, []byte)
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{handlers: make(map[overlay.PeerId]func(overlay.PeerId, []byte))}
}

func (f *fakePubSub) registerAs(id overlay.PeerId) *boundPubSub {
	return &boundPubSub{fake: f, self: id}
}

type boundPubSub struct {
	fake *fakePubSub
	self overlay.PeerId
}

func (b *boundPubSub) Publish(ctx context.Context, topic string, data []byte) error {
	b.fake.mu.Lock()
	defer b.fake.mu.Unlock()
	for id, h := range b.fake.handlers {
		if id == b.self {
			continue
		}
		h(b.self, data)
	}
	return nil
}

func (b *boundPubSub) Subscribe(topic string, handler func(from overlay.PeerId, data []byte)) (func(), error) {
	b.fake.mu.Lock()
	b.fake.handlers[b.self] = handler
	b.fake.mu.Unlock()
	return func() {
		b.fake.mu.Lock()
		delete(b.fake.handlers, b.self)
		b.fake.mu.Unlock()
	}, nil
}

func TestPresenceFeedDeliversAnnouncementToPeer(t *testing.T) {
	bus := newFakePubSub()
	selfA := overlay.PeerId("peer-A")
	selfB := overlay.PeerId("peer-B")

	catalogB := newTestCatalog(t)

	feedA := NewPresenceFeed(selfA, bus.registerAs(selfA), newTestCatalog(t), nil, func() ([]overlay.Address, []string, string) {
		return []overlay.Address{"/ip4/10.0.0.1/tcp/4001"}, []string{"relay"}, "v1.0.0"
	})
	feedB := NewPresenceFeed(selfB, bus.registerAs(selfB), catalogB, nil, func() ([]overlay.Address, []string, string) {
		return nil, nil, "v1.0.0"
	})

	ctx := context.Background()
	if err := feedA.Start(ctx); err != nil {
		t.Fatalf("feedA.Start: %v", err)
	}
	defer feedA.Stop()
	if err := feedB.Start(ctx); err != nil {
		t.Fatalf("feedB.Start: %v", err)
	}
	defer feedB.Stop()

	feedA.announce()

	rec, ok := catalogB.ByID(selfA)
	if !ok {
		t.Fatal("expected peer-B's catalog to learn about peer-A")
	}
	if rec.DiscoveryMethod != overlay.DiscoveryPubSub {
		t.Errorf("DiscoveryMethod = %q, want pubsub", rec.DiscoveryMethod)
	}
	if len(rec.Capabilities) != 1 || rec.Capabilities[0] != "relay" {
		t.Errorf("Capabilities = %v, want [relay]", rec.Capabilities)
	}
}

func TestPresenceFeedIgnoresSelf(t *testing.T) {
	bus := newFakePubSub()
	self := overlay.PeerId("peer-self")
	catalog := newTestCatalog(t)

	feed := NewPresenceFeed(self, bus.registerAs(self), catalog, nil, func() ([]overlay.Address, []string, string) {
		return nil, nil, ""
	})
	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer feed.Stop()

	feed.handleMessage(self, []byte(`{"v":1,"peer":"peer-self"}`))

	if _, ok := catalog.ByID(self); ok {
		t.Fatal("expected self-announcement to be ignored")
	}
}

func TestPresenceFeedRejectsOversizedMessage(t *testing.T) {
	bus := newFakePubSub()
	self := overlay.PeerId("peer-self")
	other := overlay.PeerId("peer-other")
	catalog := newTestCatalog(t)

	feed := NewPresenceFeed(self, bus.registerAs(self), catalog, nil, func() ([]overlay.Address, []string, string) {
		return nil, nil, ""
	})
	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer feed.Stop()

	oversized := make([]byte, maxPresenceMessageSize+1)
	feed.handleMessage(other, oversized)

	if _, ok := catalog.ByID(other); ok {
		t.Fatal("expected oversized message to be dropped without catalog update")
	}
}
