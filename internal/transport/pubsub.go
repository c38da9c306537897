package transport

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nodeweave/overlay/pkg/overlay"
)

// GossipPubSub implements overlay.GossipPubSub over go-libp2p-pubsub,
// lazily joining each topic it's asked to publish or subscribe to.
type GossipPubSub struct {
	ps     *pubsub.PubSub
	selfID peer.ID

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGossipPubSub wraps an already-constructed *pubsub.PubSub (typically
// built with pubsub.NewGossipSub(ctx, host)). selfID is used to filter
// out this node's own published messages on the receive side.
func NewGossipPubSub(ps *pubsub.PubSub, selfID peer.ID) *GossipPubSub {
	return &GossipPubSub{ps: ps, selfID: selfID, topics: make(map[string]*pubsub.Topic)}
}

func (g *GossipPubSub) topic(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

func (g *GossipPubSub) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

func (g *GossipPubSub) Subscribe(topic string, handler func(from overlay.PeerId, data []byte)) (func(), error) {
	t, err := g.topic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return // context canceled via unsubscribe, or subscription closed
			}
			if msg.ReceivedFrom == g.selfID {
				continue
			}
			handler(msg.ReceivedFrom, msg.Data)
		}
	}()

	return func() {
		cancel()
		sub.Cancel()
	}, nil
}
