package overlay

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// newTestPeerID returns a valid, routable peer.ID backed by a freshly
// generated Ed25519 key, so wire round-trips through peer.Decode succeed.
func newTestPeerID(t *testing.T) PeerId {
	t.Helper()
	id, err := genRealPeerID()
	if err != nil {
		t.Fatalf("generate peer id: %v", err)
	}
	return id
}

// genRealPeerID derives a valid, peer.Decode-able peer.ID from a fresh
// Ed25519 key. Property tests that must round-trip ids through the wire
// codec draw from a small precomputed pool built with this instead of
// synthesizing arbitrary byte strings, which are not valid multihashes.
func genRealPeerID() (PeerId, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(priv)
}

// genRealPeerIDPool builds n distinct valid peer ids once, for rapid
// properties to index into via Draw rather than generating per-draw.
func genRealPeerIDPool(n int) []PeerId {
	pool := make([]PeerId, n)
	for i := range pool {
		id, err := genRealPeerID()
		if err != nil {
			panic(err)
		}
		pool[i] = id
	}
	return pool
}

// nopWriteCloser adapts a bytes.Buffer to io.WriteCloser for DirectSender fakes.
type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

// fakeSender records every frame written to each destination peer and
// can be configured to fail dials to specific peers.
type fakeSender struct {
	mu      sync.Mutex
	sent    map[PeerId][][]byte
	failing map[PeerId]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[PeerId][][]byte), failing: make(map[PeerId]bool)}
}

func (s *fakeSender) OpenStream(ctx context.Context, p PeerId) (io.WriteCloser, error) {
	s.mu.Lock()
	fail := s.failing[p]
	s.mu.Unlock()
	if fail {
		return nil, errTestDialFailed
	}
	buf := &bytes.Buffer{}
	return &capturingWriteCloser{buf: buf, sender: s, peer: p}, nil
}

func (s *fakeSender) setFailing(p PeerId, fail bool) {
	s.mu.Lock()
	s.failing[p] = fail
	s.mu.Unlock()
}

func (s *fakeSender) framesTo(p PeerId) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.sent[p]...)
}

type capturingWriteCloser struct {
	buf    *bytes.Buffer
	sender *fakeSender
	peer   PeerId
}

func (c *capturingWriteCloser) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c *capturingWriteCloser) Close() error {
	c.sender.mu.Lock()
	c.sender.sent[c.peer] = append(c.sender.sent[c.peer], append([]byte{}, c.buf.Bytes()...))
	c.sender.mu.Unlock()
	return nil
}

var errTestDialFailed = io.ErrClosedPipe
