package overlay

import (
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/peer"
)

func decodePeer(s string) (PeerId, error) {
	return peer.Decode(s)
}

// wireMessage is the exact UTF-8 JSON frame exchanged on the wire (§6):
// {id, source, destination, payload, timestamp, ttl, hopCount, path}.
// Payload is base64 per encoding/json's default []byte handling.
type wireMessage struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Payload     []byte   `json:"payload"`
	Timestamp   int64    `json:"timestamp"`
	TTL         int64    `json:"ttl"`
	HopCount    int      `json:"hopCount"`
	Path        []string `json:"path"`
}

// encodeMessage serializes m to its wire JSON form.
func encodeMessage(m *ForwardedMessage) ([]byte, error) {
	w := wireMessage{
		ID:          m.ID,
		Source:      m.Source.String(),
		Destination: m.Destination.String(),
		Payload:     m.Payload,
		Timestamp:   m.Timestamp,
		TTL:         m.TTL,
		HopCount:    m.HopCount,
		Path:        make([]string, len(m.Path)),
	}
	for i, p := range m.Path {
		w.Path[i] = p.String()
	}
	return json.Marshal(w)
}

// decodeMessage parses a wire frame. Any parse failure — malformed
// JSON, an unparsable peer id, or invalid base64 — is reported via the
// returned bool rather than an error, per §6: deserialization failures
// are dropped, not raised as application errors.
func decodeMessage(data []byte) (ForwardedMessage, bool) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return ForwardedMessage{}, false
	}
	src, err := decodePeer(w.Source)
	if err != nil {
		return ForwardedMessage{}, false
	}
	dst, err := decodePeer(w.Destination)
	if err != nil {
		return ForwardedMessage{}, false
	}
	path := make([]PeerId, 0, len(w.Path))
	for _, s := range w.Path {
		p, err := decodePeer(s)
		if err != nil {
			return ForwardedMessage{}, false
		}
		path = append(path, p)
	}
	return ForwardedMessage{
		ID:          w.ID,
		Source:      src,
		Destination: dst,
		Payload:     w.Payload,
		Timestamp:   w.Timestamp,
		TTL:         w.TTL,
		HopCount:    w.HopCount,
		Path:        path,
	}, true
}
