// Package overlay implements the routing and peer-quality core of a
// peer-to-peer messaging overlay: a learned route cache (RouteTable), a
// scored peer catalogue (PeerCatalog), and a message forwarding state
// machine (Forwarder) that ties the two together.
//
// The package assumes a lower transport layer it never touches directly:
// a stable local peer.ID, a set of currently open connections, per-connection
// RTT measurements, a gossip publish/subscribe primitive, and a direct-send
// stream primitive. Those are expressed here only as narrow collaborator
// interfaces (see collaborators.go); dialing, handshakes, and NAT traversal
// live outside this package.
package overlay
