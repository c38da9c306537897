package overlay

import "errors"

// Error kinds of the overlay core. Forwarder.Originate returns
// ErrRouteNotFound or a wrapped ErrTransportFailure, and Forwarder.Ingest
// reports the kind behind a drop in IngestResult.Err; RouteTable.Find
// returns a plain (Route, bool).
var (
	// ErrRouteNotFound means no path to the destination existed even
	// after the relay fallback was consulted.
	ErrRouteNotFound = errors.New("route not found")

	// ErrMessageExpired means a message's TTL was exceeded before ingest.
	ErrMessageExpired = errors.New("message expired")

	// ErrMaxHops means a message's hop count reached the configured bound.
	ErrMaxHops = errors.New("max hops exceeded")

	// ErrDuplicateMessage means a message id was already present in the
	// dedup ledger. Reported only through IngestResult.Err.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrDeserializationFailure means a wire frame failed to parse.
	ErrDeserializationFailure = errors.New("malformed wire frame")

	// ErrTransportFailure wraps a collaborator-reported dial/publish
	// failure translated into route-failure feedback.
	ErrTransportFailure = errors.New("transport failure")
)
