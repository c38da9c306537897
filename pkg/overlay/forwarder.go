package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaintenanceInterval = 30 * time.Second
	messageIDRandLen           = 9
	messageIDAlphabet          = "0123456789abcdefghijklmnopqrstuvwxyz"

	dedupLedgerMaxEntries    = 10000
	dedupLedgerCompactedSize = 5000
)

// newMessageID mints an id of the form msg_<millis>_<9-char-base36>: the
// embedded timestamp lets compactLedger age entries out without storing
// a second clock reading per message.
func newMessageID() string {
	suffix := make([]byte, messageIDRandLen)
	for i := range suffix {
		suffix[i] = messageIDAlphabet[rand.IntN(len(messageIDAlphabet))]
	}
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), suffix)
}

// parseMessageMillis extracts the timestamp embedded in a message id
// minted by newMessageID. ok is false for any id not in that format.
func parseMessageMillis(id string) (int64, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "msg" {
		return 0, false
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return millis, true
}

// IngestAction classifies what Ingest did with a received frame.
type IngestAction string

const (
	ActionDelivered             IngestAction = "delivered"
	ActionForwarded             IngestAction = "forwarded"
	ActionDroppedDuplicate      IngestAction = "dropped_duplicate"
	ActionDroppedExpired        IngestAction = "dropped_expired"
	ActionDroppedMaxHops        IngestAction = "dropped_max_hops"
	ActionDroppedMalformed      IngestAction = "dropped_malformed"
	ActionDroppedNoRoute        IngestAction = "dropped_no_route"
	ActionDroppedTransportError IngestAction = "dropped_transport_error"
)

// IngestResult is the outcome of one Ingest call.
type IngestResult struct {
	Action  IngestAction
	Message ForwardedMessage
	Err     error
}

// ForwarderStats accumulates counters across the Forwarder's lifetime.
type ForwarderStats struct {
	MessagesOriginated int64
	MessagesForwarded  int64
	MessagesDelivered  int64
	MessagesDropped    int64
	AverageHops        float64
}

// Forwarder is the message-forwarding state machine of §4.3: it
// originates new messages, ingests received frames, deduplicates by
// message id, and forwards frames that are not addressed to self.
type Forwarder struct {
	cfg     RouterConfig
	selfId  PeerId
	routes  *RouteTable
	sender  DirectSender
	metrics *Metrics
	signals *signalBus

	mu      sync.Mutex
	seen    map[string]time.Time
	stats   ForwarderStats

	maintenanceInterval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// NewForwarder constructs a Forwarder. sender is the collaborator used
// to transmit originated and forwarded frames to a next hop.
func NewForwarder(cfg RouterConfig, selfId PeerId, routes *RouteTable, sender DirectSender, metrics *Metrics, signals *signalBus) *Forwarder {
	return &Forwarder{
		cfg:                 cfg,
		selfId:              selfId,
		routes:              routes,
		sender:              sender,
		metrics:             metrics,
		signals:             signals,
		seen:                make(map[string]time.Time),
		maintenanceInterval: defaultMaintenanceInterval,
	}
}

// Start begins periodic dedup-ledger and route-table maintenance.
// Idempotent.
func (f *Forwarder) Start(ctx context.Context) {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)
	f.eg = eg
	eg.Go(func() error { f.maintenanceLoop(egCtx); return nil })
}

// Stop halts the maintenance loop and waits for it to exit. Idempotent.
func (f *Forwarder) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	f.cancel()
	_ = f.eg.Wait()
}

// maintenanceLoop runs dedup-ledger compaction and route-table expiry
// cleanup on a fixed tick, independent of MessageTTL: the ledger and
// route table age out on their own schedules, not the caller's.
func (f *Forwarder) maintenanceLoop(ctx context.Context) {
	interval := f.maintenanceInterval
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.compactLedger()
			f.routes.CleanupExpired()
		}
	}
}

// compactLedger drops ledger entries that can no longer affect dedup
// decisions: a message whose id embeds a timestamp older than twice the
// message TTL can never again be accepted as non-expired, so remembering
// it serves no further purpose. Entries whose id predates this id format
// fall back to the seenAt timestamp. If the ledger has then grown past
// dedupLedgerMaxEntries, it is trimmed to its dedupLedgerCompactedSize
// most recently seen entries.
func (f *Forwarder) compactLedger() {
	now := time.Now()
	maxAge := 2 * f.cfg.MessageTTL
	f.mu.Lock()
	for id, seenAt := range f.seen {
		if millis, ok := parseMessageMillis(id); ok {
			if now.Sub(time.UnixMilli(millis)) > maxAge {
				delete(f.seen, id)
			}
			continue
		}
		if now.Sub(seenAt) > maxAge {
			delete(f.seen, id)
		}
	}
	f.compactToMostRecentLocked(dedupLedgerCompactedSize)
	f.mu.Unlock()
}

// compactToMostRecentLocked trims the ledger to its keep most recently
// seen entries once it exceeds dedupLedgerMaxEntries. Callers must hold
// f.mu.
func (f *Forwarder) compactToMostRecentLocked(keep int) {
	if len(f.seen) <= dedupLedgerMaxEntries {
		return
	}
	type seenEntry struct {
		id     string
		seenAt time.Time
	}
	entries := make([]seenEntry, 0, len(f.seen))
	for id, seenAt := range f.seen {
		entries = append(entries, seenEntry{id, seenAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seenAt.After(entries[j].seenAt) })
	if keep > len(entries) {
		keep = len(entries)
	}
	kept := make(map[string]time.Time, keep)
	for _, e := range entries[:keep] {
		kept[e.id] = e.seenAt
	}
	f.seen = kept
}

// Originate creates and sends a new message toward destination. The
// returned message reflects exactly what was put on the wire. Sending
// to self is rejected before any routing is attempted.
func (f *Forwarder) Originate(ctx context.Context, destination PeerId, payload []byte) (ForwardedMessage, error) {
	if destination == f.selfId {
		return ForwardedMessage{}, nil
	}

	msg := ForwardedMessage{
		ID:          newMessageID(),
		Source:      f.selfId,
		Destination: destination,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
		TTL:         f.cfg.MessageTTL.Milliseconds(),
		HopCount:    0,
		Path:        []PeerId{f.selfId},
	}

	route, ok := f.routes.Find(destination)
	if !ok {
		f.dropLocked(ActionDroppedNoRoute)
		if f.metrics != nil {
			f.metrics.MessagesFailedTotal.Inc()
		}
		return msg, ErrRouteNotFound
	}
	msg.Path = append(msg.Path, route.NextHop)

	if err := f.transmit(ctx, route.NextHop, &msg); err != nil {
		f.routes.RecordFailure(destination)
		f.dropLocked(ActionDroppedTransportError)
		if f.metrics != nil {
			f.metrics.MessagesFailedTotal.Inc()
		}
		return msg, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	f.markSeen(msg.ID)
	f.routes.RecordSuccess(destination)
	f.incOriginated()
	if f.metrics != nil {
		f.metrics.MessagesRoutedTotal.Inc()
	}
	f.emit(SignalMessageRouted, route.NextHop, "originated")
	return msg, nil
}

// Ingest processes a wire frame received directly from fromPeer. It
// deduplicates, checks expiry and hop limits, delivers frames addressed
// to self, and forwards everything else toward its destination.
func (f *Forwarder) Ingest(ctx context.Context, fromPeer PeerId, raw []byte) IngestResult {
	msg, ok := decodeMessage(raw)
	if !ok {
		f.dropLocked(ActionDroppedMalformed)
		if f.metrics != nil {
			f.metrics.MessagesDroppedTotal.WithLabelValues("malformed").Inc()
		}
		return IngestResult{Action: ActionDroppedMalformed, Err: ErrDeserializationFailure}
	}

	if f.isDuplicate(msg.ID) {
		f.dropLocked(ActionDroppedDuplicate)
		if f.metrics != nil {
			f.metrics.MessagesDroppedTotal.WithLabelValues("duplicate").Inc()
		}
		return IngestResult{Action: ActionDroppedDuplicate, Message: msg, Err: ErrDuplicateMessage}
	}
	f.markSeen(msg.ID)

	if msg.age(time.Now().UnixMilli()) > time.Duration(msg.TTL)*time.Millisecond {
		f.dropLocked(ActionDroppedExpired)
		if f.metrics != nil {
			f.metrics.MessagesDroppedTotal.WithLabelValues("expired").Inc()
		}
		f.emit(SignalMessageExpired, msg.Source, msg.ID)
		return IngestResult{Action: ActionDroppedExpired, Message: msg, Err: ErrMessageExpired}
	}

	if len(msg.Path) > 0 {
		f.routes.LearnFromPath(f.selfId, msg.Path)
	}

	if msg.HopCount+1 > f.cfg.MaxHops {
		f.dropLocked(ActionDroppedMaxHops)
		if f.metrics != nil {
			f.metrics.MessagesDroppedTotal.WithLabelValues("max_hops").Inc()
		}
		f.emit(SignalMessageMaxHops, msg.Destination, msg.ID)
		return IngestResult{Action: ActionDroppedMaxHops, Message: msg, Err: ErrMaxHops}
	}

	if msg.Destination == f.selfId {
		f.deliverLocked(msg.HopCount)
		if f.metrics != nil {
			f.metrics.MessagesDeliveredTotal.Inc()
		}
		f.emit(SignalMessageDelivered, msg.Source, msg.ID)
		return IngestResult{Action: ActionDelivered, Message: msg}
	}

	route, ok := f.routes.Find(msg.Destination)
	if !ok {
		f.dropLocked(ActionDroppedNoRoute)
		if f.metrics != nil {
			f.metrics.MessagesFailedTotal.Inc()
		}
		return IngestResult{Action: ActionDroppedNoRoute, Message: msg, Err: ErrRouteNotFound}
	}

	forwardMsg := msg
	forwardMsg.HopCount++
	forwardMsg.Path = append(append([]PeerId{}, msg.Path...), f.selfId)

	if err := f.transmit(ctx, route.NextHop, &forwardMsg); err != nil {
		f.routes.RecordFailure(msg.Destination)
		f.dropLocked(ActionDroppedTransportError)
		if f.metrics != nil {
			f.metrics.MessagesFailedTotal.Inc()
		}
		return IngestResult{Action: ActionDroppedTransportError, Message: forwardMsg, Err: fmt.Errorf("%w: %v", ErrTransportFailure, err)}
	}

	f.routes.RecordSuccess(msg.Destination)
	f.incForwarded()
	if f.metrics != nil {
		f.metrics.MessagesRoutedTotal.Inc()
	}
	f.emit(SignalMessageRouted, route.NextHop, forwardMsg.ID)
	return IngestResult{Action: ActionForwarded, Message: forwardMsg}
}

func (f *Forwarder) transmit(ctx context.Context, nextHop PeerId, msg *ForwardedMessage) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectionTimeout)
	defer cancel()
	w, err := f.sender.OpenStream(dialCtx, nextHop)
	if err != nil {
		return err
	}
	defer w.Close()
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (f *Forwarder) isDuplicate(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, dup := f.seen[id]
	return dup
}

func (f *Forwarder) markSeen(id string) {
	f.mu.Lock()
	f.seen[id] = time.Now()
	f.compactToMostRecentLocked(dedupLedgerCompactedSize)
	f.mu.Unlock()
}

func (f *Forwarder) incOriginated() {
	f.mu.Lock()
	f.stats.MessagesOriginated++
	f.mu.Unlock()
}

func (f *Forwarder) incForwarded() {
	f.mu.Lock()
	f.stats.MessagesForwarded++
	f.mu.Unlock()
}

// deliverLocked records a local delivery and updates the cumulative
// mean hop count seen across all delivered messages.
func (f *Forwarder) deliverLocked(hops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.MessagesDelivered++
	n := float64(f.stats.MessagesDelivered)
	f.stats.AverageHops += (float64(hops) - f.stats.AverageHops) / n
}

func (f *Forwarder) dropLocked(action IngestAction) {
	f.mu.Lock()
	f.stats.MessagesDropped++
	f.mu.Unlock()
	slog.Debug("forwarder: dropped", "action", string(action))
}

// GetStats returns a snapshot of accumulated counters.
func (f *Forwarder) GetStats() ForwarderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Forwarder) emit(kind SignalKind, peer PeerId, msg string) {
	if f.signals != nil {
		f.signals.emit(Signal{Kind: kind, Peer: peer, Message: msg})
	}
}
