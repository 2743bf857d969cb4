// Package callback tracks remote callback clients and the requests waiting
// on them.
//
// A client connects over a duplex channel (a websocket in practice) and is
// registered under its client ID. When an object-callback action runs, the
// dispatcher registers a Pending entry under a fresh correlation ID, pushes
// the inbound request to the client, and waits. Replies from the client are
// routed back by correlation ID through DispatchIncoming.
//
// Each Pending entry carries an explicit state:
//
//	AwaitingForward -> [AwaitingResponseOverride] -> Done
//
// Transitions are compare-and-swap, so a reply is delivered at most once and
// late or duplicate replies are dropped. Entries reaching Done are removed
// from the registry. Both maps are bounded and evict their oldest entry;
// evicted or orphaned pending entries are failed with a 404 response rather
// than left waiting.
package callback
