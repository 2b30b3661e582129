// Package bridge implements the State Bridge component.
//
// Inbound wire events map to exactly one state-mutation action each, applied
// to the state-store collaborator strictly in receipt order; trade status
// transitions are not commutative, so no reordering or batching is permitted.
// An allow-list of outbound local actions is mirrored to the server. Bursts
// of related events coalesce into one debounced counters-refresh signal.
package bridge
