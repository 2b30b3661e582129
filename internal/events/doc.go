// Package events implements the Event Registry, the in-process pub-sub
// fan-out between the Connection Manager and its consumers.
//
// Dispatch is synchronous and transport-agnostic: handlers for a name run in
// registration order, a panicking handler is isolated and logged, and the
// handler list is copied before invocation so handlers may subscribe or
// unsubscribe freely during dispatch.
package events
