// Package journal implements an optional batched audit sink: every inbound
// realtime envelope is appended to Postgres for offline diagnostics and
// replay. The journal observes the Event Registry's catch-all stream and
// never sits on the dispatch path; a full buffer drops rows rather than
// stalling delivery.
package journal
