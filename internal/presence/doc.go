// Package presence implements the Presence Tracker component.
//
// The tracker answers "is entity X online, and since when" from the freshest
// source available: the local user is always known-online, push updates are
// authoritative, cached values serve within a TTL, and the query path
// degrades through a primary status endpoint, a fallback endpoint, and
// finally the last cached value. Queries never block indefinitely and never
// return an error; degraded results carry a soft unknown flag.
package presence
