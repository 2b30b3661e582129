// Package rooms implements the Session/Room Manager component.
//
// Membership in scoped channels is an idempotent set: joining twice or
// leaving a non-member is a no-op. The set is replayed to the server after
// every successful (re)connection, which is how room subscriptions survive a
// dropped connection. Activity panels for trade sessions layer on top, with a
// short grace period between close and the room leave so the UI collaborator
// can finish its teardown.
package rooms
