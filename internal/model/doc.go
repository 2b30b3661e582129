// Package model defines the shared types used across the realtime sync core.
//
// Conventions:
//   - Wire messages are JSON envelopes: {type, payload}.
//   - IDs: string for entity (user) ids, uuid.UUID for trade session ids.
//   - Timestamps: time.Time in UTC; *time.Time where absence is meaningful.
package model
