// Package api implements the request/response client for the persistence
// collaborator's presence endpoints. The Presence Tracker uses it for its
// primary and fallback status paths.
package api
