// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains exactly one logical WebSocket connection per client process
//   - Hides transport churn behind a Disconnected/Connecting/Connected/
//     Reconnecting/Failed state machine
//   - Reconnects on unexpected drops with capped exponential backoff
//   - Emits connection_status events instead of surfacing transport errors
//   - Fans inbound envelopes out through the Event Registry
package connection
