// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single WebSocket connection of a stream session
//   - Opens it lazily on the first subscription request; concurrent
//     requests join the same in-flight attempt
//   - Multiplexes topic subscriptions over it and re-asserts them after a
//     reconnection
//   - Sends an application-level heartbeat while the connection is open
//   - Reconnects with exponential backoff after an abnormal close, up to a
//     retry ceiling
//   - Decodes inbound frames in wire order and hands them to a Dispatcher
package connection
