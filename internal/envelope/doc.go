// Package envelope implements the wire format of the real-time stream.
//
// Every frame on the connection is a JSON object discriminated by its "type"
// field:
//   - Outbound control frames: subscribe, unsubscribe, ping (see Command)
//   - Inbound control frames: connected, subscribed, unsubscribed, pong
//   - Inbound business frames: execution_update, execution_log, notification,
//     log and complete (auxiliary stream)
//
// Decode turns a raw frame into one variant of the closed Envelope sum type.
// Kinds this package does not know decode to *Unknown so callers can drop
// them without treating them as errors.
package envelope
