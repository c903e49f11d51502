// Package relay implements the live-stream and call signaling switch.
//
// A Relay owns a Registry (user -> socket) and a Rooms table (stream ->
// host + viewers). Both are confined to the goroutine running Relay.Run;
// sockets feed it through Connect, Dispatch and Disconnect, which enqueue
// work in arrival order. Delivery is best effort: envelopes for unknown
// users or streams are dropped and nothing is reported back to the sender.
package relay
