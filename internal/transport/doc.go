// Package transport provides the device-link layer for Multigate.
//
// A Connector carries opaque request and response frames between a device
// session and the physical device. The TCP implementation frames messages
// with a configurable terminator and reconnects automatically with
// exponential backoff; sessions never manage sockets themselves.
//
// Architecture:
//
//	session ──Send──▶ Connector ──TCP──▶ device
//	session ◀─frame── callback queue ◀── receive loop
//
// Received frames are handed to the registered callback from a single
// delivery goroutine, in the order they arrived on the wire. Response
// attribution downstream depends on that order, so a full queue blocks
// the receive loop instead of dropping frames.
package transport
