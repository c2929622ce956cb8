// Package api implements the HTTP REST API and WebSocket server for Multigate.
//
// This package provides:
//   - REST endpoints for item values, device read requests, and history
//   - WebSocket hub for real-time item and availability broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server is a read-mostly window onto the gateway. Item values and
// device availability are served from the gateway's in-memory caches; writes
// and read requests are routed into the same dispatcher pipeline that MQTT
// set topics feed, so a PUT on an item behaves exactly like a message on its
// set topic. Real-time updates reach WebSocket clients through a gateway
// watch channel relayed by the server's watch loop.
//
// # Graceful Degradation
//
// The history store is optional. Without it the history endpoints return
// 503 and everything else keeps working.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
