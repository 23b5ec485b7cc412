// Package api implements the HTTP REST API and WebSocket server for Beamline Core.
//
// This package provides:
//   - REST endpoints for the device catalog and screen control
//   - WebSocket hub streaming screen updates and errors
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Audit trail listing, with screen opens and closes recorded
//   - Prometheus exposition at the configured metrics path
//
// # Architecture
//
// The API sits between operator tools and the screen manager. Move
// requests are accepted immediately (202); their outcome reaches clients
// as events on the WebSocket, because a screen reports through its
// handler rather than a return value.
//
//	POST /api/v1/screens/{name}/target ──▶ screen.Manager ──▶ Screen loop
//	                                                            │
//	GET /api/v1/ws ◀── Hub ◀── events.Dispatcher ◀──────────────┘
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. Catalog reads, screen control
// against the memory backend, and WebSocket streaming still work.
package api
