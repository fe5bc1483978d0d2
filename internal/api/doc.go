// Package api implements the HTTP REST API and WebSocket server for HomeNet.
//
// This package provides:
//   - REST endpoints for device CRUD on the device database
//   - Live value reads and writes, delegated to the Z-Wave bridge by node
//   - Flush-and-save of the device database on demand
//   - WebSocket hub broadcasting device and node value events
//   - Optional JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Architecture
//
// The server sits between clients and two collaborators: the device store,
// which owns device identity and metadata, and the driver, which resolves a
// device's node number to live values. The store never sees values; the
// API looks the device up first and then asks the driver.
//
// # Degradation
//
// The driver is optional. Without it, device CRUD works and value routes
// answer 503. While the device database is loading, reads return nothing
// and writes answer 503; once it is unavailable, everything answers 503.
//
// All routes live under /api/v1, except the Prometheus exposition on
// /metrics.
package api
