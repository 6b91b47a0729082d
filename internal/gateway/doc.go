// Package gateway assembles the orchestration core behind one HTTP server.
//
// # Overview
//
// The gateway wires the store, bot pool, credit ledger, dedupe window, setup
// orchestrator, and message router together, and exposes them as a JSON API.
// Channel adapters (Telegram webhook receivers, SMS callbacks, mail ingesters)
// normalize provider payloads and POST them to /api/inbound; the response
// carries the reply to relay back to the participant.
//
// # Endpoints
//
// Traffic:
//
//	POST /api/inbound        one normalized inbound message; 204 for silent drops
//
// Administration:
//
//	POST   /api/tenants                     create tenant (welcome grant applied once)
//	POST   /api/bots                        register bot credential
//	DELETE /api/bots/{id}                   revoke bot
//	GET    /api/tenants/{id}/bots           list tenant bots
//	GET    /api/tenants/{id}/balance        ledger balance projection
//	GET    /api/tenants/{id}/transactions   recent ledger entries
//	POST   /api/credits/grant               idempotent credit grant
//
// Health:
//
//	GET /health        liveness
//	GET /health/ready  store reachability
//
// # Lifecycle
//
// Run blocks until the context is canceled, then shuts the HTTP server down
// gracefully and closes the store. A background sweeper abandons setup
// sessions with no activity past the configured window.
package gateway
