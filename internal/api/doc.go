// Package api provides the JSON HTTP API for QueryPilot.
//
// Routes:
//
//	GET  /health                           liveness probe
//	GET  /ready                            readiness probe (checks the app pool)
//
//	POST /api/v1/queries                   generate SQL for a question
//	GET  /api/v1/queries                   list the caller's attempts
//	GET  /api/v1/queries/{id}              fetch one attempt
//	POST /api/v1/queries/{id}/execute      run the generated SQL (once)
//	POST /api/v1/queries/{id}/rerun        new attempt for the same question
//	GET  /api/v1/queries/{id}/results      page through frozen results
//	GET  /api/v1/queries/{id}/export       download results as CSV
//
//	POST /api/v1/conversations             start a conversation
//	GET  /api/v1/conversations             list the caller's conversations
//	GET  /api/v1/conversations/{id}        fetch one conversation
//	GET  /api/v1/conversations/{id}/messages  full message tree
//
//	POST /api/v1/admin/schema/refresh      reload the schema catalog
//	POST /api/v1/admin/kb/reload           re-embed the knowledge base
//	GET  /api/v1/stats                     catalog and knowledge base stats
//
// Callers identify themselves with the X-User-ID header; requests without it
// are rejected. Rate limiting is per user.
//
// File structure:
//   - server.go: server setup, routing, middleware stack, lifecycle
//   - middleware.go: recovery, request ID, logging, CORS, user identity
//   - ratelimit.go: per-user token bucket
//   - query.go: attempt endpoints
//   - conversations.go: conversation endpoints
//   - admin.go: refresh/reload/stats endpoints
//   - health.go: probes
//   - response.go: JSON helpers and error mapping
package api
