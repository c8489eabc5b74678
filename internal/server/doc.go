// Package server hosts the media relay API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, security
// headers, CORS, logging, audit, metrics, rate limiting, and admin auth so
// handlers all share common protections and instrumentation.
package server
