// Package api hosts the HTTP handlers that front the media relay.
//
// Handler coordinates request validation, staging, and response shaping while
// delegating remote-service calls to a stream.Client and disk buffering to a
// staging.Manager injected at construction time. Token verification is
// provided by an auth.Verifier passed into the handler; the package does not
// reach for globals or singletons and expects callers to supply fully
// configured dependencies.
//
// The reconciler is also injected so accepted direct uploads can be watched
// in the background without coupling the package to specific runtime wiring.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, auditing, and
// logging concerns. New routes should preserve that contract by avoiding
// duplicate validation and by leaning on the middleware guarantees established
// in the server stack.
package api
