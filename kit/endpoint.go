// Package kit holds the small transport-agnostic plumbing shared by the
// CLI and MCP surfaces: endpoints, middleware chaining, and request
// context helpers.
package kit

import "context"

// Endpoint is one request/response operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares outermost-first.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
