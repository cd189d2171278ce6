// Package middleware provides the HTTP middleware the server composes
// around its routes.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/rexl2018/aiapiproxy/internal/config"
)

// Middleware is a standard http.Handler wrapper.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list.
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain.
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// Set contains all configured middleware for easy composition.
type Set struct {
	Logging Middleware
	Metrics Middleware
	Auth    Middleware
}

// NewSet creates the complete middleware set.
func NewSet(cfg *config.Manager, logger *slog.Logger) Set {
	return Set{
		Logging: NewLoggingMiddleware(logger),
		Metrics: NewMetricsMiddleware(),
		Auth:    NewAuthMiddleware(cfg, logger),
	}
}

// APIChain is the chain for API endpoints.
func (s Set) APIChain() Chain {
	return New(s.Logging, s.Metrics, s.Auth)
}

// PublicChain is the chain for health and metrics endpoints (no auth).
func (s Set) PublicChain() Chain {
	return New(s.Logging, s.Metrics)
}
