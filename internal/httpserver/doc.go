// Package httpserver wraps net/http.Server with listen address validation and
// bounded graceful shutdown.
package httpserver
