// Package handler implements the inbound HTTP endpoint of the router. It
// validates the request id, hands the request to the routing coordinator and
// reports the terminal outcome.
package handler
