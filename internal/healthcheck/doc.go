// Package healthcheck probes downstream backends for reachability. The router
// uses it at startup to wait until every backend port accepts connections.
package healthcheck
