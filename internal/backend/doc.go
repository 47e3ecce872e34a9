// Package backend owns the per-backend statistics that every selection strategy
// reads and every attempt updates. A Store holds one Stats value per backend id
// for the lifetime of the process; each Stats is guarded by its own mutex so
// concurrent requests only contend when they touch the same backend.
package backend
