// Package routing ties the adaptive engine together.
//
// An Engine owns the backend statistics, the selection strategy and, for the
// masking variants, the rate-limit tracker. It is built once at startup from
// configuration and shared by every request.
//
// A Coordinator drives one request through its attempts:
//
//	attempt 0: select -> send -> observe -> emit outcome
//	           success          -> done
//	           429 or failure   -> exclude backend, attempt 1, ...
//	last attempt, or every backend tried -> exhausted
//
// Attempts of a single request run sequentially and never revisit a backend.
package routing
