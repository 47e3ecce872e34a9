// Package attempt holds the per-attempt event emitted by the routing engine
// and the classification of a downstream response.
package attempt

import (
	"time"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

// Kind classifies one downstream response.
type Kind int

const (
	Success     Kind = iota // 2xx
	RateLimited             // 429
	Failure                 // any other status, timeout or transport error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome describes one attempt of one request. RequestComplete and
// RequestSuccess are only meaningful on the terminal attempt of a request.
type Outcome struct {
	RequestID       string     `json:"request_id"`
	RequestSeq      int64      `json:"request_seq"`
	AttemptNumber   int        `json:"attempt_number"`
	BackendID       backend.ID `json:"backend_id"`
	Success         bool       `json:"success"`
	RateLimited     bool       `json:"rate_limited"`
	LatencyMs       float64    `json:"latency_ms"`
	RequestComplete bool       `json:"request_complete"`
	RequestSuccess  bool       `json:"request_success"`
	Penalized       bool       `json:"penalized"`
	Strategy        string     `json:"strategy"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Retry reports whether the attempt was a retry of an earlier one.
func (o Outcome) Retry() bool {
	return o.AttemptNumber > 0
}

// Sink consumes attempt outcomes. Publish must not drop an outcome.
type Sink interface {
	Publish(Outcome)
}

// MultiSink publishes every outcome to each sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(o Outcome) {
	for _, s := range m {
		s.Publish(o)
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Outcome)

func (f SinkFunc) Publish(o Outcome) {
	f(o)
}
