// Package downstream sends a request to one specific backend and classifies
// the response for the routing engine.
package downstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxConns = 512
)

type Config struct {
	Host     string
	Ports    []backend.ID
	Timeout  time.Duration
	MaxConns int
}

// Client keeps one fasthttp.HostClient per backend.
type Client struct {
	hosts   map[backend.ID]*fasthttp.HostClient
	uris    map[backend.ID]string
	timeout time.Duration
	clock   func() time.Time
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}

	c := &Client{
		hosts:   make(map[backend.ID]*fasthttp.HostClient, len(cfg.Ports)),
		uris:    make(map[backend.ID]string, len(cfg.Ports)),
		timeout: cfg.Timeout,
		clock:   time.Now,
	}

	for _, port := range cfg.Ports {
		addr := Addr(cfg.Host, port)
		c.hosts[port] = &fasthttp.HostClient{
			Addr:     addr,
			MaxConns: cfg.MaxConns,
		}
		c.uris[port] = "http://" + addr + "/"
	}

	return c
}

// Addr is the host:port address of a backend.
func Addr(host string, id backend.ID) string {
	return host + ":" + strconv.Itoa(int(id))
}

// Send posts requestID as a text/plain body to backend id and reports how the
// backend answered together with the observed latency. Errors are folded into
// attempt.Failure: a broken backend is an outcome, not an error path.
func (c *Client) Send(ctx context.Context, id backend.ID, requestID string) (attempt.Kind, float64) {
	start := c.clock()

	hc, ok := c.hosts[id]
	if !ok {
		panic(fmt.Sprintf("downstream: unknown backend id %d", id))
	}
	if ctx.Err() != nil {
		return attempt.Failure, 0
	}

	deadline := start.Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.uris[id])
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("text/plain")
	req.SetBodyString(requestID)

	err := hc.DoDeadline(req, resp, deadline)
	latency := float64(c.clock().Sub(start).Microseconds()) / 1000

	if err != nil {
		return attempt.Failure, latency
	}

	return Classify(resp.StatusCode()), latency
}

// Classify maps an HTTP status code to an attempt kind.
func Classify(status int) attempt.Kind {
	switch {
	case status >= 200 && status < 300:
		return attempt.Success
	case status == fasthttp.StatusTooManyRequests:
		return attempt.RateLimited
	default:
		return attempt.Failure
	}
}

// CloseIdle closes idle keep-alive connections to every backend.
func (c *Client) CloseIdle() {
	for _, hc := range c.hosts {
		hc.CloseIdleConnections()
	}
}
