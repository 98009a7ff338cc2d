// Package notify relays captured payloads to the analysis service.
package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Endpoint paths on the notifier service.
const (
	RequestPath  = "/notify/request"
	ResponsePath = "/notify/response"
)

// DefaultMaxInFlight caps concurrent sends.
const DefaultMaxInFlight = 64

// Sender delivers a payload without waiting for the outcome.
type Sender interface {
	Send(path string, data []byte)
}

// Client posts payloads to the notifier over HTTP. Every send runs in its own
// goroutine and its result is only logged.
type Client struct {
	host    string
	timeout time.Duration
	http    *http.Client
	log     log.Interface

	max int64
	sem *semaphore.Weighted
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMaxInFlight sets how many sends may be pending at once.
func WithMaxInFlight(n int64) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.max = n
		}
	}
}

// New returns a client for the notifier at host, e.g. http://127.0.0.1:4693.
func New(host string, timeout time.Duration, logger log.Interface, opts ...Option) *Client {
	if logger == nil {
		logger = log.Log
	}
	c := &Client{
		host:    strings.TrimRight(host, "/"),
		timeout: timeout,
		http:    &http.Client{},
		log:     logger,
		max:     DefaultMaxInFlight,
	}
	for _, o := range opts {
		o(c)
	}
	c.sem = semaphore.NewWeighted(c.max)
	return c
}

// Send posts data to path in the background. When max sends are already in
// flight the payload is dropped.
func (c *Client) Send(path string, data []byte) {
	ctx := c.log.WithFields(log.Fields{
		"path": path,
		"size": humanize.Bytes(uint64(len(data))),
	})
	if !c.sem.TryAcquire(1) {
		ctx.WithField("in_flight", c.max).Warn("notifier busy, dropping payload")
		return
	}
	ctx.Debug("sending payload")
	go func() {
		defer c.sem.Release(1)
		if err := c.post(path, data); err != nil {
			ctx.WithError(err).Debug("notify failed")
		}
	}()
}

func (c *Client) post(path string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Errorf("notifier answered %s", resp.Status)
	}
	return nil
}

// Drain waits until every pending send has finished or ctx is done.
func (c *Client) Drain(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, c.max); err != nil {
		return errors.Wrap(err, "pending notifications")
	}
	c.sem.Release(c.max)
	return nil
}
