// Package webhook delivers relay messages as HTTP POST requests, one
// per record. Destination format: "webhook:https://example.com/events".
//
// Provenance headers (subject, kind, seq, hash) ride along as
// X-Cacaotrail-* headers so receivers can verify chain continuity
// without parsing the body.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cacaotrail/cacaotrail"
)

// Publisher publishes relay messages as HTTP POST requests.
type Publisher struct {
	client         *http.Client
	defaultHeaders map[string]string
}

// Option configures a webhook Publisher.
type Option func(*Publisher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.client.Timeout = d
	}
}

// WithDefaultHeaders sets headers added to all requests, e.g. an
// Authorization token.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range headers {
			p.defaultHeaders[k] = v
		}
	}
}

// New creates a webhook Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Destination returns the destination prefix this publisher handles.
func (p *Publisher) Destination() string {
	return "webhook"
}

// Publish sends each message as an HTTP POST to its destination URL.
// Delivery stops at the first failure so the relay can retry the batch.
func (p *Publisher) Publish(ctx context.Context, messages []*cacaotrail.RelayMessage) error {
	for _, msg := range messages {
		url := extractURL(msg.Destination)
		if url == "" {
			return fmt.Errorf("webhook: invalid destination %q: missing URL", msg.Destination)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg.Payload))
		if err != nil {
			return fmt.Errorf("webhook: failed to create request: %w", err)
		}

		for k, v := range p.defaultHeaders {
			req.Header.Set(k, v)
		}
		req.Header.Set("X-Cacaotrail-Record-Id", msg.ID)
		req.Header.Set("X-Cacaotrail-Subject", msg.SubjectID)
		req.Header.Set("X-Cacaotrail-Kind", msg.Kind)
		req.Header.Set("X-Cacaotrail-Seq", strconv.FormatInt(msg.Seq, 10))
		req.Header.Set("X-Cacaotrail-Hash", msg.Hash)
		req.Header.Set("X-Cacaotrail-Position", strconv.FormatUint(msg.GlobalPosition, 10))

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: request failed for %s: %w", url, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook: server error %d from %s", resp.StatusCode, url)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook: client error %d from %s", resp.StatusCode, url)
		}
	}

	return nil
}

// extractURL removes the "webhook:" prefix from a destination.
func extractURL(destination string) string {
	const prefix = "webhook:"
	if strings.HasPrefix(destination, prefix) {
		return destination[len(prefix):]
	}
	return ""
}
