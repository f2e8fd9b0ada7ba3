// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package httpsender delivers a single transmission over HTTP and
// classifies the response so the transmitter knows whether to delete,
// retry, or permanently drop the spooled file (spec.md §4.3).
package httpsender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Disposition is what the transmitter should do with the in-flight
// file after a send attempt.
type Disposition int

const (
	// Delivered means the server accepted the transmission (2xx).
	Delivered Disposition = iota
	// Retryable means the failure may succeed later: 429, 5xx,
	// network error, or timeout.
	Retryable
	// Permanent means the server will never accept this payload as
	// given: 400/413/415 or any explicitly non-retryable response.
	Permanent
)

func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Send call.
type Result struct {
	Disposition Disposition
	StatusCode  int
	Err         error
}

// Request is everything needed to deliver one transmission.
type Request struct {
	EndpointURL     string
	Payload         []byte
	ContentType     string
	ContentEncoding string
}

// Sender posts a transmission and classifies the outcome. Implementations
// must never return an error for a non-2xx HTTP response — that is
// encoded in Result.Disposition instead; Err is reserved for a request
// that never reached classification (e.g. context already cancelled).
type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// permanentStatusCodes are client errors the server can never resolve
// by retrying the same payload (spec.md §4.3).
var permanentStatusCodes = map[int]bool{
	http.StatusBadRequest:            true,
	http.StatusRequestEntityTooLarge: true,
	http.StatusUnsupportedMediaType:  true,
}

// Client is the production Sender, backed by net/http.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient returns a Client with the given per-request timeout. A
// zero timeout defaults to 30s (spec.md §4.3 "a reasonable timeout
// (default 30 s)").
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.EndpointURL, bytes.NewReader(req.Payload))
	if err != nil {
		return Result{Disposition: Permanent, Err: fmt.Errorf("building request: %w", err)}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.ContentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", req.ContentEncoding)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(code int) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Disposition: Delivered, StatusCode: code}
	case permanentStatusCodes[code]:
		return Result{Disposition: Permanent, StatusCode: code}
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Result{Disposition: Retryable, StatusCode: code}
	case code >= 400:
		// Any other 4xx is treated as a permanent client-side rejection:
		// the payload itself is the problem, not a transient condition.
		return Result{Disposition: Permanent, StatusCode: code}
	default:
		return Result{Disposition: Retryable, StatusCode: code}
	}
}

func classifyTransportError(err error) Result {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Result{Disposition: Retryable, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Disposition: Retryable, Err: err}
	}
	// DNS failures, connection refused, TLS errors — all transient from
	// the caller's perspective since the endpoint may recover.
	return Result{Disposition: Retryable, Err: err}
}
