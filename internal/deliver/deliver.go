// Package deliver implements the stateless HTTP delivery primitive: one POST
// per call, classified into a Response or a TransportError.
package deliver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxResponseBodyBytes is the byte cap on the response body snippet recorded
// on an attempt. The spec fixes this at 2000 raw bytes, not decoded runes.
const maxResponseBodyBytes = 2000

// Outcome is the result of one delivery attempt: exactly one of Response or
// TransportErr is set.
type Outcome struct {
	Response     *Response
	TransportErr *TransportError
}

// Response is a received HTTP response. StatusCode is not restricted to
// success — 4xx and 5xx are Responses, not TransportErrors.
type Response struct {
	StatusCode  int
	BodySnippet []byte
}

// Success reports whether StatusCode is in [200, 300).
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError represents any failure before a response was received: DNS,
// connect, TLS, timeout, or a read error on the request/response body.
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string { return e.Message }

// Deliverer issues one POST per call, with the given timeout, and collapses
// all network-level failures into a TransportError.
type Deliverer struct {
	client *http.Client
}

// New builds a Deliverer. timeout is the default per-request timeout applied
// when the caller doesn't impose a tighter deadline via ctx.
func New(timeout time.Duration) *Deliverer {
	return &Deliverer{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Deliver issues one POST to targetURL with the given body and headers. Any
// network failure, DNS failure, TLS failure, or elapsed timeout collapses
// into a TransportError; any received HTTP response — including 5xx — is a
// Response.
func (d *Deliverer) Deliver(ctx context.Context, targetURL string, body []byte, headers map[string]string, timeout time.Duration) Outcome {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{TransportErr: &TransportError{Message: err.Error()}}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{TransportErr: &TransportError{Message: classifyError(err)}}
	}
	defer resp.Body.Close()

	snippet, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return Outcome{TransportErr: &TransportError{Message: err.Error()}}
	}

	return Outcome{Response: &Response{StatusCode: resp.StatusCode, BodySnippet: snippet}}
}

func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out: " + err.Error()
	}
	return err.Error()
}
