// Package delivery implements the outbound half of the telemetry wire
// protocol: one JSON POST per flush. The exported function types are the
// seam the session collector depends on; tests substitute them freely.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SendFunc performs one blocking delivery, owning its timeout.
type SendFunc func(url string, timeout time.Duration, payload any) (int, any, error)

// SendContextFunc performs one delivery honoring the caller's context in
// addition to the timeout.
type SendContextFunc func(ctx context.Context, url string, timeout time.Duration, payload any) (int, any, error)

// RequestError is the delivery failure taxonomy: either a non-200 response
// (Status and Body set) or a transport failure (Err set).
type RequestError struct {
	URL    string
	Status int
	Body   any
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to send events to %q: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to send events to %q: %d «%v»", e.URL, e.Status, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }

var defaultClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// Send posts payload to url with the given timeout using the default client.
func Send(url string, timeout time.Duration, payload any) (int, any, error) {
	return SendContext(context.Background(), url, timeout, payload)
}

// SendContext is Send with a caller-supplied context.
func SendContext(ctx context.Context, url string, timeout time.Duration, payload any) (int, any, error) {
	return NewSender(defaultClient)(ctx, url, timeout, payload)
}

// NewSender builds a SendContextFunc on top of client. The returned function
// posts payload JSON-encoded, accepts only HTTP 200, and decodes the response
// body as JSON with a raw-text fallback.
func NewSender(client *http.Client) SendContextFunc {
	return func(ctx context.Context, url string, timeout time.Duration, payload any) (int, any, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, &RequestError{URL: url, Err: err}
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return 0, nil, &RequestError{URL: url, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, &RequestError{URL: url, Err: err}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, &RequestError{URL: url, Err: err}
		}

		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, body, &RequestError{URL: url, Status: resp.StatusCode, Body: body}
		}
		return resp.StatusCode, body, nil
	}
}
