package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Forwarder issues the actual upstream HTTP call (spec.md §4.5 step 8). It
// keeps two clients, mirroring the source's split between a bounded-timeout
// client for ordinary requests and a timeout-free client for SSE streams —
// a streaming upstream can legitimately stay open far longer than any
// request deadline makes sense for.
type Forwarder struct {
	client       *http.Client
	streamClient *http.Client
}

// NewForwarder builds a Forwarder with manual redirect handling — the
// proxy, not the Go HTTP client, decides what to do with a 3xx upstream
// response (spec.md §4.5 step 8: "redirect policy = manual").
func NewForwarder() *Forwarder {
	manualRedirect := func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Forwarder{
		client: &http.Client{
			Timeout:       120 * time.Second,
			CheckRedirect: manualRedirect,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		streamClient: &http.Client{
			Timeout:       0,
			CheckRedirect: manualRedirect,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// UpstreamResponse is the forwarder's result for one attempt: the caller
// owns Body and must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Forward issues one upstream HTTP request. streaming selects the
// timeout-free client.
func (f *Forwarder) Forward(ctx context.Context, method, target string, headers map[string]string, body []byte, streaming bool) (*UpstreamResponse, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build upstream request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := f.client
	if streaming {
		client = f.streamClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Target: target, Err: err}
	}

	return &UpstreamResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
