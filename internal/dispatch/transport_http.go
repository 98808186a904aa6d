package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"assent/internal/envelope"
)

// HTTPTransport POSTs envelopes to a downstream endpoint and decodes the
// response envelope from the body.
type HTTPTransport struct {
	url    string
	codec  *envelope.Codec
	client *http.Client
}

// NewHTTPTransport creates the transport. A nil client gets a 30 second
// timeout default.
func NewHTTPTransport(url string, codec *envelope.Codec, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{url: url, codec: codec, client: client}
}

func (t *HTTPTransport) Name() string { return "http" }

func (t *HTTPTransport) Send(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error) {
	raw, err := t.codec.Encode(env)
	if err != nil {
		return envelope.Envelope{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("post envelope: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope.Envelope{}, fmt.Errorf("target answered HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read response body: %w", err)
	}
	return t.codec.Decode(body)
}
