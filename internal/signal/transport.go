package signal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/invisinsights/internal/config"
)

// ProjectKeyHeader carries the project key on delivery requests.
const ProjectKeyHeader = "X-Invis-Project-Key"

// Transport delivers a payload to the collection endpoint.
type Transport interface {
	Send(ctx context.Context, p Payload) error
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(ctx context.Context, p Payload) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, p Payload) error { return f(ctx, p) }

// DeliveryError reports a non-success response from the endpoint.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("collection endpoint responded with status %d", e.StatusCode)
}

// HTTPTransport posts payloads as JSON, optionally brotli compressed.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	compress bool
}

// NewHTTPTransport builds a transport for cfg.Endpoint. A nil client gets a
// dedicated HTTP/2-capable client.
func NewHTTPTransport(cfg config.EngineConfig, client *http.Client) *HTTPTransport {
	cfg = cfg.WithDefaults()
	if client == nil {
		client = newDeliveryClient(cfg.DeliveryTimeout)
	}
	return &HTTPTransport{
		client:   client,
		endpoint: cfg.Endpoint,
		compress: cfg.CompressPayload,
	}
}

func newDeliveryClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 15 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
	}
	// Upgrade to h2 where the endpoint supports it; on failure keep HTTP/1.1.
	_ = http2.ConfigureTransport(tr)
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	encoding := ""
	if t.compress {
		var buf bytes.Buffer
		bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := bw.Write(body); err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := bw.Close(); err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		body, encoding = buf.Bytes(), "br"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ProjectKeyHeader, p.ProjectID)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver payload: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
