package signal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	header http.Header
	body   []byte
}

func newCollectorStub(t *testing.T, status int) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	captured := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "br" {
			reader = brotli.NewReader(r.Body)
		}
		body, err := io.ReadAll(reader)
		assert.NoError(t, err)
		captured <- capturedRequest{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func samplePayload() Payload {
	return Payload{
		ProjectID:        testProjectKey,
		SessionID:        "sid-1",
		PagePath:         "/pricing",
		RageClickCount:   2,
		SessionEndReason: ReasonPageHide,
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "brotli"
		}
		t.Run(name, func(t *testing.T) {
			srv, captured := newCollectorStub(t, http.StatusNoContent)
			cfg := testConfig()
			cfg.Endpoint = srv.URL + "/collect"
			cfg.CompressPayload = compress

			err := NewHTTPTransport(cfg, srv.Client()).Send(context.Background(), samplePayload())
			require.NoError(t, err)

			req := <-captured
			assert.Equal(t, "application/json", req.header.Get("Content-Type"))
			assert.Equal(t, testProjectKey, req.header.Get(ProjectKeyHeader))
			if compress {
				assert.Equal(t, "br", req.header.Get("Content-Encoding"))
			}

			var got Payload
			require.NoError(t, json.Unmarshal(req.body, &got))
			assert.Equal(t, samplePayload(), got)
		})
	}
}

func TestHTTPTransport_NonSuccessStatus(t *testing.T) {
	srv, _ := newCollectorStub(t, http.StatusTooManyRequests)
	cfg := testConfig()
	cfg.Endpoint = srv.URL

	err := NewHTTPTransport(cfg, srv.Client()).Send(context.Background(), samplePayload())
	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, http.StatusTooManyRequests, delivery.StatusCode)
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "http://127.0.0.1:1/collect"
	cfg.DeliveryTimeout = 200 * time.Millisecond

	err := NewHTTPTransport(cfg, nil).Send(context.Background(), samplePayload())
	assert.ErrorContains(t, err, "failed to deliver payload")
}

func TestDispatcher_DeliveryFailureIsSwallowed(t *testing.T) {
	failing := TransportFunc(func(context.Context, Payload) error { return errors.New("offline") })
	panicking := TransportFunc(func(context.Context, Payload) error { panic("boom") })

	for _, tr := range []Transport{failing, panicking} {
		d := NewDispatcher(tr, time.Second, testLogger(t))
		assert.True(t, d.Fire(samplePayload))
		assert.False(t, d.Fire(samplePayload))
		require.NoError(t, d.Wait(context.Background()))
		assert.True(t, d.Sent())
	}
}

func TestDispatcher_BuildsOnlyForTheWinner(t *testing.T) {
	builds := 0
	build := func() Payload {
		builds++
		return samplePayload()
	}
	d := NewDispatcher(nil, time.Second, testLogger(t))
	assert.True(t, d.Fire(build))
	assert.False(t, d.Fire(build))
	assert.Equal(t, 1, builds)
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	slow := TransportFunc(func(context.Context, Payload) error {
		<-release
		return nil
	})
	d := NewDispatcher(slow, time.Minute, testLogger(t))
	require.True(t, d.Fire(samplePayload))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Wait(context.Background()))
}
