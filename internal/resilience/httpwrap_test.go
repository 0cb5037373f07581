package resilience_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hangarshare/backend-hangar/internal/resilience"
)

// ctxSensitiveBody fails reads once the request context is cancelled, the way
// a streamed network body does.
type ctxSensitiveBody struct {
	ctx    context.Context
	data   *bytes.Reader
	closed bool
}

func (b *ctxSensitiveBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return b.data.Read(p)
}

func (b *ctxSensitiveBody) Close() error {
	b.closed = true
	return nil
}

type scriptedTransport struct {
	mu       sync.Mutex
	statuses []int
	bodies   []*ctxSensitiveBody
}

func (tr *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	status := tr.statuses[0]
	if len(tr.statuses) > 1 {
		tr.statuses = tr.statuses[1:]
	}
	body := &ctxSensitiveBody{ctx: req.Context(), data: bytes.NewReader([]byte(`{"ok":true}`))}
	tr.bodies = append(tr.bodies, body)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       body,
		Request:    req,
	}, nil
}

func TestDoBodyReadableAfterReturn(t *testing.T) {
	transport := &scriptedTransport{statuses: []int{http.StatusOK}}
	client := resilience.HTTPClient{
		Client:  &http.Client{Transport: transport},
		Timeout: 50 * time.Millisecond,
	}

	req, err := http.NewRequest(http.MethodGet, "http://gateway.test/charges", nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "attempt timeout must not cancel the body before the caller reads it")
	require.JSONEq(t, `{"ok":true}`, string(payload))
	require.NoError(t, resp.Body.Close())
}

func TestDoClosesBodyBeforeRetry(t *testing.T) {
	transport := &scriptedTransport{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	client := resilience.HTTPClient{
		Client:      &http.Client{Transport: transport},
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	}

	req, err := http.NewRequest(http.MethodGet, "http://gateway.test/charges", nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Len(t, transport.bodies, 2)
	require.True(t, transport.bodies[0].closed, "5xx response body must be closed before retrying")
}
