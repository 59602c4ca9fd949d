package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
	"boardscraper/pkg/logger"
)

// mockRoundTripper intercepts HTTP requests
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func newResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions(endpoint string) Options {
	cfg := config.DefaultConfig()
	cfg.API.Endpoint = endpoint
	cfg.API.Params = map[string]string{"keywords": "road", "fid": "6"}
	cfg.Transport.BackoffFactor = time.Millisecond
	return Options{
		API:       cfg.API,
		Transport: cfg.Transport,
		Logger:    logger.NewTestLogger(),
		Sleep:     noSleep,
	}
}

func TestFetchPageSendsForm(t *testing.T) {
	var got http.Header
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got = r.Header.Clone()
		form = r.PostForm
		w.Write([]byte(`{"rows":[{"tid":1},{"tid":2}],"total":250}`))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.API.Cookie = "sid=abc"
	opts.API.Headers = map[string]string{"Referer": "https://example.test/"}
	c, err := New(opts)
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), 3, 100)
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", got.Get("Content-Type"))
	assert.Equal(t, "sid=abc", got.Get("Cookie"))
	assert.Equal(t, "https://example.test/", got.Get("Referer"))
	assert.Contains(t, got.Get("User-Agent"), "Mozilla")
	assert.Equal(t, []string{"3"}, form["pageNum"])
	assert.Equal(t, []string{"100"}, form["pageSize"])
	assert.Equal(t, []string{"road"}, form["keywords"])

	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 250, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	require.Len(t, page.Rows, 2)
	v, ok := page.Rows[1].Lookup("tid")
	require.True(t, ok)
	assert.Equal(t, "2", v.(interface{ String() string }).String())
}

func TestFetchPageEnvelopes(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		body     string
		wantRows int
		wantErr  string
	}{
		{"auto top level", EnvelopeAuto, `{"rows":[{}],"total":1}`, 1, ""},
		{"auto data", EnvelopeAuto, `{"code":200,"data":{"rows":[{},{}],"total":2}}`, 2, ""},
		{"forced data", EnvelopeData, `{"data":{"rows":[],"total":0}}`, 0, ""},
		{"forced data missing", EnvelopeData, `{"rows":[],"total":0}`, 0, `"data"`},
		{"forced none ignores data", EnvelopeNone, `{"data":{"rows":[],"total":0}}`, 0, `"rows"`},
		{"missing total", EnvelopeAuto, `{"rows":[]}`, 0, `"total"`},
		{"null rows", EnvelopeAuto, `{"rows":null,"total":0}`, 0, ""},
		{"row not object", EnvelopeAuto, `{"rows":[1],"total":1}`, 0, "row 0 is not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions("http://example.test/list")
			opts.API.Envelope = tt.envelope
			opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
				return newResponse(http.StatusOK, tt.body), nil
			}}
			c, err := New(opts)
			require.NoError(t, err)

			page, err := c.FetchPage(context.Background(), 1, 100)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errs.IsSchema(err), "want schema error, got %v", err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, page.Rows, tt.wantRows)
		})
	}
}

func TestFetchPageMetadata(t *testing.T) {
	opts := testOptions("http://example.test/list")
	opts.MetadataPath = "other.forum"
	opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"rows":[{"tid":1}],"total":1,"other":{"forum":{"name":"Jiang'an","fid":6}}}`), nil
	}}
	c, err := New(opts)
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, "Jiang'an", page.Metadata["name"])
}

func TestFetchPageClassification(t *testing.T) {
	tests := []struct {
		name  string
		resp  func() (*http.Response, error)
		check func(error) bool
	}{
		{"invalid json is fatal", func() (*http.Response, error) { return newResponse(200, "<html>"), nil }, errs.IsFatal},
		{"404 is fatal", func() (*http.Response, error) { return newResponse(404, "nope"), nil }, errs.IsFatal},
		{"403 is fatal", func() (*http.Response, error) { return newResponse(403, ""), nil }, errs.IsFatal},
		{"503 is transient", func() (*http.Response, error) { return newResponse(503, ""), nil }, errs.IsTransient},
		{"network is transient", func() (*http.Response, error) { return nil, errors.New("connection reset") }, errs.IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions("http://example.test/list")
			opts.Transport.MaxRetries = 0
			opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) { return tt.resp() }}
			c, err := New(opts)
			require.NoError(t, err)

			_, err = c.FetchPage(context.Background(), 1, 100)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected class for %v", err)
		})
	}
}

func TestTransportRetriesAndReplaysBody(t *testing.T) {
	var calls int32
	var bodies []string
	var retried []int
	opts := testOptions("http://example.test/list")
	opts.Transport.MaxRetries = 3
	opts.OnTransportRetry = func(status int) { retried = append(retried, status) }
	opts.RoundTripper = &mockRoundTripper{handler: func(r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&calls, 1) <= 2 {
			return newResponse(http.StatusBadGateway, ""), nil
		}
		return newResponse(http.StatusOK, `{"rows":[],"total":0}`), nil
	}}
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, []int{502, 502}, retried)
	require.Len(t, bodies, 3)
	assert.Equal(t, bodies[0], bodies[2])
	assert.Contains(t, bodies[2], "pageNum=2")
}

func TestTransportGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	opts := testOptions("http://example.test/list")
	opts.Transport.MaxRetries = 2
	opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return newResponse(http.StatusServiceUnavailable, "busy"), nil
	}}
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), 1, 100)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, int32(3), calls)
}

func TestTransportDoesNotRetryOtherCodes(t *testing.T) {
	var calls int32
	opts := testOptions("http://example.test/list")
	opts.Transport.StatusCodes = []int{503}
	opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return newResponse(http.StatusTooManyRequests, ""), nil
	}}
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), 1, 100)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.True(t, errs.IsTransient(err))
}

func TestTransportBackoffAndRetryAfter(t *testing.T) {
	tr := &retryTransport{factor: 2 * time.Second}
	assert.Equal(t, 2*time.Second, tr.delay(1))
	assert.Equal(t, 4*time.Second, tr.delay(2))
	assert.Equal(t, 8*time.Second, tr.delay(3))
	assert.Equal(t, 5*time.Minute, tr.delay(20))

	resp := newResponse(429, "")
	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, retryAfter(resp))
	resp.Header.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(resp))
}

func TestTransportWaitsOnLimiter(t *testing.T) {
	lim := &countingLimiter{}
	opts := testOptions("http://example.test/list")
	opts.Limiter = lim
	opts.RoundTripper = &mockRoundTripper{handler: func(*http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"rows":[],"total":0}`), nil
	}}
	c, err := New(opts)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := c.FetchPage(context.Background(), i, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, lim.waits)
}

func TestFetchPageCancelled(t *testing.T) {
	opts := testOptions("http://example.test/list")
	opts.RoundTripper = &mockRoundTripper{handler: func(r *http.Request) (*http.Response, error) {
		return nil, r.Context().Err()
	}}
	c, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchPage(ctx, 1, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesEndpoint(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errs.IsFatal(err))

	_, err = New(Options{API: config.APIConfig{Endpoint: "not a url"}})
	assert.Error(t, err)
}

type countingLimiter struct{ waits int }

func (l *countingLimiter) Allow() bool { return true }
func (l *countingLimiter) Reset()      {}
func (l *countingLimiter) Wait(context.Context) error {
	l.waits++
	return nil
}
