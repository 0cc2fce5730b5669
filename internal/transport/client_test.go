package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"ticker-pulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) (*Client, *[]time.Duration) {
	c := New(trace.NewNoopTracerProvider().Tracer("test"))
	c.http = &http.Client{Transport: rt}
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	c.jitter = func() float64 { return 0 }
	return c, &slept
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	statuses := []int{429, 429, 200}
	calls := 0
	c, slept := newTestClient(func(req *http.Request) (*http.Response, error) {
		status := statuses[calls]
		calls++
		return jsonResponse(status, `{"ok":true}`), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 2
	resp, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 || calls != 3 {
		t.Fatalf("expected success on third call, got status=%d calls=%d", resp.Status, calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*slept))
	}
	if (*slept)[1] <= (*slept)[0] {
		t.Fatalf("backoff should grow between attempts: %v", *slept)
	}
}

func TestDoNoRetriesWhenMaxRetriesZero(t *testing.T) {
	calls := 0
	c, slept := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(500, ""), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 0
	_, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts)

	var remoteErr *domain.RemoteAPIError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteAPIError, got %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Fatalf("expected exactly one attempt and no sleeps, got calls=%d sleeps=%d", calls, len(*slept))
	}
}

func TestDoNetworkErrorsRetryThenSurface(t *testing.T) {
	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	opts := DefaultOptions()
	opts.MaxRetries = 1
	_, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected network error detail, got %v", err)
	}
}

func TestDoTerminalStatusIgnoresEarlierAttemptErrors(t *testing.T) {
	calls := 0
	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return jsonResponse(404, ""), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 1
	_, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts)
	if err == nil || !strings.Contains(err.Error(), "(404)") {
		t.Fatalf("expected terminal 404 error, got %v", err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("retried attempt's network detail leaked into terminal error: %v", err)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	first := true
	c, slept := newTestClient(func(req *http.Request) (*http.Response, error) {
		if first {
			first = false
			resp := jsonResponse(429, "")
			resp.Header.Set("Retry-After", "3")
			return resp, nil
		}
		return jsonResponse(200, `{}`), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 1
	if _, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] < 3*time.Second {
		t.Fatalf("expected sleep raised to Retry-After, got %v", *slept)
	}
}

func TestDoCapsRetryAfter(t *testing.T) {
	first := true
	c, slept := newTestClient(func(req *http.Request) (*http.Response, error) {
		if first {
			first = false
			resp := jsonResponse(503, "")
			resp.Header.Set("Retry-After", "600")
			return resp, nil
		}
		return jsonResponse(200, `{}`), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 1
	opts.MaxRetryAfter = 2 * time.Second
	if _, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if (*slept)[0] > 3*time.Second {
		t.Fatalf("Retry-After should be capped by MaxRetryAfter, slept %v", (*slept)[0])
	}
}

func TestDoRedactsSecretsInErrors(t *testing.T) {
	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(403, `not even json {`), nil
	})

	opts := DefaultOptions()
	opts.MaxRetries = 0
	_, err := c.Do(context.Background(), "GET", "http://example/v2/everything?q=TSLA&apiKey=SECRET&token=SECRET", nil, nil, opts)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("secret leaked into error: %v", err)
	}
	if !strings.Contains(err.Error(), "REDACTED") {
		t.Fatalf("expected REDACTED placeholder in error: %v", err)
	}
}

func TestDoDecompressesGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		resp := &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(bytes.NewReader(buf.Bytes())),
			Header:     make(http.Header),
		}
		resp.Header.Set("Content-Encoding", "gzip")
		return resp, nil
	})

	resp, err := c.Do(context.Background(), "GET", "http://example/api", nil, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != `{"hello":"world"}` {
		t.Fatalf("expected decompressed body, got %q", resp.Body)
	}
	if resp.Headers.Get("Content-Encoding") != "" {
		t.Fatalf("Content-Encoding should be dropped after decompression")
	}
}

func TestDoJSONRejectsNonObject(t *testing.T) {
	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[1,2,3]`), nil
	})

	_, err := c.DoJSON(context.Background(), "GET", "http://example/api", nil, nil, DefaultOptions())
	var remoteErr *domain.RemoteAPIError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteAPIError for non-object payload, got %v", err)
	}
}

func TestDoJSONSendsBodyAndHeaders(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	c, _ := newTestClient(func(req *http.Request) (*http.Response, error) {
		got = req
		gotBody, _ = io.ReadAll(req.Body)
		return jsonResponse(200, `{"ok":true}`), nil
	})

	payload := map[string]string{"model": "gpt-4o-mini"}
	out, err := c.DoJSON(context.Background(), "post", "http://example/responses", map[string]string{"Authorization": "Bearer k"}, payload, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Method != "POST" {
		t.Fatalf("expected method uppercased, got %s", got.Method)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type, got %q", got.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(gotBody), "gpt-4o-mini") {
		t.Fatalf("body not sent: %q", gotBody)
	}
	if ok, _ := out["ok"].(bool); !ok {
		t.Fatalf("unexpected parsed payload: %v", out)
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]struct {
		in          string
		wantHidden  bool
		wantContain string
	}{
		"api key":       {in: "https://x/api?apiKey=abc123&q=TSLA", wantHidden: true, wantContain: "q=TSLA"},
		"token":         {in: "https://x/api?token=abc123", wantHidden: true},
		"upper key":     {in: "https://x/api?APIKEY=abc123", wantHidden: true},
		"plain":         {in: "https://x/api?q=TSLA", wantHidden: false, wantContain: "q=TSLA"},
		"no query":      {in: "https://x/api", wantHidden: false, wantContain: "https://x/api"},
		"authorization": {in: "https://x/api?authorization=Bearer+abc123", wantHidden: true},
	}

	for name, tc := range tests {
		out := RedactURL(tc.in)
		if tc.wantHidden {
			if strings.Contains(out, "abc123") {
				t.Fatalf("%s: secret survived redaction: %s", name, out)
			}
			if !strings.Contains(out, "REDACTED") {
				t.Fatalf("%s: placeholder missing: %s", name, out)
			}
		} else if out != tc.in {
			t.Fatalf("%s: url without secrets should be unchanged, got %s", name, out)
		}
		if tc.wantContain != "" && !strings.Contains(out, tc.wantContain) {
			t.Fatalf("%s: expected %q preserved in %s", name, tc.wantContain, out)
		}
	}
}

func TestExtractErrorDetail(t *testing.T) {
	tests := map[string]struct {
		body string
		want string
	}{
		"openai shape":      {body: `{"error":{"message":"bad key","code":"invalid_api_key"}}`, want: "bad key (invalid_api_key)"},
		"openai type":       {body: `{"error":{"message":"bad key","type":"auth"}}`, want: "bad key (auth)"},
		"newsapi shape":     {body: `{"status":"error","code":"rateLimited","message":"too many requests"}`, want: "too many requests (rateLimited)"},
		"message only":      {body: `{"message":"nope"}`, want: "nope"},
		"plain text":        {body: "  gateway\n timeout  ", want: "gateway timeout"},
		"non object json":   {body: `[1,2]`, want: "[1,2]"},
		"empty":             {body: "", want: ""},
		"object no message": {body: `{"status":"error"}`, want: `{"status":"error"}`},
	}

	for name, tc := range tests {
		if got := extractErrorDetail([]byte(tc.body)); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
}

func TestTruncateForErrorBounds(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := truncateForError(long)
	if len([]rune(got)) > errorDetailLimit {
		t.Fatalf("expected bounded message, got %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix")
	}
}
