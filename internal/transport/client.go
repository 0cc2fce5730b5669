package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticker-pulse/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultUserAgent = "ticker-pulse/1.1"

// Response is a fully-buffered HTTP response. Body is already decompressed
// when the server sent Content-Encoding: gzip.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Options controls timeouts and the retry schedule for a single logical
// request. Use DefaultOptions as the starting point; a zero MaxRetries is
// honored as "no retries".
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	MaxRetryAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:       30 * time.Second,
		MaxRetries:    5,
		BackoffBase:   750 * time.Millisecond,
		MaxRetryAfter: 60 * time.Second,
	}
}

// Client issues HTTP requests with transparent retries on transient
// failures. Every URL that ends up in an error message goes through
// RedactURL first, so secrets in query strings never leak into logs.
type Client struct {
	http      *http.Client
	tracer    trace.Tracer
	userAgent string

	sleep  func(time.Duration)
	jitter func() float64
}

func New(tracer trace.Tracer) *Client {
	// Disable the stdlib's implicit gzip handling; the client owns
	// decompression so Content-Encoding stays observable.
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DisableCompression = true

	return &Client{
		http:      &http.Client{Transport: base},
		tracer:    tracer,
		userAgent: defaultUserAgent,
		sleep:     time.Sleep,
		jitter:    rand.Float64,
	}
}

// SetHTTPClient swaps the underlying http.Client. Used by tests and by
// callers that need custom proxies or TLS settings.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// transientStatuses retried unconditionally; 0 stands for network errors
// and timeouts.
var transientStatuses = map[int]struct{}{
	0: {}, 429: {}, 500: {}, 502: {}, 503: {}, 504: {},
}

// Do performs the request and returns the terminal response. Non-2xx
// terminal statuses become a domain.RemoteAPIError carrying a redacted URL
// and whatever human-readable detail the body offered.
func (c *Client) Do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, opts Options) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "transport.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", RedactURL(rawURL)),
	)

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	method = strings.ToUpper(method)
	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, method, rawURL, headers, body, opts.Timeout)

		_, transient := transientStatuses[resp.Status]
		if transient && attempt < opts.MaxRetries {
			c.sleep(c.backoff(attempt, resp.Headers, opts))
			continue
		}

		span.SetAttributes(attribute.Int("http.attempts", attempt+1), attribute.Int("http.status", resp.Status))

		if resp.Status < 200 || resp.Status >= 300 {
			// Only the terminal attempt's error may describe the failure;
			// details from retried attempts would mislabel the final status.
			message := extractErrorDetail(resp.Body)
			if message == "" && err != nil {
				message = err.Error()
			}
			safeURL := RedactURL(rawURL)
			if message != "" {
				return nil, domain.RemoteAPIErrorf("%s %s failed (%d): %s", method, safeURL, resp.Status, message)
			}
			return nil, domain.RemoteAPIErrorf("%s %s failed (%d)", method, safeURL, resp.Status)
		}
		return resp, nil
	}
}

// DoJSON is Do plus a parsed JSON object body. Any response that is valid
// JSON but not an object is a contract violation from the remote side.
func (c *Client) DoJSON(ctx context.Context, method, rawURL string, headers map[string]string, jsonBody any, opts Options) (map[string]any, error) {
	merged := map[string]string{"Accept": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}

	var body []byte
	if jsonBody != nil {
		encoded, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, domain.ParseErrorf("encode request body: %v", err)
		}
		body = encoded
		if _, ok := merged["Content-Type"]; !ok {
			merged["Content-Type"] = "application/json"
		}
	}

	resp, err := c.Do(ctx, method, rawURL, merged, body, opts)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, domain.RemoteAPIErrorf("%s %s returned invalid JSON: %v", strings.ToUpper(method), RedactURL(rawURL), err)
	}
	object, ok := parsed.(map[string]any)
	if !ok {
		return nil, domain.RemoteAPIErrorf("%s %s returned unexpected JSON type %T", strings.ToUpper(method), RedactURL(rawURL), parsed)
	}
	return object, nil
}

func (c *Client) backoff(attempt int, headers http.Header, opts Options) time.Duration {
	delay := time.Duration(float64(opts.BackoffBase)*math.Pow(2, float64(attempt))) +
		time.Duration(c.jitter()*0.25*float64(time.Second))
	if retryAfter, ok := parseRetryAfter(headers); ok {
		if retryAfter > opts.MaxRetryAfter {
			retryAfter = opts.MaxRetryAfter
		}
		if retryAfter > delay {
			delay = retryAfter
		}
	}
	return delay
}

// doOnce performs a single attempt. Network-level failures come back as a
// zero-status response so the retry loop can treat them like a 5xx.
func (c *Client) doOnce(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, reader)
	if err != nil {
		return &Response{Status: 0, Headers: http.Header{}}, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "gzip")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Response{Status: 0, Headers: http.Header{}}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Response{Status: 0, Headers: http.Header{}}, err
	}

	return maybeDecompress(&Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    raw,
	}), nil
}

func maybeDecompress(resp *Response) *Response {
	encoding := strings.ToLower(strings.TrimSpace(resp.Headers.Get("Content-Encoding")))
	if encoding != "gzip" {
		return resp
	}

	reader, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		return resp
	}
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return resp
	}

	headers := resp.Headers.Clone()
	headers.Del("Content-Encoding")
	headers.Del("Content-Length")
	return &Response{Status: resp.Status, Headers: headers, Body: decompressed}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(headers http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}

	when, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	until := time.Until(when)
	if until < 0 {
		until = 0
	}
	return until, true
}
