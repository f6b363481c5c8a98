// Package httpkit builds the HTTP clients used for outbound calls to
// model providers, embedding servers and the Telegram API.
//
// Free-tier providers (Groq, Gemini) answer bursts with 429 and a
// Retry-After header, and a local Ollama refuses connections while it
// loads a model. Clients built with [WithRetry] ride out both.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/nugget/spectrumbot/internal/buildinfo"
)

const (
	dialTimeout         = 10 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second

	// maxRetryAfter caps a server-requested wait.
	maxRetryAfter = 30 * time.Second
)

// ClientOption configures a client built by [NewClient].
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	retries   int
	delay     time.Duration
	logger    *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent overrides the SpectrumBot User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithRetry retries up to n times after a refused or unreachable
// connection, or a 429/503 response. The wait starts at delay and
// doubles; a Retry-After header replaces it. Requests with a body are
// only retried when GetBody can rewind it.
func WithRetry(n int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = n
		o.delay = delay
	}
}

// WithLogger logs retries at debug level.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewClient builds an *http.Client with its own transport. The default
// timeout is 30s.
func NewClient(opts ...ClientOption) *http.Client {
	o := options{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		ForceAttemptHTTP2:   true,
	}

	var rt http.RoundTripper = uaTransport{base: transport, ua: o.userAgent}
	if o.retries > 0 {
		rt = &retrier{base: rt, retries: o.retries, delay: o.delay, logger: o.logger}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(r)
}

type retrier struct {
	base    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *retrier) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	delay := t.delay

	resp, err := t.base.RoundTrip(req)
	for attempt := 1; attempt <= t.retries && rewindable; attempt++ {
		wait, retry := retryAfter(resp, err, delay)
		if !retry {
			break
		}
		if resp != nil {
			DrainAndClose(resp.Body, 4096)
		}
		if t.logger != nil {
			t.logger.Debug("retrying request",
				"method", req.Method,
				"host", req.URL.Host,
				"attempt", attempt,
				"wait", wait,
				"status", statusOf(resp),
				"error", err,
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			next.Body = body
		}
		resp, err = t.base.RoundTrip(next)
		delay *= 2
	}
	return resp, err
}

// retryAfter decides whether a result is worth another attempt and how
// long to wait first.
func retryAfter(resp *http.Response, err error, delay time.Duration) (time.Duration, bool) {
	if err != nil {
		return delay, isConnectError(err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return 0, false
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, convErr := strconv.Atoi(s); convErr == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, maxRetryAfter), true
		}
		if at, parseErr := http.ParseTime(s); parseErr == nil {
			return min(max(time.Until(at), 0), maxRetryAfter), true
		}
	}
	return delay, true
}

// isConnectError reports failures where the request never reached the
// server. ECONNRESET is excluded.
func isConnectError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.ECONNREFUSED || errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can be reused.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// ReadErrorBody returns up to limit bytes of an error response body
// and closes it.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
