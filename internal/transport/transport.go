package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

// Variant names the transport an attempt went through.
type Variant string

const (
	VariantSecure   Variant = "https"
	VariantInsecure Variant = "http"
)

// RetryConfig controls retry behaviour on timeout-class failures.
type RetryConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Config bundles the process-lifetime transport settings.
type Config struct {
	Timeout  time.Duration
	ProxyURL string

	// AllowInsecureFallback enables one plain-http attempt after the secure
	// transport exhausts its retries. Production ignores it.
	AllowInsecureFallback bool
	Production            bool

	Retry RetryConfig

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout: 4 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			MinBackoff:  200 * time.Millisecond,
			MaxBackoff:  500 * time.Millisecond,
		},
		MaxBodyBytes: 4 << 20,
	}
}

// Request describes one outbound GET.
type Request struct {
	URL   string
	Query url.Values
}

// Response is returned for every completed HTTP exchange, whatever its status.
type Response struct {
	Status  int
	Body    []byte
	Variant Variant
}

// Attempt records one failed connection-level attempt.
type Attempt struct {
	Variant Variant `json:"variant"`
	Code    string  `json:"code"`
}

// TransientNetworkFailure is returned when no attempt produced an HTTP response.
type TransientNetworkFailure struct {
	Attempts []Attempt
	Err      error
}

func (e *TransientNetworkFailure) Error() string {
	return fmt.Sprintf("transient network failure after %d attempts: %v", len(e.Attempts), e.Err)
}

func (e *TransientNetworkFailure) Unwrap() error { return e.Err }

// LastVariant returns the variant of the final attempt.
func (e *TransientNetworkFailure) LastVariant() Variant {
	if len(e.Attempts) == 0 {
		return VariantSecure
	}
	return e.Attempts[len(e.Attempts)-1].Variant
}

// Client wraps outbound HTTP with keep-alive reuse, retries and a dev-only
// insecure fallback. It is safe for concurrent use.
type Client struct {
	http *http.Client
	cfg  Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker // keyed by variant and host

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max time.Duration) time.Duration
}

// New builds a Client with its own pooled transport.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout, Transport: base},
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		sleep:    sleepCtx,
		jitter:   randomBackoff,
	}, nil
}

// callerGone marks a failure caused by the caller's own context, such as an
// abandoned sweep branch. It says nothing about upstream health.
type callerGone struct {
	err error
}

func (e *callerGone) Error() string { return e.err.Error() }
func (e *callerGone) Unwrap() error { return e.err }

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transport-" + name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 20
		},
		IsSuccessful: func(err error) bool {
			var gone *callerGone
			return err == nil || errors.As(err, &gone)
		},
	})
}

// breaker returns the breaker for one upstream host on one variant.
func (c *Client) breaker(variant Variant, host string) *gobreaker.CircuitBreaker {
	key := string(variant) + "|" + host

	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[key]
	if !ok {
		cb = newBreaker(key)
		c.breakers[key] = cb
	}
	return cb
}

// InsecureEnabled reports whether the plain-http fallback is active.
func (c *Client) InsecureEnabled() bool {
	return c.cfg.AllowInsecureFallback && !c.cfg.Production
}

// Do performs req. HTTP error statuses are returned as a Response; only
// connection-level failures after all retries return *TransientNetworkFailure.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var attempts []Attempt

	resp, secureAttempts, err := c.doWithRetry(ctx, req, VariantSecure)
	attempts = append(attempts, secureAttempts...)
	if err == nil {
		return resp, nil
	}

	if c.InsecureEnabled() && ctx.Err() == nil && strings.HasPrefix(req.URL, "https://") {
		insecure := req
		insecure.URL = "http://" + strings.TrimPrefix(req.URL, "https://")

		resp, ierr := c.attempt(ctx, insecure, VariantInsecure)
		if ierr == nil {
			return resp, nil
		}
		attempts = append(attempts, Attempt{Variant: VariantInsecure, Code: ErrorCode(ierr)})
		log.Printf("WARN: transport %s attempt failed: %s", VariantInsecure, ErrorCode(ierr))
		err = ierr
	}

	return Response{Variant: attempts[len(attempts)-1].Variant}, &TransientNetworkFailure{Attempts: attempts, Err: err}
}

func (c *Client) doWithRetry(ctx context.Context, req Request, variant Variant) (Response, []Attempt, error) {
	var attempts []Attempt

	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Variant: variant, Code: ErrorCode(err)})
			return Response{}, attempts, err
		}

		resp, err := c.attempt(ctx, req, variant)
		if err == nil {
			return resp, attempts, nil
		}

		code := ErrorCode(err)
		attempts = append(attempts, Attempt{Variant: variant, Code: code})
		log.Printf("WARN: transport %s attempt %d/%d failed: %s", variant, i, c.cfg.Retry.MaxAttempts, code)

		if !IsTimeout(err) || i >= c.cfg.Retry.MaxAttempts {
			return Response{}, attempts, err
		}

		if serr := c.sleep(ctx, c.jitter(c.cfg.Retry.MinBackoff, c.cfg.Retry.MaxBackoff)); serr != nil {
			return Response{}, attempts, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request, variant Variant) (Response, error) {
	target, host, err := buildURL(req)
	if err != nil {
		return Response{}, err
	}

	result, err := c.breaker(variant, host).Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerGone{err: err}
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerGone{err: err}
			}
			return nil, err
		}
		return Response{Status: resp.StatusCode, Body: body, Variant: variant}, nil
	})
	if err != nil {
		return Response{}, err
	}

	resp, ok := result.(Response)
	if !ok {
		return Response{}, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}

// buildURL returns the full request URL and its host.
func buildURL(req Request) (string, string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", "", err
	}

	enc := req.Query.Encode()
	switch {
	case enc == "":
	case u.RawQuery == "":
		u.RawQuery = enc
	default:
		u.RawQuery += "&" + enc
	}
	return u.String(), u.Host, nil
}

// Describe summarizes err for trace output without exposing request details.
func Describe(err error) string {
	var tnf *TransientNetworkFailure
	if errors.As(err, &tnf) && len(tnf.Attempts) > 0 {
		return fmt.Sprintf("%s after %d attempts", tnf.Attempts[len(tnf.Attempts)-1].Code, len(tnf.Attempts))
	}
	return ErrorCode(err)
}

// IsTimeout reports whether err is a timeout-class failure worth retrying.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// ErrorCode returns a short, secret-free classification of err.
func ErrorCode(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "CIRCUIT_OPEN"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNABORTED):
		return "ECONNABORTED"
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "ETIMEDOUT"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "CERT_INVALID"
	}
	return "ECONNFAILED"
}

func randomBackoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
