package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestDoReturnsErrorStatusWithoutFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, DefaultConfig())
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Status)
	}
	if resp.Variant != VariantSecure {
		t.Errorf("expected secure variant, got %s", resp.Variant)
	}
	if !strings.Contains(string(resp.Body), "down") {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestDoRetriesTimeouts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClient(t, cfg)

	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	var tnf *TransientNetworkFailure
	if !errors.As(err, &tnf) {
		t.Fatalf("expected TransientNetworkFailure, got %v", err)
	}
	if len(tnf.Attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(tnf.Attempts))
	}
	for _, a := range tnf.Attempts {
		if a.Code != "ETIMEDOUT" {
			t.Errorf("expected ETIMEDOUT, got %s", a.Code)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 upstream calls, got %d", got)
	}
}

func TestDoDoesNotRetryNonTimeoutErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	c := newTestClient(t, DefaultConfig())
	_, err := c.Do(context.Background(), Request{URL: target})

	var tnf *TransientNetworkFailure
	if !errors.As(err, &tnf) {
		t.Fatalf("expected TransientNetworkFailure, got %v", err)
	}
	if len(tnf.Attempts) != 1 {
		t.Errorf("expected a single attempt, got %d", len(tnf.Attempts))
	}
}

func TestInsecureFallbackOutsideProduction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	secureURL := "https://" + strings.TrimPrefix(srv.URL, "http://")

	cfg := DefaultConfig()
	cfg.AllowInsecureFallback = true
	c := newTestClient(t, cfg)

	resp, err := c.Do(context.Background(), Request{URL: secureURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Variant != VariantInsecure {
		t.Errorf("expected insecure variant, got %s", resp.Variant)
	}

	cfg.Production = true
	prod := newTestClient(t, cfg)
	if prod.InsecureEnabled() {
		t.Fatal("insecure fallback must be disabled in production")
	}
	if _, err := prod.Do(context.Background(), Request{URL: secureURL}); err == nil {
		t.Fatal("expected failure without insecure fallback")
	}
}

func TestInsecureFallbackDisabledByDefault(t *testing.T) {
	c := newTestClient(t, DefaultConfig())
	if c.InsecureEnabled() {
		t.Error("insecure fallback should default to disabled")
	}
}

func TestBuildURLMergesQuery(t *testing.T) {
	q := url.Values{}
	q.Set("pageNo", "1")
	q.Set("serviceKey", "abc+def==")

	got, host, err := buildURL(Request{
		URL:   "https://example.com/api?dataType=JSON",
		Query: q,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" {
		t.Errorf("expected host example.com, got %q", host)
	}
	want := "https://example.com/api?dataType=JSON&pageNo=1&serviceKey=abc%2Bdef%3D%3D"
	if got != want {
		t.Errorf("buildURL = %q; expected %q", got, want)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be a timeout")
	}
	if IsTimeout(context.Canceled) {
		t.Error("cancellation should not be retried")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("generic error should not be a timeout")
	}
}

func TestRandomBackoffWithinWindow(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomBackoff(200*time.Millisecond, 500*time.Millisecond)
		if d < 200*time.Millisecond || d >= 500*time.Millisecond {
			t.Fatalf("backoff %v outside window", d)
		}
	}
}

func TestWithServiceKey(t *testing.T) {
	base := Request{URL: "https://example.com", Query: url.Values{"a": {"1"}}}

	raw := WithServiceKey(base, "serviceKey", "abc%2B%3D%3D", KeyRaw)
	if got := raw.Query.Get("serviceKey"); got != "abc%2B%3D%3D" {
		t.Errorf("expected key as configured, got %q", got)
	}
	if raw.Query.Get("a") != "1" {
		t.Error("existing parameters must be kept")
	}

	dec := WithServiceKey(base, "serviceKey", "abc%2B%3D%3D", KeyDecoded)
	if got := dec.Query.Get("serviceKey"); got != "abc+==" {
		t.Errorf("expected decoded key, got %q", got)
	}
	if base.Query.Get("serviceKey") != "" {
		t.Error("WithServiceKey must not mutate the original request")
	}
}

func TestDistinctEncodings(t *testing.T) {
	if got := DistinctEncodings("plainkey"); len(got) != 1 || got[0] != KeyRaw {
		t.Errorf("expected only raw for plain key, got %v", got)
	}
	if got := DistinctEncodings("abc+def/=="); len(got) != 1 {
		t.Errorf("decoded-form key needs no second encoding, got %v", got)
	}
	if got := DistinctEncodings("abc%2Bdef"); len(got) != 2 {
		t.Errorf("expected both encodings, got %v", got)
	}
}

func TestAbandonedCallsDoNotTripBreaker(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer healthy.Close()

	c := newTestClient(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Do(ctx, Request{URL: slow.URL})
		}()
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	slowHost := strings.TrimPrefix(slow.URL, "http://")
	if state := c.breaker(VariantSecure, slowHost).State(); state != gobreaker.StateClosed {
		t.Errorf("expected breaker closed after abandoned calls, got %s", state)
	}

	resp, err := c.Do(context.Background(), Request{URL: healthy.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.Status)
	}
}

func TestBreakerIsPerHost(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer healthy.Close()

	c := newTestClient(t, DefaultConfig())
	for i := 0; i < 20; i++ {
		if _, err := c.Do(context.Background(), Request{URL: downURL}); err == nil {
			t.Fatal("expected connection failure")
		}
	}

	_, err := c.Do(context.Background(), Request{URL: downURL})
	if got := ErrorCode(err); got != "CIRCUIT_OPEN" {
		t.Errorf("expected open breaker for failing host, got %s", got)
	}

	if _, err := c.Do(context.Background(), Request{URL: healthy.URL}); err != nil {
		t.Errorf("a failing host must not block other hosts: %v", err)
	}
}
