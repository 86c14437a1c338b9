package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"equityflow/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Reader.BaseURL = baseURL
	cfg.Reader.PageLimit = 500
	return cfg
}

func TestFetchTickPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/tick" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Finnhub-Token"); got != "test-token" {
			t.Errorf("unexpected token header: %q", got)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "AAPL" || q.Get("date") != "2021-01-04" {
			t.Errorf("unexpected query: %v", q)
		}
		if q.Get("limit") != "500" || q.Get("skip") != "0" {
			t.Errorf("unexpected paging params: %v", q)
		}
		w.Write([]byte(`{"s":"AAPL","skip":0,"count":2,"total":2,` +
			`"t":[1609772400000,1609772401000],"p":[129.4,129.5],"v":[100,200],` +
			`"x":["Q","N"],"c":[["1"],["1","12"]]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "test-token", "")

	page, raw, err := client.FetchTickPage(context.Background(), "AAPL", "2021-01-04", 0)
	if err != nil {
		t.Fatalf("FetchTickPage failed: %v", err)
	}
	if page.Count != 2 || page.Total != 2 {
		t.Errorf("unexpected counts: count=%d total=%d", page.Count, page.Total)
	}
	if len(page.Prices) != 2 || page.Prices[1] != 129.5 {
		t.Errorf("unexpected prices: %v", page.Prices)
	}
	if len(raw) == 0 {
		t.Error("raw body is empty")
	}
}

func TestFetchNBBOPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/bbo" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"s":"SPY","skip":0,"count":1,"total":1,` +
			`"t":[1609772400000],"b":[372.1],"bv":[5],"bx":["P"],` +
			`"a":[372.2],"av":[3],"ax":["Q"],"c":[["R"]]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "test-token", "")

	page, _, err := client.FetchNBBOPage(context.Background(), "SPY", "2021-01-04", 0)
	if err != nil {
		t.Fatalf("FetchNBBOPage failed: %v", err)
	}
	if page.Bids[0] != 372.1 || page.Asks[0] != 372.2 {
		t.Errorf("unexpected quote: bid=%v ask=%v", page.Bids, page.Asks)
	}
}

func TestFetchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "t", "")

	_, _, err := client.FetchTickPage(context.Background(), "AAPL", "2021-01-04", 0)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid API key"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "bad", "")

	_, _, err := client.FetchNBBOPage(context.Background(), "AAPL", "2021-01-04", 0)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), "t", "")

	_, _, err := client.FetchTickPage(context.Background(), "AAPL", "2021-01-04", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("unexpected status: %d", apiErr.Status)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"auth", ErrAuth, false},
		{"cancelled", context.Canceled, false},
		{"server error", &APIError{Status: 502}, true},
		{"client error", &APIError{Status: 404}, false},
		{"transport", errors.New("connection reset"), true},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("%s: Retryable = %v, want %v", c.name, got, c.want)
		}
	}
}
