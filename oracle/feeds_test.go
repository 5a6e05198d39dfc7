package oracle

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManualFeedLifecycle(t *testing.T) {
	feed := NewManualFeed()
	if _, _, err := feed.LatestPrice(); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("expected no quote, got %v", err)
	}

	published := time.Unix(1_700_000_000, 0)
	feed.Set(big.NewInt(200_000_000_000), published)
	price, at, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
	if !at.Equal(published) {
		t.Fatalf("unexpected timestamp: %s", at)
	}

	// Returned values are copies.
	price.SetInt64(1)
	again, _, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if again.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("feed state was mutated through a result: %s", again)
	}
}

func TestManualFeedSetDecimal(t *testing.T) {
	published := time.Unix(1_700_000_000, 0)
	cases := []struct {
		in   string
		want int64
	}{
		{"2000", 200_000_000_000},
		{"  2000.5 ", 200_050_000_000},
		{"0.00000001", 1},
		{"1/3", 33_333_333},
	}
	for _, tc := range cases {
		feed := NewManualFeed()
		if err := feed.SetDecimal(tc.in, published); err != nil {
			t.Fatalf("set %q: %v", tc.in, err)
		}
		price, _, err := feed.LatestPrice()
		if err != nil {
			t.Fatalf("latest price: %v", err)
		}
		if price.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("set %q: got %s want %d", tc.in, price, tc.want)
		}
	}

	feed := NewManualFeed()
	for _, bad := range []string{"", "   ", "abc", "-5", "0"} {
		if err := feed.SetDecimal(bad, published); err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
	}
}

func TestHTTPFeedFetchesQuote(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"200000000000","timestamp":1700000000}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), server.URL, "secret")
	price, at, err := feed.LatestPrice()
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
	if !at.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected timestamp: %s", at)
	}
	if gotKey != "secret" {
		t.Fatalf("api key not forwarded, got %q", gotKey)
	}
}

func TestHTTPFeedErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), server.URL, "")
	if _, _, err := feed.LatestPrice(); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestHTTPFeedInvalidPayload(t *testing.T) {
	for _, body := range []string{`not json`, `{"price":"12.5","timestamp":1700000000}`, `{"price":"","timestamp":0}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		feed := NewHTTPFeed(server.Client(), server.URL, "")
		if _, _, err := feed.LatestPrice(); err == nil {
			t.Fatalf("expected decode failure for %q", body)
		}
		server.Close()
	}
}
