package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tickServer serves the given ticks to every connection, then holds it open.
func tickServer(t *testing.T, ticks []tickMessage) (*httptest.Server, string) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, tick := range ticks {
			data, _ := json.Marshal(tick)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// waitForQuote polls until the client has a quote for symbol or times out.
func waitForQuote(t *testing.T, client *WSClient, symbol string) Quote {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		quote, err := client.GetCurrentPrice(context.Background(), symbol)
		if err == nil {
			return quote
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no quote for %s before deadline", symbol)
	return Quote{}
}

func TestWSClient_CachesTicks(t *testing.T) {
	server, wsURL := tickServer(t, []tickMessage{
		{Symbol: "NEO", Price: "11000000000000000000", Timestamp: 1000, Epoch: 7},
		{Symbol: "GAS", Price: "4000000000000000000", Timestamp: 1001, Epoch: 8},
		{Symbol: "NEO", Price: "12000000000000000000", Timestamp: 1002, Epoch: 9},
	})
	defer server.Close()

	client := NewWSClient(context.Background(), wsURL, nil)
	defer client.Close()

	quote := waitForQuote(t, client, "GAS")
	if quote.Price.String() != "4000000000000000000" {
		t.Errorf("unexpected GAS price: %v", quote.Price)
	}

	// The later NEO tick must win.
	deadline := time.Now().Add(5 * time.Second)
	for {
		quote = waitForQuote(t, client, "NEO")
		if quote.Timestamp == 1002 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest NEO tick never observed, have timestamp %d", quote.Timestamp)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if quote.Price.String() != "12000000000000000000" {
		t.Errorf("unexpected NEO price: %v", quote.Price)
	}

	epoch, err := client.GetCurrentEpoch(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentEpoch: %v", err)
	}
	if epoch < 7 {
		t.Errorf("expected epoch >= 7, got %d", epoch)
	}

	symbols, err := client.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "GAS" || symbols[1] != "NEO" {
		t.Errorf("expected [GAS NEO], got %v", symbols)
	}
}

func TestWSClient_UnknownSymbolUnavailable(t *testing.T) {
	server, wsURL := tickServer(t, nil)
	defer server.Close()

	client := NewWSClient(context.Background(), wsURL, nil)
	defer client.Close()

	_, err := client.GetCurrentPrice(context.Background(), "NEO")
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Errorf("expected ErrFeedUnavailable, got %v", err)
	}

	_, err = client.GetCurrentEpoch(context.Background())
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Errorf("expected ErrFeedUnavailable, got %v", err)
	}
}

func TestWSClient_SkipsMalformedFrames(t *testing.T) {
	server, wsURL := tickServer(t, []tickMessage{
		{Symbol: "NEO", Price: "not-a-number", Timestamp: 1000},
		{Symbol: "", Price: "1000", Timestamp: 1000},
		{Symbol: "NEO", Price: "1000", Timestamp: 2000},
	})
	defer server.Close()

	client := NewWSClient(context.Background(), wsURL, nil)
	defer client.Close()

	quote := waitForQuote(t, client, "NEO")
	if quote.Price.String() != "1000" || quote.Timestamp != 2000 {
		t.Errorf("expected the one well-formed tick, got %+v", quote)
	}
}
