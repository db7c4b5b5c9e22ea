package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

func TestStreamEventsUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)

	resp := get(t, ts.URL+"/v1/sessions/missing/events")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsCompletedSession(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")
	post(t, ts.URL+"/v1/sessions/s1/complete", "")

	resp := get(t, ts.URL+"/v1/sessions/s1/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("body = %q, want done event", body)
	}
}

func TestStreamEventsDeliversCommits(t *testing.T) {
	srv, st, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/v1/sessions/s1/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	ctx := context.Background()
	if err := st.Publish(ctx, "s1", "market", model.OutputMarketAnalysis, map[string]int{"score": 7}, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var ev store.OutputEvent
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("decode event %q: %v", data, err)
			}
			break
		}
	}
	if ev.OutputType != model.OutputMarketAnalysis || ev.ProducerName != "market" {
		t.Fatalf("event = %+v, want market_analysis from market", ev)
	}

	if err := st.CompleteSession(ctx, "s1"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	sawDone := false
	for scanner.Scan() {
		if scanner.Text() == "event: done" {
			sawDone = true
			break
		}
	}
	if !sawDone {
		t.Error("stream ended without a done event")
	}
}
