package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, baseURL, id string) model.Session {
	t.Helper()
	resp := post(t, baseURL+"/v1/sessions", `{"session_id":"`+id+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201", resp.StatusCode)
	}
	var sess model.Session
	decodeJSON(t, resp, &sess)
	return sess
}

func TestCreateSessionGeneratesID(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)

	resp := post(t, ts.URL+"/v1/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var sess model.Session
	decodeJSON(t, resp, &sess)
	if len(sess.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(sess.ID))
	}
	if sess.Status != model.SessionRunning {
		t.Errorf("Status = %q, want %q", sess.Status, model.SessionRunning)
	}
	if sess.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", sess.CompletedAt)
	}
}

func TestCreateSessionConflict(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)

	sess := createSession(t, ts.URL, "s1")
	if sess.ID != "s1" {
		t.Errorf("ID = %q, want s1", sess.ID)
	}

	resp := post(t, ts.URL+"/v1/sessions", `{"session_id":"s1"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateSessionInvalidBody(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)

	resp := post(t, ts.URL+"/v1/sessions", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)

	resp := get(t, ts.URL+"/v1/sessions/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCompleteSession(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	resp := post(t, ts.URL+"/v1/sessions/s1/complete", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sess model.Session
	decodeJSON(t, resp, &sess)
	if sess.Status != model.SessionCompleted {
		t.Errorf("Status = %q, want %q", sess.Status, model.SessionCompleted)
	}
	if sess.CompletedAt == nil {
		t.Error("CompletedAt is nil after completion")
	}

	again := post(t, ts.URL+"/v1/sessions/s1/complete", "")
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second complete status = %d, want 409", again.StatusCode)
	}

	missing := post(t, ts.URL+"/v1/sessions/nope/complete", "")
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", missing.StatusCode)
	}
}

func TestPublishAndWaitOutput(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	body := `{"producer_name":"market","output_type":"market_analysis","payload":{"trend":"up"}}`
	resp := post(t, ts.URL+"/v1/sessions/s1/outputs", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %d, want 202", resp.StatusCode)
	}

	got := get(t, ts.URL+"/v1/sessions/s1/outputs/market_analysis?timeout=2s")
	if got.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, want 200", got.StatusCode)
	}
	var rec model.OutputRecord
	decodeJSON(t, got, &rec)
	if rec.ProducerName != "market" {
		t.Errorf("ProducerName = %q, want market", rec.ProducerName)
	}
	if rec.Status != model.OutputCompleted {
		t.Errorf("Status = %q, want %q", rec.Status, model.OutputCompleted)
	}
	var payload struct {
		Trend string `json:"trend"`
	}
	if err := rec.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Trend != "up" {
		t.Errorf("trend = %q, want up", payload.Trend)
	}
}

func TestWaitOutputTimesOut(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	start := time.Now()
	resp := get(t, ts.URL+"/v1/sessions/s1/outputs/news_analysis?timeout=100ms")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, want at least 100ms", elapsed)
	}
}

func TestWaitOutputWakesOnPublish(t *testing.T) {
	srv, st, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	done := make(chan int, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/v1/sessions/s1/outputs/research_report?timeout=5s")
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	if err := st.Publish(context.Background(), "s1", "research", model.OutputResearchReport, map[string]string{"view": "bull"}, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("status = %d, want 200", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("waiting reader was not woken by publish")
	}
}

func TestPublishValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing producer", `{"output_type":"market_analysis","payload":{}}`},
		{"missing output type", `{"producer_name":"market","payload":{}}`},
		{"missing payload", `{"producer_name":"market","output_type":"market_analysis"}`},
		{"null payload", `{"producer_name":"market","output_type":"market_analysis","payload":null}`},
		{"bad status", `{"producer_name":"market","output_type":"market_analysis","payload":{},"status":"pending"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/v1/sessions/s1/outputs", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestFailedOutputIsListedButNotServed(t *testing.T) {
	srv, st, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	body := `{"producer_name":"news","output_type":"news_analysis","payload":{"error":"feed down","status":"failed"},"status":"failed"}`
	if resp := post(t, ts.URL+"/v1/sessions/s1/outputs", body); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %d, want 202", resp.StatusCode)
	}
	if err := st.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	wait := get(t, ts.URL+"/v1/sessions/s1/outputs/news_analysis?timeout=50ms")
	if wait.StatusCode != http.StatusNotFound {
		t.Errorf("wait status = %d, want 404", wait.StatusCode)
	}

	list := get(t, ts.URL+"/v1/sessions/s1/outputs")
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", list.StatusCode)
	}
	var out listOutputsResponse
	decodeJSON(t, list, &out)
	if len(out.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(out.Outputs))
	}
	if out.Outputs[0].Status != model.OutputFailed {
		t.Errorf("Status = %q, want %q", out.Outputs[0].Status, model.OutputFailed)
	}
}

func TestListOutputsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	ts := newTestHTTP(t, srv)
	createSession(t, ts.URL, "s1")

	resp := get(t, ts.URL+"/v1/sessions/s1/outputs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out listOutputsResponse
	decodeJSON(t, resp, &out)
	if out.Outputs == nil || len(out.Outputs) != 0 {
		t.Errorf("Outputs = %v, want empty list", out.Outputs)
	}
}
