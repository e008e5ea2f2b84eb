package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/betbot/copyflow/internal/engine"
)

type fakeSource struct {
	snap   *engine.Snapshot
	halted bool
	mode   engine.LiquidationMode
}

func (f *fakeSource) Snapshot() *engine.Snapshot                    { return f.snap }
func (f *fakeSource) Halted() bool                                  { return f.halted }
func (f *fakeSource) SetLiquidation(m engine.LiquidationMode)       { f.mode = m }

func serve(t *testing.T, src *fakeSource, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := New("127.0.0.1:0", src)
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthzBeforeFirstCycle(t *testing.T) {
	w := serve(t, &fakeSource{}, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first cycle, got %d", w.Code)
	}
}

func TestStatusServesSnapshot(t *testing.T) {
	src := &fakeSource{snap: &engine.Snapshot{At: time.Now(), Cycle: 7}}
	w := serve(t, src, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got engine.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Cycle != 7 {
		t.Fatalf("expected cycle 7, got %d", got.Cycle)
	}
}

func TestLiquidateValidation(t *testing.T) {
	src := &fakeSource{snap: &engine.Snapshot{}}
	if w := serve(t, src, http.MethodPost, "/liquidate", `{"mode":"ALL"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if src.mode != engine.LiquidateAll {
		t.Fatalf("expected ALL, got %s", src.mode)
	}
	if w := serve(t, src, http.MethodPost, "/liquidate", `{"mode":"EVERYTHING"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mode, got %d", w.Code)
	}
}
