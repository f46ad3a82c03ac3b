package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_json(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")
	log.Debug("hidden")
	log.Info("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("expected one json line, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWriter_text(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "debug", "text").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestRequestLogger_route_pattern(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Post("/videos/{name}/protect", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/videos/abc/protect", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["route"] != "/videos/{name}/protect" {
		t.Errorf("expected route pattern, got %v", rec["route"])
	}
	if rec["status"] != float64(http.StatusNoContent) {
		t.Errorf("expected status 204, got %v", rec["status"])
	}
}
