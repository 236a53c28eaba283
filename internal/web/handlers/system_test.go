package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeIndex struct {
	stats   gallery.IndexStats
	warmErr error
	warmed  int
}

func (f *fakeIndex) Status(ctx context.Context) gallery.IndexStats {
	return f.stats
}

func (f *fakeIndex) Warm(ctx context.Context, progress gallery.Progress) (gallery.IndexStats, error) {
	f.warmed++
	if f.warmErr != nil {
		return f.stats, f.warmErr
	}
	f.stats.Valid = true
	return f.stats, nil
}

func newTestSystemHandler(m FaceManager, idx IndexController) *SystemHandler {
	logger, _ := test.NewNullLogger()
	info := SystemInfo{Version: "test", DetectorBackend: "pigo", EmbedderBackend: "remote", Threshold: 0.4}
	return NewSystemHandler(info, m, idx, logger)
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "ok" || resp["service"] != ServiceName {
		t.Errorf("unexpected health response %v", resp)
	}
}

func TestSystemHandler_Get(t *testing.T) {
	m := newFakeManager()
	m.faces["alice"] = 2
	m.faces["bob"] = 1
	idx := &fakeIndex{stats: gallery.IndexStats{Model: "arcface", Metric: gallery.Cosine, References: 3}}
	handler := newTestSystemHandler(m, idx)

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/system", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["identities"] != float64(2) {
		t.Errorf("expected 2 identities, got %v", resp["identities"])
	}
	if resp["detector_backend"] != "pigo" || resp["threshold"] != 0.4 {
		t.Errorf("expected flattened system info, got %v", resp)
	}
	index, ok := resp["index"].(map[string]any)
	if !ok || index["model"] != "arcface" || index["metric"] != "cosine" {
		t.Errorf("unexpected index section %v", resp["index"])
	}
	if idx.warmed != 0 {
		t.Error("system report must not build the index")
	}
}

func TestSystemHandler_WarmIndex(t *testing.T) {
	idx := &fakeIndex{}
	handler := newTestSystemHandler(newFakeManager(), idx)

	recorder := httptest.NewRecorder()
	handler.WarmIndex(recorder, httptest.NewRequest(http.MethodPost, "/api/index/warm", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	var stats gallery.IndexStats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !stats.Valid || idx.warmed != 1 {
		t.Errorf("expected a warmed index, got %+v", stats)
	}

	idx.warmErr = errors.New("embedder down")
	recorder = httptest.NewRecorder()
	handler.WarmIndex(recorder, httptest.NewRequest(http.MethodPost, "/api/index/warm", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", recorder.Code)
	}
}
