package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go-image-upscaler/pkg/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *eventRecorder) record(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		if len(out) > 0 && out[len(out)-1] == ev.Status {
			continue
		}
		out = append(out, ev.Status)
	}
	return out
}

func writeModel(t *testing.T, dir, modelID string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(modelID), "onnx", "model.onnx")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func modelServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	body := strings.Repeat("w", 1000)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if !strings.HasSuffix(r.URL.Path, "/resolve/main/onnx/model.onnx") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte(body))
	}))
}

func TestModelStore_LocalModelsPreferred(t *testing.T) {
	localDir := t.TempDir()
	want := writeModel(t, localDir, "org/model")

	rec := &eventRecorder{}
	store := NewModelStore(Env{AllowLocalModels: true, ModelDir: localDir, RemoteHost: "http://127.0.0.1:1"})
	got, cleanup, err := store.Resolve(context.Background(), "org/model", Options{ProgressCallback: rec.record})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer cleanup()

	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if s := rec.statuses(); strings.Join(s, ",") != "initiate,done" {
		t.Errorf("Unexpected progress sequence %v", s)
	}
}

func TestModelStore_LocalModelsIgnoredWhenDisallowed(t *testing.T) {
	localDir := t.TempDir()
	writeModel(t, localDir, "org/model")

	hits := 0
	server := modelServer(t, &hits)
	defer server.Close()

	store := NewModelStore(Env{AllowLocalModels: false, ModelDir: localDir, RemoteHost: server.URL})
	got, cleanup, err := store.Resolve(context.Background(), "org/model", Options{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("Expected remote download, got %d requests", hits)
	}
	if strings.HasPrefix(got, localDir) {
		t.Errorf("Expected local model to be ignored, got %s", got)
	}

	// Without caching the download is temporary
	cleanup()
	if fileExists(got) {
		t.Errorf("Expected temporary model %s to be removed", got)
	}
}

func TestModelStore_DownloadIsCached(t *testing.T) {
	cacheDir := t.TempDir()
	hits := 0
	server := modelServer(t, &hits)
	defer server.Close()

	rec := &eventRecorder{}
	store := NewModelStore(Env{UseCache: true, CacheDir: cacheDir, RemoteHost: server.URL})

	first, _, err := store.Resolve(context.Background(), "org/model", Options{ProgressCallback: rec.record})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s := strings.Join(rec.statuses(), ","); s != "initiate,download,progress,done" {
		t.Errorf("Unexpected progress sequence %s", s)
	}
	last := rec.events[len(rec.events)-2]
	if last.Loaded != 1000 || last.Total != 1000 || last.Progress != 100 {
		t.Errorf("Expected final progress 1000/1000, got %+v", last)
	}

	second, _, err := store.Resolve(context.Background(), "org/model", Options{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first != second {
		t.Errorf("Expected cached path %s, got %s", first, second)
	}
	if hits != 1 {
		t.Errorf("Expected a single download, got %d", hits)
	}
}

func TestModelStore_DownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := NewModelStore(Env{UseCache: true, CacheDir: t.TempDir(), RemoteHost: server.URL})
	_, _, err := store.Resolve(context.Background(), "org/missing", Options{})
	if err == nil || !strings.Contains(err.Error(), "status code 404") {
		t.Errorf("Expected 404 error, got %v", err)
	}
}

func TestModelStore_InvalidModelID(t *testing.T) {
	store := NewModelStore(Env{})
	for _, id := range []string{"", "  ", "../escape", "org//model", "org/./model"} {
		if _, _, err := store.Resolve(context.Background(), id, Options{}); err == nil {
			t.Errorf("Expected error for model id %q", id)
		}
	}
}

func TestModelStore_RemoteURL(t *testing.T) {
	store := NewModelStore(Env{RemoteHost: "https://hub.example.com/"})
	want := "https://hub.example.com/Xenova/swin2SR-classical-sr-x4-64/resolve/main/onnx/model.onnx"
	if got := store.RemoteURL("Xenova/swin2SR-classical-sr-x4-64"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
