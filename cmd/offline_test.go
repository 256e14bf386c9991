package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"healthnet/pkg/config"
	"healthnet/pkg/offline"
)

type syncRecorder struct {
	mu      sync.Mutex
	batches [][]offline.Entry
}

func (r *syncRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func fakeBackend(t *testing.T, recorder *syncRecorder) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/sync", func(w http.ResponseWriter, r *http.Request) {
		var batch []offline.Entry
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		recorder.mu.Lock()
		recorder.batches = append(recorder.batches, batch)
		recorder.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("shell " + r.URL.Path))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func loadTestConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()

	t.Chdir(t.TempDir())
	t.Setenv("HEALTHNET_CONFIG", "")
	t.Setenv("HEALTHNET_BACKEND_URL", backendURL)
	t.Setenv("HEALTHNET_OFFLINE_DATA_DIR", t.TempDir())
	t.Setenv("HEALTHNET_OFFLINE_MANIFEST", "/,/index.html,/manifest.json")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	return cfg
}

func TestOfflineRuntimeInstallQueueAndFlush(t *testing.T) {
	recorder := &syncRecorder{}
	backend := fakeBackend(t, recorder)
	cfg := loadTestConfig(t, backend.URL)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt, err := newOfflineRuntime(cfg, log)
	if err != nil {
		t.Fatalf("newOfflineRuntime error: %v", err)
	}
	t.Cleanup(rt.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.agent.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := rt.agent.Install(ctx); err != nil {
		t.Fatalf("Install error: %v", err)
	}

	rec := httptest.NewRecorder()
	rt.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "shell /index.html" {
		t.Fatalf("fetch = %d %q, want cached shell", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Healthnet-Cache") != "hit" {
		t.Fatal("expected cached response")
	}

	if _, err := rt.agent.Enqueue(ctx, "cli", json.RawMessage(`{"cpu_usage":33}`)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if !rt.watcher.Check(ctx) {
		t.Fatal("expected backend to be reachable")
	}

	if recorder.count() != 1 {
		t.Fatalf("sync batches = %d, want 1", recorder.count())
	}
	if n, _ := rt.agent.QueueLen(ctx); n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
}

func TestOfflineRuntimeRejectsUnknownQueueDriver(t *testing.T) {
	backend := fakeBackend(t, &syncRecorder{})
	cfg := loadTestConfig(t, backend.URL)
	cfg.Offline.Queue.Driver = "kafka"

	if _, err := newOfflineRuntime(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected unknown queue driver to fail")
	}
}

func TestOfflineCommandsRegistered(t *testing.T) {
	want := map[string]bool{"install": false, "flush": false, "enqueue <json>": false}
	for _, sub := range offlineCmd.Commands() {
		if _, ok := want[sub.Use]; ok {
			want[sub.Use] = true
		}
	}
	for use, found := range want {
		if !found {
			t.Fatalf("offline subcommand %q not registered", use)
		}
	}
}
