package offline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"healthnet/pkg/bus"
)

var (
	errOffline = errors.New("network unreachable")
	fixedTime  = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
)

// fakeNetwork answers requests from per-path handlers and records every
// request it sees.
type fakeNetwork struct {
	mu       sync.Mutex
	routes   map[string]func(Request) (Response, error)
	requests []Request
	offline  bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: make(map[string]func(Request) (Response, error))}
}

func (n *fakeNetwork) handle(path string, fn func(Request) (Response, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[path] = fn
}

func (n *fakeNetwork) serve(path string, status int, body string) {
	n.handle(path, func(Request) (Response, error) {
		return Response{
			Status: status,
			Header: http.Header{"Content-Type": []string{"text/plain"}},
			Body:   []byte(body),
		}, nil
	})
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) Do(_ context.Context, req Request) (Response, error) {
	n.mu.Lock()
	n.requests = append(n.requests, req)
	fn, ok := n.routes[req.URL]
	offline := n.offline
	n.mu.Unlock()

	if offline {
		return Response{}, WrapError(ErrorFetchFailed, req.URL, errOffline)
	}
	if !ok {
		return Response{Status: http.StatusNotFound}, nil
	}
	return fn(req)
}

func (n *fakeNetwork) calls(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, req := range n.requests {
		if req.URL == path {
			count++
		}
	}
	return count
}

func (n *fakeNetwork) last(path string) (Request, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.requests) - 1; i >= 0; i-- {
		if n.requests[i].URL == path {
			return n.requests[i], true
		}
	}
	return Request{}, false
}

var testManifest = []string{"/", "/index.html", "/static/js/main.js"}

func serveManifest(n *fakeNetwork) {
	for _, path := range testManifest {
		n.serve(path, http.StatusOK, "asset "+path)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type agentFixture struct {
	agent   *Agent
	store   *Store
	cache   *Cache
	queue   Queue
	network *fakeNetwork
	bus     *bus.Bus
}

func newAgentFixture(t *testing.T, generation string) *agentFixture {
	t.Helper()

	store := openTestStore(t)
	return startAgent(t, store, NewSQLiteQueue(store), newFakeNetwork(), generation)
}

// startAgent builds an agent over the given storage and runs it until the
// test ends.
func startAgent(t *testing.T, store *Store, queue Queue, network *fakeNetwork, generation string) *agentFixture {
	t.Helper()

	eventBus := bus.New()
	t.Cleanup(eventBus.Close)

	cache := NewCache(store)
	agent, err := NewAgent(AgentOptions{
		Generation: generation,
		Manifest:   testManifest,
		Cache:      cache,
		Queue:      queue,
		Network:    network,
		Bus:        eventBus,
		Logger:     discardLogger(),
		Now:        func() time.Time { return fixedTime },
	})
	if err != nil {
		t.Fatalf("NewAgent error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = agent.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &agentFixture{agent: agent, store: store, cache: cache, queue: queue, network: network, bus: eventBus}
}
