package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"healthnet/pkg/bus"
	"healthnet/pkg/config"
)

const SyncMetricsTag = config.DefaultSyncTag

var ErrAgentStopped = errors.New("offline agent stopped")

// AgentOptions wires an Agent. Cache, Queue and Network are required.
type AgentOptions struct {
	Generation string
	Manifest   []string
	SyncPath   string
	Cache      *Cache
	Queue      Queue
	Network    Network
	Bus        *bus.Bus
	Logger     *slog.Logger
	Now        func() time.Time
}

// Agent keeps the application shell cached and delivers queued metric
// submissions. Install, Enqueue and HandleSync are lifecycle events: they
// run one at a time on the goroutine executing Run, and each caller waits
// for its own event to complete. Fetches only read the cache and run on the
// caller's goroutine.
type Agent struct {
	generation string
	manifest   []string
	syncPath   string
	cache      *Cache
	queue      Queue
	network    Network
	bus        *bus.Bus
	log        *slog.Logger
	now        func() time.Time

	events  chan lifecycleEvent
	stopped chan struct{}

	mu   sync.Mutex
	tags map[string]struct{}
}

type lifecycleEvent struct {
	name string
	run  func(ctx context.Context) error
	done chan error
}

func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	if opts.Generation == "" {
		opts.Generation = config.DefaultCacheGeneration
	}
	if len(opts.Manifest) == 0 {
		opts.Manifest = config.DefaultManifest
	}
	if opts.SyncPath == "" {
		opts.SyncPath = config.DefaultSyncPath
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Agent{
		generation: opts.Generation,
		manifest:   slices.Clone(opts.Manifest),
		syncPath:   opts.SyncPath,
		cache:      opts.Cache,
		queue:      opts.Queue,
		network:    opts.Network,
		bus:        opts.Bus,
		log:        opts.Logger.With("component", "offline.agent"),
		now:        opts.Now,
		events:     make(chan lifecycleEvent),
		stopped:    make(chan struct{}),
		tags:       make(map[string]struct{}),
	}, nil
}

// Run processes lifecycle events until ctx ends. The event in progress when
// ctx ends runs to completion first.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.stopped)

	if n, err := a.queue.Len(ctx); err == nil {
		QueueDepth.Set(float64(n))
		if n > 0 {
			a.RegisterSync(SyncMetricsTag)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-a.events:
			err := event.run(context.WithoutCancel(ctx))
			event.done <- err
		}
	}
}

// dispatch hands fn to Run and waits for it to finish.
func (a *Agent) dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	event := lifecycleEvent{name: name, run: fn, done: make(chan error, 1)}

	select {
	case a.events <- event:
	case <-a.stopped:
		return ErrAgentStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted, the event runs to completion even if ctx ends.
	return <-event.done
}

// Install fetches every manifest asset and, only when all succeed, stores
// them as the active generation and drops older ones. A failed install
// leaves the previous generation serving.
func (a *Agent) Install(ctx context.Context) error {
	return a.dispatch(ctx, "install", a.install)
}

func (a *Agent) install(ctx context.Context) error {
	assets := make([]Asset, 0, len(a.manifest))
	for _, path := range a.manifest {
		resp, err := a.network.Do(ctx, Request{Method: http.MethodGet, URL: path})
		if err == nil && !isSuccess(resp.Status) {
			err = NewError(ErrorFetchFailed, fmt.Sprintf("%s returned status %d", path, resp.Status))
		}
		if err != nil {
			return a.installFailed(WrapError(ErrorInstallFailed, "fetch "+path, err))
		}
		assets = append(assets, Asset{URL: path, Status: resp.Status, Header: resp.Header, Body: resp.Body})
	}

	if err := a.cache.Install(ctx, a.generation, assets); err != nil {
		return a.installFailed(WrapError(ErrorInstallFailed, "store generation", err))
	}

	InstallsTotal.WithLabelValues("success").Inc()
	a.log.Info("Cache generation installed", "generation", a.generation, "assets", len(assets))
	a.publish(bus.Event{Type: bus.EventCacheInstalled, Payload: map[string]string{
		"generation": a.generation,
		"assets":     strconv.Itoa(len(assets)),
	}})
	return nil
}

func (a *Agent) installFailed(err error) error {
	InstallsTotal.WithLabelValues("failure").Inc()
	a.log.Warn("Cache install failed", "generation", a.generation, "error", err)
	a.publish(bus.Event{
		Type:    bus.EventCacheInstallFailed,
		Payload: map[string]string{"generation": a.generation},
		Error:   err.Error(),
	})
	return err
}

// HandleFetch answers req from the active cache generation when possible
// and otherwise performs exactly one network fetch.
func (a *Agent) HandleFetch(ctx context.Context, req Request) (Response, error) {
	if req.Method == "" || req.Method == http.MethodGet {
		asset, ok, err := a.cache.Match(ctx, req.URL)
		if err != nil {
			a.log.Warn("Cache lookup failed", "url", req.URL, "error", err)
		}
		if ok {
			FetchesTotal.WithLabelValues("cache").Inc()
			return Response{Status: asset.Status, Header: asset.Header, Body: asset.Body, FromCache: true}, nil
		}
	}

	resp, err := a.network.Do(ctx, req)
	if err != nil {
		FetchesTotal.WithLabelValues("error").Inc()
		return Response{}, err
	}
	FetchesTotal.WithLabelValues("network").Inc()
	return resp, nil
}

// Enqueue stores a metrics submission and requests a sync-metrics flush.
func (a *Agent) Enqueue(ctx context.Context, source string, payload json.RawMessage) (Entry, error) {
	entry, err := NewEntry(source, payload, a.now())
	if err != nil {
		return Entry{}, err
	}

	err = a.dispatch(ctx, "enqueue", func(ctx context.Context) error {
		if err := a.queue.Enqueue(ctx, entry); err != nil {
			return err
		}
		a.refreshDepth(ctx)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	a.RegisterSync(SyncMetricsTag)
	a.publish(bus.Event{Type: bus.EventEntryQueued, Payload: map[string]string{"id": entry.ID, "source": source}})
	return entry, nil
}

// RegisterSync records tag for delivery on the next connectivity signal.
func (a *Agent) RegisterSync(tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags[tag] = struct{}{}
}

// RegisteredTags lists pending sync tags in name order.
func (a *Agent) RegisteredTags() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	tags := make([]string, 0, len(a.tags))
	for tag := range a.tags {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (a *Agent) unregister(tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tags, tag)
}

// HandleSync delivers a sync trigger. For sync-metrics every queued entry is
// submitted in one batch; only a 2xx answer removes exactly the submitted
// entries. Failures keep the queue intact for the next trigger.
func (a *Agent) HandleSync(ctx context.Context, tag string) error {
	return a.dispatch(ctx, "sync", func(ctx context.Context) error {
		return a.handleSync(ctx, tag)
	})
}

func (a *Agent) handleSync(ctx context.Context, tag string) error {
	if tag != SyncMetricsTag {
		a.unregister(tag)
		a.log.Debug("Ignoring sync for unknown tag", "tag", tag)
		return NewError(ErrorUnknownTag, tag)
	}

	entries, err := a.queue.Pending(ctx)
	if err != nil {
		return a.syncFailed(tag, err)
	}
	if len(entries) == 0 {
		a.unregister(tag)
		SyncsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return a.syncFailed(tag, WrapError(ErrorSyncFailed, "encode batch", err))
	}

	start := time.Now()
	resp, err := a.network.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    a.syncPath,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
	SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return a.syncFailed(tag, WrapError(ErrorSyncFailed, "submit batch", err))
	}
	if !isSuccess(resp.Status) {
		return a.syncFailed(tag, NewError(ErrorSyncFailed, fmt.Sprintf("sync endpoint returned status %d", resp.Status)))
	}

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	if err := a.queue.Remove(ctx, ids); err != nil {
		// Delivered but still queued: the next flush resubmits them.
		return a.syncFailed(tag, err)
	}

	a.unregister(tag)
	a.refreshDepth(ctx)
	SyncsTotal.WithLabelValues("success").Inc()
	EntriesSynced.Add(float64(len(ids)))
	a.log.Info("Offline queue flushed", "tag", tag, "entries", len(ids))
	a.publish(bus.Event{Type: bus.EventSyncCompleted, Payload: map[string]string{
		"tag":     tag,
		"entries": strconv.Itoa(len(ids)),
	}})
	return nil
}

func (a *Agent) syncFailed(tag string, err error) error {
	SyncsTotal.WithLabelValues("failure").Inc()
	a.log.Warn("Sync failed", "tag", tag, "category", CategoryFromError(err), "error", err)
	a.publish(bus.Event{Type: bus.EventSyncFailed, Payload: map[string]string{"tag": tag}, Error: err.Error()})
	return err
}

// DeliverSyncs runs HandleSync for every registered tag. Failures are
// logged and swallowed; the tag stays registered for the next signal.
func (a *Agent) DeliverSyncs(ctx context.Context) {
	for _, tag := range a.RegisteredTags() {
		if err := a.HandleSync(ctx, tag); err != nil && errors.Is(err, ErrAgentStopped) {
			return
		}
	}
}

// QueueLen reports the number of entries waiting for delivery.
func (a *Agent) QueueLen(ctx context.Context) (int, error) {
	return a.queue.Len(ctx)
}

// ActiveGeneration returns the generation currently serving fetches.
func (a *Agent) ActiveGeneration(ctx context.Context) (string, error) {
	return a.cache.Active(ctx)
}

func (a *Agent) refreshDepth(ctx context.Context) {
	if n, err := a.queue.Len(ctx); err == nil {
		QueueDepth.Set(float64(n))
	}
}

func (a *Agent) publish(event bus.Event) {
	if event.Source == "" {
		event.Source = "offline"
	}
	a.bus.Publish(context.Background(), event)
}
