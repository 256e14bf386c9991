package offline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"healthnet/pkg/bus"
	"healthnet/pkg/config"
)

// Watcher probes backend reachability on a cron schedule. Every probe that
// reaches the backend delivers the agent's registered sync tags.
type Watcher struct {
	agent    *Agent
	network  Network
	schedule string
	path     string
	bus      *bus.Bus
	log      *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	online    bool
	probed    bool
	lastCheck time.Time
}

type WatcherOptions struct {
	Agent      *Agent
	Network    Network
	Schedule   string
	HealthPath string
	Bus        *bus.Bus
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if opts.Network == nil {
		opts.Network = opts.Agent.network
	}
	if opts.Schedule == "" {
		opts.Schedule = config.DefaultSyncSchedule
	}
	g := gronx.New()
	if !g.IsValid(opts.Schedule) {
		return nil, fmt.Errorf("invalid sync schedule %q", opts.Schedule)
	}
	if opts.HealthPath == "" {
		opts.HealthPath = config.DefaultHealthPath
	}
	if opts.Bus == nil {
		opts.Bus = opts.Agent.bus
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Watcher{
		agent:    opts.Agent,
		network:  opts.Network,
		schedule: opts.Schedule,
		path:     opts.HealthPath,
		bus:      opts.Bus,
		log:      opts.Logger.With("component", "offline.watcher"),
		now:      opts.Now,
	}, nil
}

// Run probes once immediately and then on every schedule tick until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	w.Check(ctx)

	for {
		next, err := gronx.NextTickAfter(w.schedule, w.now(), false)
		if err != nil {
			return fmt.Errorf("next sync tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			w.Check(ctx)
		}
	}
}

// Check probes the backend once and reports whether it was reachable.
func (w *Watcher) Check(ctx context.Context) bool {
	resp, err := w.network.Do(ctx, Request{Method: http.MethodGet, URL: w.path})
	online := err == nil && isSuccess(resp.Status)

	w.mu.Lock()
	changed := !w.probed || w.online != online
	w.online = online
	w.probed = true
	w.lastCheck = w.now()
	w.mu.Unlock()

	if online {
		Online.Set(1)
	} else {
		Online.Set(0)
	}

	if changed {
		if online {
			w.log.Info("Backend reachable")
		} else {
			w.log.Warn("Backend unreachable", "error", errorString(err), "status", resp.Status)
		}
		w.bus.Publish(ctx, bus.Event{
			Type:    bus.EventConnectivity,
			Source:  "offline",
			Payload: map[string]string{"online": strconv.FormatBool(online)},
			Error:   errorString(err),
		})
	}

	if online {
		w.agent.DeliverSyncs(ctx)
	}
	return online
}

// Online reports the result of the most recent probe.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// LastCheck returns when the backend was last probed.
func (w *Watcher) LastCheck() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheck
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
