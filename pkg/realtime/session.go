package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthnet/pkg/bus"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultMaxAttempts    = 5

	mailboxSize = 256
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrNotConnected = errors.New("session is not connected")
	ErrClosed       = errors.New("session is closed")
)

// Phase is the reconnect state machine position.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseAwaitingRetry
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseAwaitingRetry:
		return "awaiting_retry"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "disconnected"
	}
}

// ConnState is the coarse connectivity shown to users.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

func (p Phase) State() ConnState {
	switch p {
	case PhaseConnecting:
		return StateConnecting
	case PhaseConnected:
		return StateConnected
	default:
		return StateDisconnected
	}
}

// Options configures a Session. Endpoint is required; zero values elsewhere
// select the defaults.
type Options struct {
	ID             string
	Endpoint       string
	ReconnectDelay time.Duration
	MaxAttempts    int
	Dialer         Dialer
	Scheduler      Scheduler
	Bus            *bus.Bus
	Logger         *slog.Logger
	Now            func() time.Time
	SkipWelcome    bool
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	ID       string
	Phase    Phase
	State    ConnState
	Attempts int
	Open     bool
	Loading  bool
	Closed   bool
}

// Session owns one chat connection and its message log. All state is
// mutated by a single goroutine draining the mailbox; exported methods only
// post to it and never wait on the network.
type Session struct {
	id             string
	endpoint       string
	reconnectDelay time.Duration
	maxAttempts    int
	dialer         Dialer
	scheduler      Scheduler
	bus            *bus.Bus
	ownsBus        bool
	log            *slog.Logger
	now            func() time.Time

	messages *MessageLog

	ctx     context.Context
	cancel  context.CancelFunc
	mailbox chan sessionEvent
	stopped chan struct{}

	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the run goroutine.
	phase    Phase
	attempts int
	open     bool
	loading  bool
	conn     Conn
	connGen  uint64
	timer    Timer
	timerGen uint64
}

type sessionEvent any

type (
	openRequested    struct{ user bool }
	suspendRequested struct{}
	sendRequested    struct{ query string }
	dialSucceeded    struct {
		gen  uint64
		conn Conn
	}
	dialFailed struct {
		gen uint64
		err error
	}
	frameReceived struct {
		gen  uint64
		data []byte
	}
	connFailed struct {
		gen uint64
		err error
	}
	connClosed struct{ gen uint64 }
	retryFired struct{ gen uint64 }
	closeRequested struct{}
)

// NewSession starts the session goroutine. The session is idle until Open.
func NewSession(opts Options) (*Session, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("session endpoint is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clockScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ownsBus := false
	if opts.Bus == nil {
		opts.Bus = bus.New()
		ownsBus = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             opts.ID,
		endpoint:       opts.Endpoint,
		reconnectDelay: opts.ReconnectDelay,
		maxAttempts:    opts.MaxAttempts,
		dialer:         opts.Dialer,
		scheduler:      opts.Scheduler,
		bus:            opts.Bus,
		ownsBus:        ownsBus,
		log:            opts.Logger.With("component", "realtime.session", "session_id", opts.ID),
		now:            opts.Now,
		messages:       NewMessageLog(),
		ctx:            ctx,
		cancel:         cancel,
		mailbox:        make(chan sessionEvent, mailboxSize),
		stopped:        make(chan struct{}),
	}
	if !opts.SkipWelcome {
		s.messages.Append(ChatMessage{Role: RoleAssistant, Content: WelcomeText, Timestamp: s.now().UTC()})
	}
	s.snap = Snapshot{ID: s.id, Phase: PhaseDisconnected, State: StateDisconnected}

	go s.run()

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Open marks the session open, forgives earlier failures, and connects
// unless a connection is already in progress or live.
func (s *Session) Open() error {
	return s.post(openRequested{user: true})
}

// Suspend marks the session closed by the user without destroying it. The
// live connection and any pending retry are released; Open resumes.
func (s *Session) Suspend() error {
	return s.post(suspendRequested{})
}

// Send transmits query when the session is connected. Blank queries and
// queries issued while disconnected are dropped; the returned error tells
// the caller which case applied.
func (s *Session) Send(query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	snap := s.Snapshot()
	if snap.Closed {
		return ErrClosed
	}
	if snap.State != StateConnected {
		return ErrNotConnected
	}

	return s.post(sendRequested{query: query})
}

// Close releases the connection, cancels any pending reconnect and stops the
// session goroutine. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		select {
		case s.mailbox <- closeRequested{}:
		case <-s.stopped:
		}
	})
	<-s.stopped
	return nil
}

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Messages returns the message log in arrival order.
func (s *Session) Messages() []ChatMessage {
	return s.messages.List()
}

// Subscribe streams session notifications until ctx ends or the returned
// func is called.
func (s *Session) Subscribe(ctx context.Context, buffer int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(ctx, buffer)
}

func (s *Session) post(event sessionEvent) error {
	select {
	case <-s.stopped:
		return ErrClosed
	default:
	}

	select {
	case s.mailbox <- event:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

func (s *Session) run() {
	defer close(s.stopped)

	for event := range s.mailbox {
		if _, ok := event.(closeRequested); ok {
			s.shutdown()
			return
		}
		s.handle(event)
		s.syncSnapshot()
	}
}

func (s *Session) handle(event sessionEvent) {
	switch e := event.(type) {
	case openRequested:
		s.handleOpen(e.user)
	case suspendRequested:
		s.handleSuspend()
	case sendRequested:
		s.handleSend(e.query)
	case dialSucceeded:
		s.handleDialSucceeded(e)
	case dialFailed:
		if e.gen != s.connGen {
			return
		}
		s.log.Warn("Connection failed", "endpoint", s.endpoint, "attempt", s.attempts, "error", e.err)
		s.onError()
		s.onClose()
	case frameReceived:
		if e.gen != s.connGen || s.conn == nil {
			return
		}
		s.onMessage(e.data)
	case connFailed:
		if e.gen != s.connGen || s.conn == nil {
			return
		}
		s.log.Warn("Connection error", "error", e.err)
		s.onError()
	case connClosed:
		if e.gen != s.connGen || s.conn == nil {
			return
		}
		s.releaseConn()
		s.onClose()
	case retryFired:
		if e.gen != s.timerGen || s.timer == nil {
			return
		}
		s.timer = nil
		s.attempts++
		s.log.Info("Reconnecting", "attempt", s.attempts, "max_attempts", s.maxAttempts)
		s.handleOpen(false)
	}
}

func (s *Session) handleOpen(user bool) {
	if user {
		s.open = true
		s.attempts = 0
	}
	if s.phase == PhaseConnecting || s.phase == PhaseConnected {
		return
	}

	// A failed connection may still be waiting for its close event; that
	// event is stale once the generation moves on.
	s.releaseConn()
	s.cancelTimer()
	s.connGen++
	s.setPhase(PhaseConnecting)

	gen := s.connGen
	go s.dial(gen)
}

func (s *Session) dial(gen uint64) {
	conn, err := s.dialer.Dial(s.ctx, s.endpoint)
	if err != nil {
		_ = s.post(dialFailed{gen: gen, err: err})
		return
	}
	if err := s.post(dialSucceeded{gen: gen, conn: conn}); err != nil {
		_ = conn.Close()
	}
}

func (s *Session) handleDialSucceeded(e dialSucceeded) {
	if e.gen != s.connGen || s.phase != PhaseConnecting {
		_ = e.conn.Close()
		return
	}

	s.conn = e.conn
	go s.readLoop(e.gen, e.conn)
	s.onOpen()
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, ErrConnClosed) {
				if s.post(connFailed{gen: gen, err: err}) != nil {
					return
				}
			}
			_ = s.post(connClosed{gen: gen})
			return
		}
		if s.post(frameReceived{gen: gen, data: data}) != nil {
			return
		}
	}
}

func (s *Session) onOpen() {
	s.attempts = 0
	s.setPhase(PhaseConnected)
	s.log.Info("Connected", "endpoint", s.endpoint)
}

func (s *Session) onError() {
	if s.phase == PhaseConnecting || s.phase == PhaseConnected {
		s.setPhase(PhaseDisconnected)
	}
}

func (s *Session) onClose() {
	s.setPhase(PhaseDisconnected)
	if !s.open {
		return
	}

	if s.attempts >= s.maxAttempts {
		s.setPhase(PhaseExhausted)
		s.log.Warn("Reconnect attempts exhausted", "attempts", s.attempts)
		s.publish(bus.EventReconnectExhausted, map[string]string{"attempts": strconv.Itoa(s.attempts)})
		return
	}

	s.cancelTimer()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.scheduler.AfterFunc(s.reconnectDelay, func() {
		_ = s.post(retryFired{gen: gen})
	})
	s.setPhase(PhaseAwaitingRetry)
	s.publish(bus.EventReconnectScheduled, map[string]string{
		"attempt": strconv.Itoa(s.attempts + 1),
		"delay":   s.reconnectDelay.String(),
	})
}

func (s *Session) onMessage(data []byte) {
	s.setLoading(false)

	event, err := Decode(data)
	if err != nil {
		s.log.Warn("Inbound frame rejected", "error", err)
		s.publishError(bus.EventPayloadRejected, err)
		s.appendMessage(ChatMessage{Role: RoleAssistant, Content: ParseFailureText})
		return
	}

	if be, ok := event.(BackendError); ok {
		s.log.Warn("Backend reported error", "message", be.Message)
	}

	display, text, ok := displayFor(event)
	if !ok {
		s.log.Debug("Ignoring frame with unknown type", "type", event.EventType())
		return
	}

	msg := ChatMessage{Role: RoleAssistant, Content: text}
	if display.Metrics != nil || display.Summary != "" || len(display.Highlights) > 0 ||
		len(display.Alerts) > 0 || len(display.Suggestions) > 0 {
		msg.Display = &display
	}
	s.appendMessage(msg)
}

func (s *Session) handleSend(query string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	if s.phase != PhaseConnected || s.conn == nil {
		s.log.Debug("Dropping query while disconnected")
		return
	}

	now := s.now()
	payload, err := json.Marshal(NewOutboundEvent(query, now))
	if err != nil {
		s.log.Error("Encode outbound frame", "error", err)
		return
	}

	s.appendMessage(ChatMessage{Role: RoleUser, Content: query, Timestamp: now.UTC()})
	s.setLoading(true)

	if err := s.conn.WriteMessage(payload); err != nil {
		s.log.Warn("Send failed", "error", err)
		s.setLoading(false)
	}
}

func (s *Session) handleSuspend() {
	s.open = false
	s.cancelTimer()
	s.releaseConn()
	s.connGen++
	s.setLoading(false)
	s.setPhase(PhaseDisconnected)
}

func (s *Session) shutdown() {
	s.open = false
	s.cancelTimer()
	s.releaseConn()
	s.connGen++
	s.cancel()
	s.setPhase(PhaseDisconnected)

	s.snapMu.Lock()
	s.snap = s.snapshotLocked()
	s.snap.Closed = true
	s.snapMu.Unlock()

	s.log.Info("Session closed")
	if s.ownsBus {
		s.bus.Close()
	}
}

func (s *Session) releaseConn() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("Close connection", "error", err)
	}
	s.conn = nil
}

func (s *Session) cancelTimer() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

func (s *Session) setPhase(phase Phase) {
	if s.phase == phase {
		return
	}
	s.phase = phase
	s.syncSnapshot()
	s.publish(bus.EventSessionState, map[string]string{
		"phase":    phase.String(),
		"state":    string(phase.State()),
		"attempts": strconv.Itoa(s.attempts),
	})
}

func (s *Session) setLoading(loading bool) {
	if s.loading == loading {
		return
	}
	s.loading = loading
	s.syncSnapshot()
	s.publish(bus.EventLoadingChanged, map[string]string{"loading": strconv.FormatBool(loading)})
}

func (s *Session) appendMessage(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	index := s.messages.Append(msg)
	s.publish(bus.EventMessageAppended, map[string]string{
		"role":  string(msg.Role),
		"index": strconv.Itoa(index),
	})
}

func (s *Session) syncSnapshot() {
	s.snapMu.Lock()
	s.snap = s.snapshotLocked()
	s.snapMu.Unlock()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:       s.id,
		Phase:    s.phase,
		State:    s.phase.State(),
		Attempts: s.attempts,
		Open:     s.open,
		Loading:  s.loading,
	}
}

func (s *Session) publish(eventType bus.EventType, payload map[string]string) {
	s.bus.Publish(context.Background(), bus.Event{Type: eventType, Source: s.id, Payload: payload})
}

func (s *Session) publishError(eventType bus.EventType, err error) {
	s.bus.Publish(context.Background(), bus.Event{
		Type:   eventType,
		Source: s.id,
		Error:  err.Error(),
	})
}
