package chat

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"healthnet/pkg/bus"
	"healthnet/pkg/realtime"
)

type fakeSession struct {
	mu       sync.Mutex
	snapshot realtime.Snapshot
	messages []realtime.ChatMessage
	sent     []string
	opens    int
	suspends int
	sendErr  error
}

func (s *fakeSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	s.snapshot.Open = true
	return nil
}

func (s *fakeSession) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspends++
	s.snapshot.Open = false
	s.snapshot.Phase = realtime.PhaseDisconnected
	s.snapshot.State = realtime.StateDisconnected
	return nil
}

func (s *fakeSession) Send(query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.snapshot.State != realtime.StateConnected {
		return realtime.ErrNotConnected
	}
	s.sent = append(s.sent, query)
	s.messages = append(s.messages, realtime.ChatMessage{Role: realtime.RoleUser, Content: query})
	s.snapshot.Loading = true
	return nil
}

func (s *fakeSession) Snapshot() realtime.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *fakeSession) Messages() []realtime.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.ChatMessage(nil), s.messages...)
}

func (s *fakeSession) setPhase(phase realtime.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Phase = phase
	s.snapshot.State = phase.State()
}

func (s *fakeSession) reply(content string, display *realtime.Display) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, realtime.ChatMessage{Role: realtime.RoleAssistant, Content: content, Display: display})
	s.snapshot.Loading = false
}

func stateEvent(phase realtime.Phase) sessionEventMsg {
	return sessionEventMsg{event: bus.Event{
		Type:    bus.EventSessionState,
		Payload: map[string]string{"phase": phase.String(), "state": string(phase.State())},
	}}
}

func appendedEvent() sessionEventMsg {
	return sessionEventMsg{event: bus.Event{Type: bus.EventMessageAppended}}
}

func readyInteractive(session *fakeSession) *model {
	m := newModel(session, nil, modeInteractive, "", SessionInfo{SessionID: "0b6f5a8e-test", Endpoint: "ws://localhost:8080/ws/ai-chat"})
	m.booting = false
	m.viewport.Height = 40
	m.syncSession()
	return m
}

func typeAndSubmit(m *model, text string) {
	m.input.SetValue(text)
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestSubmitSendsWhenConnected(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseConnected)
	m := readyInteractive(session)

	typeAndSubmit(m, "  How is Ahero Hospital?  ")

	if len(session.sent) != 1 || session.sent[0] != "How is Ahero Hospital?" {
		t.Fatalf("sent = %#v, want trimmed query", session.sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("input = %q, want cleared", m.input.Value())
	}
	if !m.snapshot.Loading {
		t.Fatal("expected loading after send")
	}
	if !strings.Contains(m.View(), "waiting for the network assistant") {
		t.Fatal("expected loading status in view")
	}
}

func TestSubmitWhileDisconnectedKeepsInput(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseAwaitingRetry)
	m := readyInteractive(session)

	typeAndSubmit(m, "status?")

	if len(session.sent) != 0 || len(m.messages) != 0 {
		t.Fatalf("sent = %v, messages = %d; want nothing while disconnected", session.sent, len(m.messages))
	}
	if m.input.Value() != "status?" {
		t.Fatalf("input = %q, want text kept for retry", m.input.Value())
	}
	if !strings.Contains(m.lastErr, "not connected") {
		t.Fatalf("lastErr = %q", m.lastErr)
	}
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseConnected)
	m := readyInteractive(session)

	typeAndSubmit(m, "   ")

	if len(session.sent) != 0 || m.lastErr != "" {
		t.Fatalf("sent = %v, lastErr = %q; want blank input ignored", session.sent, m.lastErr)
	}
}

func TestExitCommandQuits(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseConnected)
	m := readyInteractive(session)
	m.input.SetValue("/exit")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if len(session.sent) != 0 {
		t.Fatal("exit command must not be sent")
	}
}

func TestConnectionLineFollowsSession(t *testing.T) {
	session := &fakeSession{}
	session.snapshot.Open = true
	m := readyInteractive(session)

	session.setPhase(realtime.PhaseConnected)
	m.Update(stateEvent(realtime.PhaseConnected))
	if !strings.Contains(m.connectionLine(), "Connected") {
		t.Fatalf("connection line = %q", m.connectionLine())
	}

	session.setPhase(realtime.PhaseExhausted)
	m.Update(sessionEventMsg{event: bus.Event{Type: bus.EventReconnectExhausted, Payload: map[string]string{"attempts": "5"}}})
	if !strings.Contains(m.connectionLine(), "Ctrl+R") {
		t.Fatalf("connection line = %q, want reconnect hint", m.connectionLine())
	}
	if !strings.Contains(m.lastErr, "after 5 attempts") {
		t.Fatalf("lastErr = %q", m.lastErr)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	if session.opens != 1 {
		t.Fatalf("opens = %d, want Ctrl+R to reopen", session.opens)
	}
}

func TestCtrlXPausesAndCtrlRResumes(t *testing.T) {
	session := &fakeSession{}
	_ = session.Open()
	session.setPhase(realtime.PhaseConnected)
	m := readyInteractive(session)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	if session.suspends != 1 {
		t.Fatalf("suspends = %d, want Ctrl+X to suspend", session.suspends)
	}
	m.Update(stateEvent(realtime.PhaseDisconnected))
	if !strings.Contains(m.connectionLine(), "Paused") {
		t.Fatalf("connection line = %q, want paused", m.connectionLine())
	}

	// Already paused.
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	if session.suspends != 1 {
		t.Fatalf("suspends = %d, want no second suspend", session.suspends)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	if session.opens != 2 {
		t.Fatalf("opens = %d, want Ctrl+R to resume", session.opens)
	}
}

func TestStructuredReplyRendersMetrics(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseConnected)
	m := readyInteractive(session)

	metrics := realtime.Metrics{CPUUsage: 62.3, MemoryUsage: 25.5, Latency: 45, Connections: 40}
	session.reply("ignored text", &realtime.Display{
		Summary:    "Kisumu General is stable",
		Metrics:    &metrics,
		Highlights: []string{"Network Status: Operational"},
		Alerts:     []string{"High latency"},
	})
	m.Update(appendedEvent())

	content := m.viewport.View()
	for _, want := range []string{"Kisumu General is stable", "CPU Usage: 62.3%", "✓ Network Status: Operational", "⚠ High latency"} {
		if !strings.Contains(content, want) {
			t.Fatalf("viewport missing %q:\n%s", want, content)
		}
	}
}

func TestOneShotSendsAfterConnectAndQuitsOnReply(t *testing.T) {
	session := &fakeSession{}
	session.setPhase(realtime.PhaseConnecting)
	m := newModel(session, nil, modeOneShot, "What are current system metrics?", SessionInfo{})
	m.Init()

	if len(session.sent) != 0 {
		t.Fatal("expected prompt to wait for the connection")
	}

	session.setPhase(realtime.PhaseConnected)
	m.Update(stateEvent(realtime.PhaseConnected))
	if len(session.sent) != 1 {
		t.Fatalf("sent = %v, want prompt sent once connected", session.sent)
	}

	session.reply("All systems nominal", nil)
	_, cmd := m.Update(appendedEvent())
	if cmd == nil {
		t.Fatal("expected quit after reply")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if m.answer != "All systems nominal" {
		t.Fatalf("answer = %q", m.answer)
	}
}

func TestOneShotGivesUpWhenExhausted(t *testing.T) {
	session := &fakeSession{}
	m := newModel(session, nil, modeOneShot, "status", SessionInfo{})
	m.Init()

	session.setPhase(realtime.PhaseExhausted)
	m.Update(sessionEventMsg{event: bus.Event{Type: bus.EventReconnectExhausted, Payload: map[string]string{"attempts": "5"}}})

	if m.lastErr == "" {
		t.Fatal("expected an error once reconnects are exhausted")
	}
	if !strings.Contains(m.View(), "[ERROR]") {
		t.Fatal("expected error card in one-shot view")
	}
}

func TestWaitForEventReportsClosedStream(t *testing.T) {
	events := make(chan bus.Event)
	close(events)

	if _, ok := waitForEventCmd(events)().(sessionEndedMsg); !ok {
		t.Fatal("expected sessionEndedMsg for a closed stream")
	}
	if waitForEventCmd(nil) != nil {
		t.Fatal("expected no command without an event stream")
	}
}

func TestBootSequenceFinishes(t *testing.T) {
	m := newModel(&fakeSession{}, nil, modeInteractive, "", SessionInfo{})
	for i := 0; i <= len(bootScriptLines()); i++ {
		m.Update(bootTickMsg{})
	}
	if m.booting {
		t.Fatal("expected boot sequence to finish")
	}
}

func TestMouseWheelScrolling(t *testing.T) {
	t.Parallel()

	m := newModel(nil, nil, modeInteractive, "", SessionInfo{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("metric line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	bottom := m.viewport.YOffset
	if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}) {
		t.Fatal("expected wheel-up to be handled")
	}
	if m.followLog || m.viewport.YOffset >= bottom {
		t.Fatalf("wheel-up: followLog = %v, YOffset = %d (bottom %d)", m.followLog, m.viewport.YOffset, bottom)
	}

	if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown}) {
		t.Fatal("expected wheel-down to be handled")
	}
	if !m.viewport.AtBottom() || !m.followLog {
		t.Fatalf("wheel-down: AtBottom = %v, followLog = %v", m.viewport.AtBottom(), m.followLog)
	}

	if m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}) {
		t.Fatal("expected clicks to be ignored")
	}
}

func TestIsExitCommand(t *testing.T) {
	for input, want := range map[string]bool{"exit": true, " /exit ": true, "QUIT": true, ":q": true, "quit now": false} {
		if got := isExitCommand(input); got != want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRenderMessageShowsTimestamp(t *testing.T) {
	m := newModel(nil, nil, modeInteractive, "", SessionInfo{})
	at := time.Date(2026, 1, 2, 14, 5, 0, 0, time.Local)
	out := m.renderMessage(realtime.ChatMessage{Role: realtime.RoleUser, Content: "hi", Timestamp: at}, 40)
	if !strings.Contains(out, "14:05") {
		t.Fatalf("rendered = %q, want time", out)
	}
}
