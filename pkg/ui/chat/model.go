package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"healthnet/pkg/bus"
	"healthnet/pkg/realtime"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const mouseWheelLines = 3

// Session is the realtime chat session driven by the UI.
type Session interface {
	Open() error
	Suspend() error
	Send(query string) error
	Snapshot() realtime.Snapshot
	Messages() []realtime.ChatMessage
}

// SessionInfo is shown in the header.
type SessionInfo struct {
	SessionID string
	Endpoint  string
}

// sessionEventMsg carries one bus event into the update loop.
type sessionEventMsg struct {
	event bus.Event
}

// sessionEndedMsg is sent when the event stream closes.
type sessionEndedMsg struct{}

type bootTickMsg struct{}

type model struct {
	session      Session
	events       <-chan bus.Event
	mode         mode
	oneShotInput string
	info         SessionInfo

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []realtime.ChatMessage
	snapshot  realtime.Snapshot
	width     int
	height    int
	isReady   bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool

	// one-shot bookkeeping
	sent      bool
	sentIndex int
	answer    string
}

func newModel(session Session, events <-chan bus.Event, runMode mode, prompt string, info SessionInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(console.teal)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Ask about a hospital, clinic or the network..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		session:      session,
		events:       events,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(prompt),
		info:         info,
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	m.syncSession()
	cmds := []tea.Cmd{waitForEventCmd(m.events), m.spinner.Tick}
	if m.mode == modeInteractive {
		cmds = append(cmds, bootTickCmd())
	} else {
		cmds = append(cmds, m.maybeSendOneShot())
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		m.refreshViewport(true)
		return m, textinput.Blink
	case sessionEventMsg:
		m.handleSessionEvent(typed.event)
		if m.mode == modeOneShot {
			if done := m.oneShotFinished(); done {
				return m, tea.Quit
			}
			return m, tea.Batch(waitForEventCmd(m.events), m.maybeSendOneShot())
		}
		return m, waitForEventCmd(m.events)
	case sessionEndedMsg:
		if m.mode == modeOneShot {
			if m.answer == "" && m.lastErr == "" {
				m.lastErr = "session ended before an answer arrived"
			}
			return m, tea.Quit
		}
		return m, nil
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		switch typed.String() {
		case "enter":
			return m, m.submit()
		case "ctrl+r":
			m.reconnect()
			return m, nil
		case "ctrl+x":
			m.disconnect()
			return m, nil
		}
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	return m, cmd
}

// submit sends the input line. Blank input and a disconnected session leave
// the log untouched.
func (m *model) submit() tea.Cmd {
	if m.snapshot.Loading {
		return nil
	}

	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return nil
	}
	if isExitCommand(prompt) {
		return tea.Quit
	}

	if err := m.session.Send(prompt); err != nil {
		m.lastErr = sendErrorText(err)
		return nil
	}

	m.lastErr = ""
	m.input.SetValue("")
	m.followLog = true
	m.syncSession()
	m.refreshViewport(true)
	return nil
}

// reconnect reopens an exhausted or disconnected session.
func (m *model) reconnect() {
	if m.snapshot.State != realtime.StateDisconnected {
		return
	}
	if err := m.session.Open(); err != nil {
		m.lastErr = err.Error()
		return
	}
	m.lastErr = ""
}

// disconnect releases the connection and stops retries while keeping the
// transcript. Ctrl+R resumes.
func (m *model) disconnect() {
	if !m.snapshot.Open {
		return
	}
	if err := m.session.Suspend(); err != nil {
		m.lastErr = err.Error()
		return
	}
	m.lastErr = ""
}

func (m *model) handleSessionEvent(event bus.Event) {
	switch event.Type {
	case bus.EventReconnectExhausted:
		m.lastErr = "backend unreachable after " + event.Payload["attempts"] + " attempts"
	case bus.EventSessionState:
		if event.Payload["state"] == string(realtime.StateConnected) {
			m.lastErr = ""
		}
	}

	m.syncSession()
	m.refreshViewport(false)
}

func (m *model) syncSession() {
	if m.session == nil {
		return
	}
	m.snapshot = m.session.Snapshot()
	m.messages = m.session.Messages()
}

// maybeSendOneShot sends the one-shot prompt once the session connects.
func (m *model) maybeSendOneShot() tea.Cmd {
	if m.mode != modeOneShot || m.sent || m.oneShotInput == "" {
		return nil
	}
	if m.snapshot.State != realtime.StateConnected {
		return nil
	}

	m.sentIndex = len(m.messages)
	if err := m.session.Send(m.oneShotInput); err != nil {
		m.lastErr = sendErrorText(err)
		return nil
	}
	m.sent = true
	m.syncSession()
	return nil
}

func (m *model) oneShotFinished() bool {
	if m.snapshot.Phase == realtime.PhaseExhausted {
		if m.lastErr == "" {
			m.lastErr = "backend unreachable"
		}
		return true
	}
	if !m.sent {
		return false
	}
	for _, msg := range m.messages[min(m.sentIndex, len(m.messages)):] {
		if msg.Role == realtime.RoleAssistant {
			m.answer = msg.Content
			return true
		}
	}
	return false
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("🏥 HealthNetAI Network Assistant")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"session:%s · backend:%s · questions:%d",
		displayOrNA(shortID(m.info.SessionID)),
		displayOrNA(m.info.Endpoint),
		conversationTurns(m.messages),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	parts := []string{
		header,
		meta,
		m.connectionLine(),
		line,
		m.theme.viewport.Width(m.width - 2).Render(m.viewport.View()),
		m.statusLine(),
		m.theme.inputLabel.Render("👩🏾‍⚕️ You") + " " + m.theme.hint.Render("(Ctrl+X pause, /exit to quit)"),
		m.theme.input.Width(m.width - 2).Render(m.input.View()),
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) connectionLine() string {
	switch m.snapshot.State {
	case realtime.StateConnected:
		return m.theme.stateOnline.Render("● Connected")
	case realtime.StateConnecting:
		return m.theme.stateBusy.Render(fmt.Sprintf("%s Connecting...", m.spinner.View()))
	}

	label := "○ Disconnected"
	switch {
	case !m.snapshot.Open:
		label = "○ Paused · Ctrl+R to reconnect"
	case m.snapshot.Phase == realtime.PhaseAwaitingRetry:
		label = fmt.Sprintf("○ Disconnected · retry %d scheduled", m.snapshot.Attempts+1)
	case m.snapshot.Phase == realtime.PhaseExhausted:
		label = "○ Disconnected · Ctrl+R to reconnect"
	}
	return m.theme.stateOffline.Render(label)
}

func (m *model) statusLine() string {
	if m.lastErr != "" {
		return m.theme.statusErr.Render("🚨 " + m.lastErr)
	}
	if m.snapshot.Loading {
		return m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ waiting for the network assistant...", m.spinner.View()))
	}
	return m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 11
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		sections = append(sections, m.renderMessage(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderMessage(item realtime.ChatMessage, width int) string {
	stamp := ""
	if !item.Timestamp.IsZero() {
		stamp = " " + m.theme.hint.Render(item.Timestamp.Local().Format("15:04"))
	}

	if item.Role == realtime.RoleUser {
		return m.renderCard(
			m.theme.userTitle.Render("▛▚ [ YOU ] ▞▜")+stamp,
			m.theme.userBox.Width(width).Render(strings.TrimSpace(item.Content)),
		)
	}

	body := strings.TrimSpace(item.Content)
	if item.Display != nil && item.Display.Metrics != nil {
		body = m.renderDisplay(*item.Display)
	}
	return m.renderCard(
		m.theme.assistantTitle.Render("▛▚ [ HealthNetAI ] ▞▜")+stamp,
		m.theme.assistantBox.Width(width).Render(body),
	)
}

// renderDisplay lays out a structured reply with a highlighted metrics block.
func (m *model) renderDisplay(display realtime.Display) string {
	var sections []string
	if summary := strings.TrimSpace(display.Summary); summary != "" {
		sections = append(sections, summary)
	}
	if display.Metrics != nil {
		sections = append(sections, m.theme.metrics.Render(strings.Join(realtime.MetricLines(*display.Metrics), "\n")))
	}
	for _, block := range []struct {
		marker string
		style  lipgloss.Style
		items  []string
	}{
		{marker: "✓", style: m.theme.highlight, items: display.Highlights},
		{marker: "⚠", style: m.theme.alert, items: display.Alerts},
		{marker: "→", style: m.theme.suggestion, items: display.Suggestions},
	} {
		if len(block.items) == 0 {
			continue
		}
		lines := make([]string, len(block.items))
		for i, item := range block.items {
			lines[i] = block.style.Render(block.marker + " " + item)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.renderCard(
		m.theme.userTitle.Render("▛▚ [SENT] ▞▜"),
		m.theme.userBox.Width(contentWidth).Render(strings.TrimSpace(m.oneShotInput)),
	)}

	if m.lastErr != "" {
		parts = append(parts,
			m.renderCard(
				m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"),
				m.theme.errorBox.Width(contentWidth).Render(strings.TrimSpace(m.lastErr)),
			),
		)
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
	}

	if m.answer == "" {
		waiting := "connecting to backend..."
		if m.sent {
			waiting = "waiting for answer..."
		}
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ %s", m.spinner.View(), waiting)))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	parts = append(parts,
		m.renderCard(
			m.theme.assistantTitle.Render("▛▚ [ANSWER] ▞▜"),
			m.theme.assistantBox.Width(contentWidth).Render(strings.TrimSpace(m.answer)),
		),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("🏥 HealthNetAI Network Assistant")
	meta := m.theme.headerMeta.Render("starting up")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ assistant ready"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func waitForEventCmd(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return sessionEndedMsg{}
		}
		return sessionEventMsg{event: event}
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseWheelLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseWheelLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loading facility directory",
		"[BOOT] opening realtime channel",
		"[BOOT] calibrating metric floors",
		"[BOOT] warming offline cache",
	}
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, realtime.ErrNotConnected):
		return "not connected - your question was not sent"
	case errors.Is(err, realtime.ErrClosed):
		return "session closed"
	default:
		return err.Error()
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func conversationTurns(messages []realtime.ChatMessage) int {
	count := 0
	for _, message := range messages {
		if message.Role == realtime.RoleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
