package realtime

import (
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	ParseFailureText = "I apologize, but I encountered an error processing the response. Please try again."
	BackendErrorText = "I apologize, but I couldn't retrieve the specific hospital data at the moment. " +
		"Please verify the hospital name and try again, or ask about general system metrics instead."

	defaultHospitalSummary = "Here's the current status of the requested hospital:"
)

// WelcomeText opens every new session log.
const WelcomeText = `Welcome to HealthNetAI! I'm your AI assistant, here to help you understand and monitor your healthcare network infrastructure.

HealthNetAI is a healthcare network monitoring and optimization system:

1. Real-time Network Monitoring:
• Continuous tracking of system metrics (CPU, memory, bandwidth)
• Automatic anomaly detection and alerts
• Load balancing across network nodes

2. AI-Powered Analytics:
• Predictive analytics for network performance
• Intelligent resource allocation
• Automated system health insights

3. Healthcare-Specific Features:
• Clinic network status monitoring
• Emergency bandwidth sharing between facilities
• Real-time metrics visualization

You can ask me questions like:
• "What is the current status of Ahero Sub-County Hospital?"
• "Show me the network metrics for Kisumu General Hospital"
• "What are the current system metrics?"
• "Are there any network alerts?"

How can I assist you today?`

// Display is the structured form of an assistant reply.
type Display struct {
	Summary     string   `json:"summary,omitempty"`
	Metrics     *Metrics `json:"metrics,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
	Alerts      []string `json:"alerts,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Display is set for replies built from structured frames.
	Display *Display `json:"display,omitempty"`
}

// displayFor derives the display payload for a decoded frame. ok is false for
// frames that produce no message.
func displayFor(event InboundEvent) (display Display, text string, ok bool) {
	switch e := event.(type) {
	case HospitalStatus:
		var wire WireMetrics
		if e.Metrics != nil {
			wire = *e.Metrics
		}
		metrics := HospitalPolicy.Apply(wire)
		display = Display{
			Summary: orDefault(e.Summary, defaultHospitalSummary),
			Metrics: &metrics,
			Highlights: []string{
				"Network Status: " + orDefault(e.Status, "Operational"),
				"Current Load: " + orDefault(e.Load, "Moderate"),
				"Connection Quality: " + orDefault(e.Quality, "Good"),
			},
			Alerts:      e.Alerts,
			Suggestions: e.Suggestions,
		}
		return display, display.Text(), true
	case Insight:
		display = Display{
			Summary:     e.Response.Summary,
			Highlights:  e.Response.Highlights,
			Alerts:      e.Response.Alerts,
			Suggestions: e.Response.Suggestions,
		}
		if e.Response.Metrics != nil {
			metrics := InstantPolicy.Apply(*e.Response.Metrics)
			display.Metrics = &metrics
		}
		return display, display.Text(), true
	case MetricsUpdate:
		metrics := InstantPolicy.Apply(e.Metrics)
		display = Display{Metrics: &metrics}
		return display, display.Text(), true
	case Response:
		return Display{}, e.Response, true
	case BackendError:
		return Display{}, BackendErrorText, true
	default:
		return Display{}, "", false
	}
}

// Text renders d as plain text, one section per populated field.
func (d Display) Text() string {
	var sections []string
	if d.Summary != "" {
		sections = append(sections, d.Summary)
	}
	if d.Metrics != nil {
		sections = append(sections, strings.Join(MetricLines(*d.Metrics), "\n"))
	}
	if block := listBlock("Highlights:", "✓", d.Highlights); block != "" {
		sections = append(sections, block)
	}
	if block := listBlock("Alerts:", "⚠", d.Alerts); block != "" {
		sections = append(sections, block)
	}
	if block := listBlock("Suggestions:", "→", d.Suggestions); block != "" {
		sections = append(sections, block)
	}

	return strings.Join(sections, "\n\n")
}

// MetricLines formats m one metric per line.
func MetricLines(m Metrics) []string {
	return []string{
		"CPU Usage: " + strconv.FormatFloat(m.CPUUsage, 'f', 1, 64) + "%",
		"Memory: " + strconv.FormatFloat(m.MemoryUsage, 'f', 1, 64) + "%",
		"Network: " + strconv.FormatFloat(m.Latency, 'f', 1, 64) + "ms",
		"Connections: " + strconv.FormatFloat(m.Connections, 'f', -1, 64),
	}
}

func listBlock(title, marker string, items []string) string {
	if len(items) == 0 {
		return ""
	}

	lines := make([]string, 0, len(items)+1)
	lines = append(lines, title)
	for _, item := range items {
		lines = append(lines, marker+" "+item)
	}
	return strings.Join(lines, "\n")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
