package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound type tags.
const (
	TypeHospitalStatus = "hospital_status"
	TypeInsight        = "insight"
	TypeResponse       = "response"
	TypeMetrics        = "metrics"
	TypeError          = "error"
)

// Outbound type tags.
const (
	TypeQuery         = "query"
	TypeHospitalQuery = "hospital_query"
)

var ErrMalformedPayload = errors.New("malformed inbound payload")

// InboundEvent is one decoded frame from the chat endpoint. The set of
// implementations is closed: HospitalStatus, Insight, Response, MetricsUpdate,
// BackendError and Unknown.
type InboundEvent interface {
	EventType() string
	inbound()
}

// WireMetrics is a metrics object as sent by the backend. Fields are pointers
// so an absent value can be told apart from zero.
type WireMetrics struct {
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
	Latency     *float64 `json:"latency,omitempty"`
	Connections *float64 `json:"connections,omitempty"`
}

type HospitalStatus struct {
	Summary     string       `json:"summary,omitempty"`
	Metrics     *WireMetrics `json:"metrics,omitempty"`
	Status      string       `json:"status,omitempty"`
	Load        string       `json:"load,omitempty"`
	Quality     string       `json:"quality,omitempty"`
	Alerts      []string     `json:"alerts,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

type InsightBody struct {
	Summary     string       `json:"summary,omitempty"`
	Metrics     *WireMetrics `json:"metrics,omitempty"`
	Highlights  []string     `json:"highlights,omitempty"`
	Alerts      []string     `json:"alerts,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

type Insight struct {
	Response InsightBody `json:"response"`
}

type Response struct {
	Response string `json:"response"`
}

type MetricsUpdate struct {
	Metrics WireMetrics `json:"metrics"`
}

// BackendError is an application error reported by the backend. Message is
// kept for logging only.
type BackendError struct {
	Message string `json:"message,omitempty"`
}

// Unknown carries a well-formed frame whose type tag is not recognised.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (HospitalStatus) EventType() string { return TypeHospitalStatus }
func (Insight) EventType() string        { return TypeInsight }
func (Response) EventType() string       { return TypeResponse }
func (MetricsUpdate) EventType() string  { return TypeMetrics }
func (BackendError) EventType() string   { return TypeError }
func (u Unknown) EventType() string      { return u.Type }

func (HospitalStatus) inbound() {}
func (Insight) inbound()        {}
func (Response) inbound()       {}
func (MetricsUpdate) inbound()  {}
func (BackendError) inbound()   {}
func (Unknown) inbound()        {}

type envelope struct {
	Type string `json:"type"`
}

// Decode validates raw against the frame schema for its type tag and decodes
// it into the matching variant. Frames with a missing or unrecognised tag
// decode to Unknown. Every other failure wraps ErrMalformedPayload.
func Decode(raw []byte) (InboundEvent, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}
	if err := validateFrame(envelopeSchema, raw); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	schema, ok := variantSchemas[env.Type]
	if !ok {
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err := validateFrame(schema, raw); err != nil {
		return nil, err
	}

	var (
		event InboundEvent
		err   error
	)
	switch env.Type {
	case TypeHospitalStatus:
		var v HospitalStatus
		err = json.Unmarshal(raw, &v)
		event = v
	case TypeInsight:
		var v Insight
		err = json.Unmarshal(raw, &v)
		event = v
	case TypeResponse:
		var v Response
		err = json.Unmarshal(raw, &v)
		event = v
	case TypeMetrics:
		var v MetricsUpdate
		err = json.Unmarshal(raw, &v)
		event = v
	case TypeError:
		var v BackendError
		err = json.Unmarshal(raw, &v)
		event = v
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return event, nil
}

// OutboundEvent is the single frame shape sent to the backend.
type OutboundEvent struct {
	Type      string `json:"type"`
	Query     string `json:"query"`
	Timestamp string `json:"timestamp"`
}

var hospitalKeywords = []string{"hospital", "clinic", "health centre"}

// Classify returns the outbound type tag for query.
func Classify(query string) string {
	lower := strings.ToLower(query)
	for _, keyword := range hospitalKeywords {
		if strings.Contains(lower, keyword) {
			return TypeHospitalQuery
		}
	}

	return TypeQuery
}

// NewOutboundEvent builds the frame for query stamped at now.
func NewOutboundEvent(query string, now time.Time) OutboundEvent {
	return OutboundEvent{
		Type:      Classify(query),
		Query:     query,
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
