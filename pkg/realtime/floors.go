package realtime

// Metrics is a clamped, display-ready metrics set.
type Metrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	Latency     float64 `json:"latency"`
	Connections float64 `json:"connections"`
}

// MetricPolicy pairs the value used for a missing field with the minimum
// shown for any field.
type MetricPolicy struct {
	Defaults Metrics
	Floors   Metrics
}

var (
	// HospitalPolicy applies to hospital_status frames.
	HospitalPolicy = MetricPolicy{
		Defaults: Metrics{CPUUsage: 15.2, MemoryUsage: 25.5, Latency: 45, Connections: 12},
		Floors:   Metrics{CPUUsage: 5, MemoryUsage: 10, Latency: 5, Connections: 5},
	}

	// InstantPolicy applies to insight and metrics frames.
	InstantPolicy = MetricPolicy{
		Defaults: Metrics{CPUUsage: 1.2, MemoryUsage: 2.5, Latency: 15, Connections: 3},
		Floors:   Metrics{CPUUsage: 0.1, MemoryUsage: 0.1, Latency: 0.1, Connections: 1},
	}
)

// Apply substitutes defaults for missing fields and clamps every value to
// its floor. A present value below the floor, zero and negatives included,
// is raised to the floor.
func (p MetricPolicy) Apply(wire WireMetrics) Metrics {
	return Metrics{
		CPUUsage:    clamp(wire.CPUUsage, p.Defaults.CPUUsage, p.Floors.CPUUsage),
		MemoryUsage: clamp(wire.MemoryUsage, p.Defaults.MemoryUsage, p.Floors.MemoryUsage),
		Latency:     clamp(wire.Latency, p.Defaults.Latency, p.Floors.Latency),
		Connections: clamp(wire.Connections, p.Defaults.Connections, p.Floors.Connections),
	}
}

func clamp(value *float64, fallback, floor float64) float64 {
	v := fallback
	if value != nil {
		v = *value
	}
	return max(floor, v)
}
