package metrics

import "sync"

// Counter names. Every drop path in the signaling and servo pipelines has a
// counter so field issues can be diagnosed from a single log line.
const (
	SignalStreamReopens     = "signal_stream_reopens"
	SignalsForwarded        = "signals_forwarded"
	SignalsDroppedMalformed = "signals_dropped_malformed"
	SignalsDroppedUnknown   = "signals_dropped_unknown"
	SignalSendFailures      = "signal_send_failures"
	SignalsSent             = "signals_sent"
	CommandsApplied         = "commands_applied"
	CommandsDropped         = "commands_dropped"
	VideoSamplesWritten     = "video_samples_written"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The rig runs unattended on a device with no scrape endpoint; counters are
// dumped into the log on shutdown and read directly by tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters, for shutdown logging.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
