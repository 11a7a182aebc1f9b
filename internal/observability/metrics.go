package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu             sync.Mutex
	requestCount   map[string]int64
	requestLatency map[string]time.Duration
	errorCount     map[string]int64
	webhookEvents  map[string]int64
	webhookDrops   map[string]int64
	webhookFailed  int64
	messagesStored int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests       map[string]int64 `json:"requests"`
	AvgLatencyMS   map[string]int64 `json:"avg_latency_ms"`
	Errors         map[string]int64 `json:"errors"`
	WebhookEvents  map[string]int64 `json:"webhook_events"`
	WebhookDrops   map[string]int64 `json:"webhook_drops"`
	WebhookFailed  int64            `json:"webhook_failed_transient"`
	MessagesStored int64            `json:"messages_stored"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:   make(map[string]int64),
		requestLatency: make(map[string]time.Duration),
		errorCount:     make(map[string]int64),
		webhookEvents:  make(map[string]int64),
		webhookDrops:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestLatency[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordWebhookEvent counts a received gateway event by normalized kind.
func (m *Metrics) RecordWebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookEvents[kind]++
}

// RecordWebhookDrop counts an event that was acknowledged without effect.
func (m *Metrics) RecordWebhookDrop(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookDrops[reason]++
}

// RecordWebhookTransient counts events answered with a retryable status.
func (m *Metrics) RecordWebhookTransient() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookFailed++
}

// RecordMessageStored counts inbound messages persisted by the pipeline.
func (m *Metrics) RecordMessageStored() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesStored++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := make(map[string]int64, len(m.requestLatency))
	for key, total := range m.requestLatency {
		if n := m.requestCount[key]; n > 0 {
			avg[key] = (total / time.Duration(n)).Milliseconds()
		}
	}
	return Snapshot{
		Requests:       copyCounts(m.requestCount),
		AvgLatencyMS:   avg,
		Errors:         copyCounts(m.errorCount),
		WebhookEvents:  copyCounts(m.webhookEvents),
		WebhookDrops:   copyCounts(m.webhookDrops),
		WebhookFailed:  m.webhookFailed,
		MessagesStored: m.messagesStored,
	}
}

// Keys returns the sorted request keys, mostly useful for debugging output.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Requests))
	for k := range s.Requests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
