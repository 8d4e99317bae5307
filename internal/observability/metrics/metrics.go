package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters for HTTP requests and chat
// activity. It coordinates concurrent writers via a RWMutex; the messages
// service and the widget core share the same recorder type so a host embedding
// both reports through one exposition endpoint.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	chatEvents      map[string]uint64
	unreadTotal     int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		chatEvents:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records a completed HTTP request with its duration.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{method: method, path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
}

// ObserveChatEvent increments the counter for a chat lifecycle event such as
// "send", "receive", "toast", "reconcile" or "broadcast_drop".
func (r *Recorder) ObserveChatEvent(event string) {
	if event == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatEvents[event]++
}

// SetUnreadTotal updates the gauge tracking the viewer's total unread count
// across all channels.
func (r *Recorder) SetUnreadTotal(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unreadTotal = int64(total)
}

// ChatEventCounts returns a copy of the chat event counters.
func (r *Recorder) ChatEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.chatEvents))
	for event, count := range r.chatEvents {
		counts[event] = count
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.chatEvents = make(map[string]uint64)
	r.unreadTotal = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	chatEvents := r.sortedChatEvents()

	fmt.Fprintln(w, "# HELP hostelhub_http_requests_total Total number of HTTP requests processed by the messages service")
	fmt.Fprintln(w, "# TYPE hostelhub_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "hostelhub_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP hostelhub_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE hostelhub_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "hostelhub_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP hostelhub_chat_events_total Chat lifecycle events by type")
	fmt.Fprintln(w, "# TYPE hostelhub_chat_events_total counter")
	for _, event := range chatEvents {
		value := r.chatEvents[event]
		fmt.Fprintf(w, "hostelhub_chat_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP hostelhub_chat_unread_total Current total unread count across all channels")
	fmt.Fprintln(w, "# TYPE hostelhub_chat_unread_total gauge")
	fmt.Fprintf(w, "hostelhub_chat_unread_total %d\n", r.unreadTotal)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedChatEvents() []string {
	events := make([]string, 0, len(r.chatEvents))
	for event := range r.chatEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// ObserveChatEvent increments a chat event counter on the default recorder.
func ObserveChatEvent(event string) {
	defaultRecorder.ObserveChatEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
