// Package metrics provides observability for the simulation server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Store metrics
	StoreWrites      int64
	StoreWriteLatSum int64
	StoreWriteLatMax int64
	StoreWriteErrors int64

	// Session metrics
	SessionsStarted   int64
	SessionsCompleted int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesOut       int64
	WSErrors            int64

	// LLM metrics
	LLMRequests   int64
	LLMFallbacks  int64
	LLMTokensUsed int64
	LLMCostUSD    float64
	LLMLatencySum int64

	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = &Collector{
	StartTime: time.Now(),
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// RecordTick records an engine evaluation pass.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))

	// Update max (non-atomic but acceptable for metrics)
	if int64(latency) > atomic.LoadInt64(&c.TickLatencyMax) {
		atomic.StoreInt64(&c.TickLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordStoreWrite records a write to the session store.
func (c *Collector) RecordStoreWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.StoreWrites, 1)
	atomic.AddInt64(&c.StoreWriteLatSum, int64(latency))

	if int64(latency) > atomic.LoadInt64(&c.StoreWriteLatMax) {
		atomic.StoreInt64(&c.StoreWriteLatMax, int64(latency))
	}

	if err != nil {
		atomic.AddInt64(&c.StoreWriteErrors, 1)
	}
}

// RecordSessionStart records a new case session.
func (c *Collector) RecordSessionStart() {
	atomic.AddInt64(&c.SessionsStarted, 1)
}

// RecordSessionEnd records a completed or abandoned session.
func (c *Collector) RecordSessionEnd() {
	atomic.AddInt64(&c.SessionsCompleted, 1)
}

// RecordWSConnection records monitor connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records an outbound monitor broadcast.
func (c *Collector) RecordWSMessage() {
	atomic.AddInt64(&c.WSMessagesOut, 1)
}

// RecordWSError records a monitor send error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordLLMCall records a narration or parsing call.
func (c *Collector) RecordLLMCall(tokens int, cost float64, latency time.Duration) {
	atomic.AddInt64(&c.LLMRequests, 1)
	atomic.AddInt64(&c.LLMTokensUsed, int64(tokens))
	atomic.AddInt64(&c.LLMLatencySum, int64(latency))

	c.mu.Lock()
	c.LLMCostUSD += cost
	c.mu.Unlock()
}

// RecordLLMFallback records a call that fell back to the placeholder path.
func (c *Collector) RecordLLMFallback() {
	atomic.AddInt64(&c.LLMFallbacks, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	storeWrites := atomic.LoadInt64(&c.StoreWrites)
	llmRequests := atomic.LoadInt64(&c.LLMRequests)

	var tickAvg, storeAvg, llmAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if storeWrites > 0 {
		storeAvg = float64(atomic.LoadInt64(&c.StoreWriteLatSum)) / float64(storeWrites) / 1e6
	}
	if llmRequests > 0 {
		llmAvg = float64(atomic.LoadInt64(&c.LLMLatencySum)) / float64(llmRequests) / 1e9 // seconds
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      c.LastTickTime.Format(time.RFC3339),
		},

		"store": map[string]interface{}{
			"writes":           storeWrites,
			"avg_write_lat_ms": storeAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.StoreWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.StoreWriteErrors),
		},

		"sessions": map[string]interface{}{
			"started":   atomic.LoadInt64(&c.SessionsStarted),
			"completed": atomic.LoadInt64(&c.SessionsCompleted),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},

		"llm": map[string]interface{}{
			"requests":        llmRequests,
			"fallbacks":       atomic.LoadInt64(&c.LLMFallbacks),
			"tokens_used":     atomic.LoadInt64(&c.LLMTokensUsed),
			"cost_usd":        c.LLMCostUSD,
			"avg_latency_sec": llmAvg,
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		snapshot := collector.Snapshot()
		json.NewEncoder(w).Encode(snapshot)
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		c := collector

		fmt.Fprintf(w, "# HELP simward_tick_count Total engine evaluation passes\n")
		fmt.Fprintf(w, "# TYPE simward_tick_count counter\n")
		fmt.Fprintf(w, "simward_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP simward_tick_latency_max_ms Maximum pass latency\n")
		fmt.Fprintf(w, "# TYPE simward_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "simward_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP simward_store_writes Total session store writes\n")
		fmt.Fprintf(w, "# TYPE simward_store_writes counter\n")
		fmt.Fprintf(w, "simward_store_writes %d\n\n", atomic.LoadInt64(&c.StoreWrites))

		fmt.Fprintf(w, "# HELP simward_store_write_errors Total session store write errors\n")
		fmt.Fprintf(w, "# TYPE simward_store_write_errors counter\n")
		fmt.Fprintf(w, "simward_store_write_errors %d\n\n", atomic.LoadInt64(&c.StoreWriteErrors))

		fmt.Fprintf(w, "# HELP simward_sessions_started Total sessions started\n")
		fmt.Fprintf(w, "# TYPE simward_sessions_started counter\n")
		fmt.Fprintf(w, "simward_sessions_started %d\n\n", atomic.LoadInt64(&c.SessionsStarted))

		fmt.Fprintf(w, "# HELP simward_ws_connections Active monitor connections\n")
		fmt.Fprintf(w, "# TYPE simward_ws_connections gauge\n")
		fmt.Fprintf(w, "simward_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP simward_llm_requests Total LLM API requests\n")
		fmt.Fprintf(w, "# TYPE simward_llm_requests counter\n")
		fmt.Fprintf(w, "simward_llm_requests %d\n\n", atomic.LoadInt64(&c.LLMRequests))

		fmt.Fprintf(w, "# HELP simward_llm_fallbacks Total LLM fallback responses\n")
		fmt.Fprintf(w, "# TYPE simward_llm_fallbacks counter\n")
		fmt.Fprintf(w, "simward_llm_fallbacks %d\n\n", atomic.LoadInt64(&c.LLMFallbacks))

		c.mu.RLock()
		fmt.Fprintf(w, "# HELP simward_llm_cost_usd Total LLM cost in USD\n")
		fmt.Fprintf(w, "# TYPE simward_llm_cost_usd counter\n")
		fmt.Fprintf(w, "simward_llm_cost_usd %.4f\n", c.LLMCostUSD)
		c.mu.RUnlock()
	}
}
