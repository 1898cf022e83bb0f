package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks the last successful tick of every strategy instance.
type HealthChecker struct {
	mu       sync.RWMutex
	started  time.Time
	maxAge   time.Duration
	now      func() time.Time
	lastTick map[string]time.Time
	lastErr  map[string]string
}

type HealthStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Symbols   map[string]SymbolHealth `json:"symbols"`
}

type SymbolHealth struct {
	LastTick  time.Time `json:"last_tick"`
	Stale     bool      `json:"stale"`
	LastError string    `json:"last_error,omitempty"`
}

// NewHealthChecker reports a symbol stale when its last good tick is older
// than maxAge.
func NewHealthChecker(maxAge time.Duration) *HealthChecker {
	return &HealthChecker{
		started:  time.Now(),
		maxAge:   maxAge,
		now:      time.Now,
		lastTick: map[string]time.Time{},
		lastErr:  map[string]string{},
	}
}

// Register makes a symbol visible before its first tick so a bot that never
// ticks is reported stale.
func (h *HealthChecker) Register(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.lastTick[symbol]; !ok {
		h.lastTick[symbol] = time.Time{}
	}
}

func (h *HealthChecker) TickOK(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick[symbol] = h.now()
	delete(h.lastErr, symbol)
}

func (h *HealthChecker) TickFailed(symbol string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.lastTick[symbol]; !ok {
		h.lastTick[symbol] = time.Time{}
	}
	if err != nil {
		h.lastErr[symbol] = err.Error()
	}
}

func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: now,
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Symbols:   make(map[string]SymbolHealth, len(h.lastTick)),
	}

	for symbol, last := range h.lastTick {
		stale := last.IsZero() || now.Sub(last) > h.maxAge
		if stale {
			status.Status = "degraded"
		}
		status.Symbols[symbol] = SymbolHealth{
			LastTick:  last,
			Stale:     stale,
			LastError: h.lastErr[symbol],
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
