package webhook

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// RouteStats summarizes the traffic one route has served since start.
type RouteStats struct {
	Path          string  `json:"path"`
	Method        string  `json:"method"`
	Requests      int64   `json:"requests"`
	ClientErrors  int64   `json:"clientErrors"`
	ServerErrors  int64   `json:"serverErrors"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	MaxLatencyMs  float64 `json:"maxLatencyMs"`
	LastStatus    int     `json:"lastStatus,omitempty"`
	LastRequestAt int64   `json:"lastRequestAt,omitempty"`
}

// RouteTracker aggregates RouteStats per method and path for /health.
type RouteTracker struct {
	mu     sync.RWMutex
	routes map[routeKey]*RouteStats
}

type routeKey struct {
	method string
	path   string
}

func NewRouteTracker() *RouteTracker {
	return &RouteTracker{routes: make(map[routeKey]*RouteStats)}
}

// Observe records one response.
func (rt *RouteTracker) Observe(path, method string, status int, took time.Duration) {
	ms := float64(took) / float64(time.Millisecond)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	key := routeKey{method: method, path: path}
	st := rt.routes[key]
	if st == nil {
		st = &RouteStats{Path: path, Method: method}
		rt.routes[key] = st
	}

	st.Requests++
	switch {
	case status >= http.StatusInternalServerError:
		st.ServerErrors++
	case status >= http.StatusBadRequest:
		st.ClientErrors++
	}
	st.AvgLatencyMs += (ms - st.AvgLatencyMs) / float64(st.Requests)
	if ms > st.MaxLatencyMs {
		st.MaxLatencyMs = ms
	}
	st.LastStatus = status
	st.LastRequestAt = time.Now().UnixMilli()
}

// Snapshot copies every route's stats, ordered by path then method.
func (rt *RouteTracker) Snapshot() []RouteStats {
	rt.mu.RLock()
	out := make([]RouteStats, 0, len(rt.routes))
	for _, st := range rt.routes {
		out = append(out, *st)
	}
	rt.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Route returns a copy of one route's stats; ok is false when it has not
// served a request yet.
func (rt *RouteTracker) Route(path, method string) (RouteStats, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	st, ok := rt.routes[routeKey{method: method, path: path}]
	if !ok {
		return RouteStats{}, false
	}
	return *st, true
}
