// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics exposes request counters and latency histograms in the
// Prometheus format. Each instance owns its registry.
type HTTPMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the collectors under the given namespace.
func NewHTTPMetrics(namespace string) *HTTPMetrics {
	reg := prometheus.NewRegistry()
	m := &HTTPMetrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"table", "method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "method", "route"}),
	}
	reg.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *HTTPMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *HTTPMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// TableNone labels requests that never reached a route table, such as
// unknown hosts or rate-limited clients.
const TableNone = "none"

type labelsKey struct{}

type requestLabels struct {
	table string
	route string
}

// SetTable labels the in-flight request with the route table serving it.
// It is a no-op outside Middleware.
func SetTable(ctx context.Context, table string) {
	if l, ok := ctx.Value(labelsKey{}).(*requestLabels); ok {
		l.table = table
	}
}

// RouteRecorder copies the matched chi route pattern into the request labels.
// Install it with Use on every route table; the pattern must be read before
// the mux returns its route context to the pool.
func (m *HTTPMetrics) RouteRecorder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		l, ok := r.Context().Value(labelsKey{}).(*requestLabels)
		if !ok {
			return
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				l.route = p
			}
		}
	})
}

// Middleware records every request passing through the shared chain. The
// table label comes from SetTable and the route label from RouteRecorder, so
// unknown paths do not explode label cardinality.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		l := &requestLabels{table: TableNone, route: "unmatched"}

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), labelsKey{}, l)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(l.table, r.Method, l.route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(l.table, r.Method, l.route).Observe(time.Since(start).Seconds())
	})
}
