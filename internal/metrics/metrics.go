// Package metrics provides Prometheus instrumentation for the CFD pools.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/cfd-pool/internal/model"
)

var (
	// EntriesTotal counts committed entries, partitioned by asset and side.
	EntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfd_entries_total",
		Help: "Total number of pool entries",
	}, []string{"asset", "side"})

	// RebalancesTotal counts committed rebalances per asset.
	RebalancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfd_rebalances_total",
		Help: "Total number of pool rebalances",
	}, []string{"asset"})

	// OperationLatency tracks init/enter/rebalance latency.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfd_operation_latency_seconds",
		Help:    "Pool operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PoolSize is the scaled size of each pool side.
	PoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cfd_pool_size",
		Help: "Pool size per side, scaled by 1000",
	}, []string{"asset", "side"})

	// ClaimSupply is the outstanding claim tokens per side.
	ClaimSupply = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cfd_claim_supply",
		Help: "Outstanding claim tokens per side",
	}, []string{"asset", "side"})

	// ProtocolExposure is the protocol's scaled size, signed: positive
	// when LONG, negative when SHORT.
	ProtocolExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cfd_protocol_exposure",
		Help: "Protocol counterparty exposure, scaled; negative when short",
	}, []string{"asset"})

	// FeesCollected counts settlement units sent to the treasury.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfd_fees_collected_total",
		Help: "Entry fees collected in settlement units",
	}, []string{"asset"})

	// LimitRejections counts entries rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfd_limit_rejections_total",
		Help: "Entries rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cfd_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObservePool updates the per-pool gauges from a snapshot.
func ObservePool(ps *model.PoolState) {
	long, _ := ps.LongPoolSize.Float64()
	short, _ := ps.ShortPoolSize.Float64()
	PoolSize.WithLabelValues(ps.Asset, "LONG").Set(long)
	PoolSize.WithLabelValues(ps.Asset, "SHORT").Set(short)

	longSupply, _ := ps.LongSupply.Float64()
	shortSupply, _ := ps.ShortSupply.Float64()
	ClaimSupply.WithLabelValues(ps.Asset, "LONG").Set(longSupply)
	ClaimSupply.WithLabelValues(ps.Asset, "SHORT").Set(shortSupply)

	exposure, _ := ps.Protocol.Size.Float64()
	if ps.Protocol.Position == "SHORT" {
		exposure = -exposure
	}
	ProtocolExposure.WithLabelValues(ps.Asset).Set(exposure)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
