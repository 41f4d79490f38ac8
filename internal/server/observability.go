package server

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Instruments use bounded label sets only: route patterns and fixed
// reason strings, never raw URLs or session ids.
var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connections_rejected_total",
		Help: "Requests and connections rejected before handling",
	}, []string{"reason"}) // "rate_limit", "origin", "feed_limit", "feed_ip_limit"

	feedsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_feeds_active",
		Help: "Open WebSocket session feeds",
	})

	feedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_feed_messages_total",
		Help: "Envelopes pushed to WebSocket clients",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "editing_sessions_active",
		Help: "Open editing sessions",
	})
)

func recordRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func recordRejected(reason string) {
	rejectedTotal.WithLabelValues(reason).Inc()
}

// SetSessionGauge publishes the live session count. The monitor calls it
// on every sample tick.
func SetSessionGauge(n int) {
	sessionsActive.Set(float64(n))
}

// StartDebugServer serves pprof and Prometheus metrics on addr in a
// background goroutine and returns the server for shutdown. Non-loopback
// addresses are forced onto localhost: the profiler must never face the
// open network.
func StartDebugServer(addr string, log zerolog.Logger) *http.Server {
	if !loopbackAddr(addr) {
		log.Warn().Str("addr", addr).Msg("Debug listener forced to localhost")
		addr = "127.0.0.1:6060"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("Debug listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Debug listener failed")
		}
	}()
	return srv
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
