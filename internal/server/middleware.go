package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kubilitics/kubilitics-anomaly/internal/audit"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
	"github.com/kubilitics/kubilitics-anomaly/internal/middleware"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the response code. It forwards Hijack so the
// websocket upgrade still works behind instrument.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request counts and latency per route template, so
// /alerts/{id} is one series rather than one per alert.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// requestID propagates the caller's X-Request-ID, or a fresh one, as the
// audit correlation id and echoes it on the response. The client address is
// attached for the audit trail as well.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = audit.GenerateCorrelationID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := audit.WithCorrelationID(r.Context(), id)
		ctx = audit.WithSourceIP(ctx, middleware.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
