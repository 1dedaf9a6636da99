package api

import (
	"net/http"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/metrics"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("GET /v1/contacts", h.ListContacts)
	mux.HandleFunc("PUT /v1/contacts/{name}", h.PutContact)
	mux.HandleFunc("DELETE /v1/contacts/{name}", h.DeleteContact)

	mux.HandleFunc("GET /v1/messages", h.ListMessages)
	mux.HandleFunc("POST /v1/messages", h.CreateMessage)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("DELETE /v1/messages/{id}", h.DeleteMessage)
	mux.HandleFunc("POST /v1/messages/{id}/send", h.SendMessage)
	mux.HandleFunc("POST /v1/messages/{id}/reschedule", h.RescheduleMessage)

	mux.HandleFunc("POST /v1/send", h.SendDirect)
	mux.HandleFunc("POST /v1/dispatch/tick", h.Tick)

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("scheduled-messaging"))
	})

	return instrument(mux)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics under the matched route pattern. The
// mux fills r.Pattern while routing, so it is read after the call returns.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTP(r.Method, r.Pattern, sw.status, time.Since(start))
	})
}
