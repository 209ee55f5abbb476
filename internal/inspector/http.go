package inspector

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter mounts the inspector endpoints:
//
//	GET /queues   depth report (JSON, or the text table with ?format=table)
//	GET /healthz  broker session state; 503 unless open
//	GET /metrics  Prometheus exposition from gatherer
//
// gatherer may be nil, in which case /metrics is not mounted.
func NewRouter(insp *Inspector, session retry.Session, gatherer prometheus.Gatherer, logger types.Logger) http.Handler {
	if logger == nil {
		logger = types.NopLogger{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/queues", func(w http.ResponseWriter, req *http.Request) {
		report := insp.Inspect(req.Context())
		if req.URL.Query().Get("format") == "table" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if err := Render(w, report); err != nil {
				logger.Warn("failed to write queue table", "error", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := session.State()
		resp := healthResponse{Status: "healthy", Session: state.String()}
		status := http.StatusOK
		if state != retry.SessionOpen {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorDetail{
			Code:    "not_found",
			Message: "resource not found",
		}})
	})

	return r
}

// writeJSON marshals data before touching the response so a marshalling
// failure can still produce a 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "failed to marshal response",
		}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
