package httpx

import (
	"net/http"
)

// InflightCounter reports how many documents are being processed.
type InflightCounter interface {
	Inflight() int
}

type healthResponse struct {
	Status   string `json:"status"`
	Inflight int    `json:"inflight"`
}

// healthHandler answers readiness/liveness checks. HEAD gets headers only.
func healthHandler(src InflightCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}
		resp := healthResponse{Status: "ok"}
		if src != nil {
			resp.Inflight = src.Inflight()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
