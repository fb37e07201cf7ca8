package rpc

import (
	"net/http"

	"github.com/gorilla/mux"
)

// MetricsEndpoints registers the Prometheus scrape endpoint, nothing is registered when handler is nil.
func MetricsEndpoints(handler http.Handler) RegistrarFunc {
	return func(r *mux.Router) {
		if handler != nil {
			r.Handle("/metrics", handler).Methods(http.MethodGet, http.MethodOptions)
		}
	}
}
