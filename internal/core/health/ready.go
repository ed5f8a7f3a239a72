package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Ready(ctx context.Context) error
}

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Readiness probes each named checker with a shared timeout.
func Readiness(timeout time.Duration, checks map[string]Checker) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Errors map[string]string `json:"errors,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready"}
		for name, c := range checks {
			if c == nil {
				continue
			}
			if err := c.Ready(ctx); err != nil {
				if out.Errors == nil {
					out.Errors = map[string]string{}
				}
				out.Errors[name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Errors) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
