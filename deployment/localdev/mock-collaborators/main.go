// Command mock-collaborators serves stand-ins for the executor, recommender,
// and metrics backend so the engine can run end-to-end on a laptop.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

type executeRequest struct {
	ActionType string            `json:"action_type"`
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters"`
	ActionID   string            `json:"action_id"`
}

type metricsRequest struct {
	Target string `json:"target"`
}

func main() {
	// Targets remediated at least once report recovered metrics afterwards.
	var mu sync.Mutex
	remediated := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		remediated[req.Target] = true
		mu.Unlock()
		writeJSON(w, map[string]any{
			"success":      true,
			"message":      req.ActionType + " applied to " + req.Target,
			"completed_at": time.Now().UTC(),
		})
	})

	mux.HandleFunc("/v1/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"action_type":   "restart",
			"parameters":    map[string]string{"grace_period": "30s"},
			"confidence":    0.92,
			"model_version": "mock-1",
		})
	})

	mux.HandleFunc("/v1/metrics/current", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req metricsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		recovered := remediated[req.Target]
		mu.Unlock()
		metrics := map[string]float64{
			"cpu_usage_percent":  94.0,
			"memory_usage_bytes": 7.8e9,
			"container_restarts": 4,
		}
		if recovered {
			metrics = map[string]float64{
				"cpu_usage_percent":  31.0,
				"memory_usage_bytes": 2.1e9,
				"container_restarts": 0,
			}
		}
		writeJSON(w, map[string]any{"metrics": metrics})
	})

	logger := log.New(log.Writer(), "mock-collaborators ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
