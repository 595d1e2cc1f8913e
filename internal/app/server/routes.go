package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"shrike/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the API route table.
func NewRouter() *http.ServeMux {
	router := http.NewServeMux()
	router.HandleFunc("POST /login", loginOperator)
	router.HandleFunc("GET /health", getHealth)
	router.HandleFunc("GET /version", getVersion)

	router.Handle("GET /sources", auth.RequireAuth(http.HandlerFunc(getSources)))
	router.Handle("GET /events", auth.RequireAuth(http.HandlerFunc(getEvents)))
	router.Handle("GET /events/{recordID}", auth.RequireAuth(http.HandlerFunc(getEvent)))

	return router
}

// OpenRoutes starts the API server and blocks until it terminates.
func OpenRoutes(port int) error {
	router := NewRouter()

	log.Debug("Routes opened")

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: enableCORS(router),
	}

	log.Infof("Starting shrike API on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
