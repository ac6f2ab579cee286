package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/mcdev12/voteroom/internal/gateway"
)

func setupServer(config Config, svc *gateway.Service) *http.Server {
	mux := http.NewServeMux()

	// Register WebSocket and room state routes
	svc.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := svc.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"voteroom","version":"1.0.0","connections":%d,"rooms":%d}`,
			stats["total_connections"], stats["active_rooms"])
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Port),
		Handler: c.Handler(mux),
		// No blanket write timeout; long-lived WebSocket connections manage
		// their own deadlines in the pumps.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
