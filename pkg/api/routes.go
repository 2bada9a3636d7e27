// Package api exposes community detection over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func SetupRoutes(router *mux.Router, handlers *Handlers) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/detect", handlers.Detect).Methods("POST")
	api.HandleFunc("/families", handlers.ListFamilies).Methods("GET")
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
}

// NewHandler builds the router with its middleware stack, wrapped in CORS
// for the given origins. An empty list allows every origin.
func NewHandler(handlers *Handlers, origins []string, logger zerolog.Logger) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, handlers)

	router.Use(RequestIDMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger))

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(router)
}
