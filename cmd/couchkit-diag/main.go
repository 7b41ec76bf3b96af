package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/couchkit"
	"stealthcompany.com/couchkit/internal/metrics"
	"stealthcompany.com/couchkit/pkg/zerolog_config"
)

// getEnv retrieves environment variable with fallback default
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func healthHandler(session *couchkit.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, err := session.Ping()
		if err != nil {
			log.Error().Err(err).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func main() {
	zerolog_config.Startup("couchkit-diag", os.Getenv("ELASTICSEARCH_URL"), "logs")

	log.Info().Msg("Starting couchkit-diag service")

	hostname := getEnv("COUCHBASE_HOSTNAME", "localhost")
	username := getEnv("COUCHBASE_USERNAME", "Administrator")
	password := getEnv("COUCHBASE_PASSWORD", "password")
	bucket := getEnv("COUCHBASE_BUCKET", "default")

	session := couchkit.NewSession(hostname, username, password, &couchkit.SessionOptions{
		Bucket: bucket,
		TLS:    os.Getenv("COUCHBASE_TLS") == "true",
	})

	if err := session.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Couchbase")
	}
	defer session.Disconnect()

	metrics.StartSystemMetrics(15 * time.Second)

	router := mux.NewRouter()
	router.Use(metrics.Middleware)
	router.HandleFunc("/health", healthHandler(session)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	port := getEnv("DIAG_PORT", "8080")
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", port).Msg("Diagnostics server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start diagnostics server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Diagnostics server shutdown failed")
	}

	log.Info().Msg("couchkit-diag stopped")
}
