package router

import (
	"net/http"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(
	transferHandler *handler.TransferHandler,
	tokenHandler *handler.TokenHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", transferHandler.HandleCreateTransfer)
			r.Get("/", transferHandler.HandleListTransactions)
			r.Get("/{id}", transferHandler.HandleGetTransaction)
			r.Get("/{id}/history", transferHandler.HandleHistory)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", tokenHandler.HandleRegister)
			r.Get("/", tokenHandler.HandleList)
			r.Post("/batch", tokenHandler.HandleBatchRegister)
			r.Post("/import", tokenHandler.HandleImport)
			r.Get("/{token}", tokenHandler.HandleLookup)
			r.Put("/{token}", tokenHandler.HandleUpdateMetadata)
		})

		r.Get("/wallet/status", transferHandler.HandleWalletStatus)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
