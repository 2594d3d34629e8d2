package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

// StatusFunc reports the pipeline state served on /status as JSON.
type StatusFunc func(ctx context.Context) (any, error)

// NewRouter serves:
//   - GET /metrics - Prometheus exposition of gatherer
//   - GET /health - liveness
//   - GET /status - status() as JSON
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.NotFound(w, r)
			return
		}
		v, err := status(r.Context())
		if err != nil {
			log.Warn(r.Context(), "status unavailable", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})

	return r
}

func requestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(logging.ContextWith(r.Context(), "request_id", middleware.GetReqID(r.Context())))

			next.ServeHTTP(ww, r)

			log.Debug(r.Context(), "status request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

// Serve runs the status server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, log logging.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
