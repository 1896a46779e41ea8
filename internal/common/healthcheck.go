package common

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/params"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func newHealthCheckMux(rdb redis.UniversalClient, db *gorm.DB) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		if err := sqlDB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		if _, err := rdb.Ping(r.Context()).Result(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func StartHealthCheckServer(ctx context.Context, done chan struct{}, rdb redis.UniversalClient, db *gorm.DB) {
	server := &http.Server{
		Addr:    params.HealthCheckServerAddr,
		Handler: newHealthCheckMux(rdb, db),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		server.Shutdown(context.Background())
		close(done)
	case err := <-serverErr:
		slog.Error("Health check server stopped", "error", err)
		close(done)
	}
}
