// Package health exposes the service's ops endpoints: liveness, per-account
// session state and the age of the published feed snapshot.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusSource is the slice of the running service the endpoints read.
type StatusSource interface {
	AccountStatuses() []AccountStatus
	FeedStatus() FeedStatus
}

type AccountStatus struct {
	AccountID     string    `json:"account_id"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

type FeedStatus struct {
	Events      int       `json:"events"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Run serves the ops endpoints until the context is cancelled.
func Run(ctx context.Context, addr string, readHeaderTimeout time.Duration, source StatusSource) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong\n"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Accounts []AccountStatus `json:"accounts"`
			Feed     FeedStatus      `json:"feed"`
		}{
			Accounts: source.AccountStatuses(),
			Feed:     source.FeedStatus(),
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode status: %v", err), http.StatusInternalServerError)
		}
	})

	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("health server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
