package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/syncengine/internal/cli/health"
	"github.com/nimbusfs/syncengine/internal/cli/timeutil"
	"github.com/nimbusfs/syncengine/pkg/remote/signer"
)

var (
	servePort    int
	serveSecret  string
	serveBaseURL string
	serveTTL     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signer HTTP service",
	Long: `Run the credential-signing service the sync engine talks to when
remote.mode is "signer": it mints short-lived HMAC-signed URLs for a
backing object store without ever handing the engine long-lived storage
credentials.

Intended for local development against a plain HTTP object endpoint, not
as a production-grade signing service.

Examples:
  syncctl serve --port 8088 --secret dev-secret --base-url http://localhost:9000/blobs`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8088, "port to listen on")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "HMAC signing secret (required)")
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "http://localhost:9000", "base URL the signed URLs are built against")
	serveCmd.Flags().DurationVar(&serveTTL, "ttl", 15*time.Minute, "how long a signed URL remains valid")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveSecret == "" {
		return fmt.Errorf("--secret is required")
	}

	backend := &signer.HMACBackend{
		Secret:  []byte(serveSecret),
		BaseURL: serveBaseURL,
		TTL:     serveTTL,
	}
	svc := signer.NewService(backend)
	startedAt := time.Now()

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", svc))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(startedAt)
		resp := health.Response{Status: "healthy", Timestamp: time.Now().Format(time.RFC3339)}
		resp.Data.Service = "syncctl-signer"
		resp.Data.StartedAt = startedAt.Format(time.RFC3339)
		resp.Data.Uptime = timeutil.FormatUptime(uptime.String())
		resp.Data.UptimeSec = int64(uptime.Seconds())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", servePort), Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		cmd.Printf("Signer service listening on :%d\n", servePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cmd.Println("\nShutting down...")
	case err := <-serveErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
