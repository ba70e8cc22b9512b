package cmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"deltadrift/internal/bootstrap"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook receiver",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svcs bootstrap.Services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = ":8000"
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           newWebhookRouter(svcs.Webhook, app.Config.GitHub.WebhookSecret),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Shut the listener down when the command context is cancelled.
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logging.Info(ctx, "webhook server started", slog.String("addr", addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "webhook server failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "serve webhooks")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8000", "Webhook listen address")
}

type webhookEventService interface {
	HandleEvent(ctx context.Context, event drift.WebhookEvent) error
}

type webhookHTTPHandler struct {
	svc    webhookEventService
	secret string
}

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newWebhookRouter(svc webhookEventService, secret string) http.Handler {
	h := &webhookHTTPHandler{svc: svc, secret: secret}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "ok", Message: "healthy"})
	})
	r.Post("/webhooks/github", h.handleGitHub)
	return r
}

// handleGitHub accepts every authenticated delivery with 200. Processing
// errors are reported in the response body rather than the status code so
// the provider does not retry deliveries that will fail the same way again.
func (h *webhookHTTPHandler) handleGitHub(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithAttrs(r.Context(),
		slog.String("component", "webhook.http"),
		slog.String("delivery", strings.TrimSpace(r.Header.Get("X-GitHub-Delivery"))),
	)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeWebhookJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "failed to read payload"})
		return
	}

	if err := validateGitHubSignature(h.secret, r.Header.Get("X-Hub-Signature-256"), payload); err != nil {
		logging.Warn(ctx, "webhook signature rejected", slog.Any("error", err))
		writeWebhookJSON(w, http.StatusForbidden, webhookResponse{Status: "error", Message: err.Error()})
		return
	}

	eventType := strings.TrimSpace(r.Header.Get("X-GitHub-Event"))
	event, err := drift.ParseWebhookEvent(eventType, payload)
	if err != nil {
		logging.Warn(ctx, "webhook payload rejected",
			slog.String("event", eventType),
			slog.Any("error", err),
		)
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "error", Message: err.Error()})
		return
	}

	if err := h.svc.HandleEvent(ctx, event); err != nil {
		logging.Error(ctx, "webhook processing failed",
			slog.String("event", eventType),
			slog.Any("err", errs.Loggable(err)),
		)
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "error", Message: err.Error()})
		return
	}

	writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "Received and Processed Event"})
}

func validateGitHubSignature(secret string, signatureHeader string, payload []byte) error {
	normalizedSecret := strings.TrimSpace(secret)
	if normalizedSecret == "" {
		// Config validation requires a secret; reject rather than let a
		// misconfigured deployment accept unsigned deliveries.
		return errors.New("webhook secret is not configured")
	}

	signature := strings.TrimSpace(signatureHeader)
	if signature == "" {
		return errors.New("missing X-Hub-Signature-256")
	}

	const prefix = "sha256="
	if len(signature) <= len(prefix) || !strings.EqualFold(signature[:len(prefix)], prefix) {
		return errors.New("invalid X-Hub-Signature-256 format")
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(signature[len(prefix):]))
	if err != nil {
		return errors.New("invalid X-Hub-Signature-256 digest")
	}

	mac := hmac.New(sha256.New, []byte(normalizedSecret))
	if _, err := mac.Write(payload); err != nil {
		return errs.Wrap(err, "compute webhook signature")
	}

	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return errors.New("invalid X-Hub-Signature-256")
	}
	return nil
}

func writeWebhookJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
