package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/service"
	"github.com/navikt/breakouts/internal/utils"
)

// Webhook signature headers
const (
	SignatureHeader = "x-bk-signature"
	TimestampHeader = "x-bk-request-timestamp"
)

// WebhookHandler receives room state events pushed by the session-management server
type WebhookHandler struct {
	applier     EventApplier
	secretToken string
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature verification.
func NewWebhookHandler(applier EventApplier, secretToken string) *WebhookHandler {
	return &WebhookHandler{
		applier:     applier,
		secretToken: secretToken,
	}
}

// ServeHTTP handles HTTP requests for the webhook endpoint
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.Module("webhook")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Limit request body size to prevent abuse
	body, err := io.ReadAll(io.LimitReader(r.Body, 1048576)) // 1MB limit
	if err != nil {
		logger.Warn().Err(err).Msg("Error reading webhook body")
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.secretToken != "" {
		if !h.verifySignature(r, body) {
			logger.Warn().Msg("Invalid webhook signature")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	} else {
		logger.Warn().Msg("Webhook verification disabled - FEED_WEBHOOK_SECRET not set")
	}

	var event models.FeedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn().Err(err).Msg("Error parsing webhook JSON")
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if event.Event == models.EventURLValidation {
		h.answerChallenge(w, &event)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.applier.ApplyEvent(ctx, &event); err != nil {
		if errors.Is(err, service.ErrUnsupportedEvent) {
			logger.Info().Str("event", utils.SanitizeLogString(event.Event)).Msg("Unsupported webhook event type")
		} else {
			logger.Error().Err(err).Str("event", utils.SanitizeLogString(event.Event)).Msg("Failed to apply webhook event")
		}
	}

	// Always acknowledge; redelivery of an event that failed to apply would fail again
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// answerChallenge responds to the endpoint URL validation challenge
func (h *WebhookHandler) answerChallenge(w http.ResponseWriter, event *models.FeedEvent) {
	logger := logging.Module("webhook")
	logger.Info().Msg("Received URL validation challenge")

	var validation struct {
		PlainToken string `json:"plainToken"`
	}
	if err := json.Unmarshal(event.Payload, &validation); err != nil || validation.PlainToken == "" {
		logger.Warn().Err(err).Msg("Invalid validation request")
		http.Error(w, "Invalid validation request", http.StatusBadRequest)
		return
	}

	hash := hmac.New(sha256.New, []byte(h.secretToken))
	hash.Write([]byte(validation.PlainToken))

	// json.Marshal avoids the trailing newline of json.Encoder
	response, err := json.Marshal(map[string]string{
		"plainToken":     validation.PlainToken,
		"encryptedToken": hex.EncodeToString(hash.Sum(nil)),
	})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(response)
}

// verifySignature checks the signature header against an HMAC-SHA256 of
// "v0:<timestamp>:<body>" keyed with the webhook secret
func (h *WebhookHandler) verifySignature(r *http.Request, body []byte) bool {
	logger := logging.Module("webhook")

	signatureHeader := r.Header.Get(SignatureHeader)
	if signatureHeader == "" {
		logger.Debug().Msg("Missing signature header")
		return false
	}

	scheme, received, ok := strings.Cut(signatureHeader, "=")
	if !ok || scheme != "v0" {
		logger.Debug().Str("signature", utils.SanitizeLogString(signatureHeader)).Msg("Invalid signature format")
		return false
	}

	timestamp := r.Header.Get(TimestampHeader)
	if timestamp == "" {
		logger.Debug().Msg("Missing timestamp header")
		return false
	}

	return hmac.Equal([]byte(Sign(h.secretToken, timestamp, body)), []byte(received))
}

// Sign returns the hex signature of a webhook delivery
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return hex.EncodeToString(mac.Sum(nil))
}
