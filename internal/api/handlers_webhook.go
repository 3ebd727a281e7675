package api

import (
	"io"
	"net/http"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/webhooks"
)

// handleGitHubWebhook verifies the signature over the raw body before
// anything is parsed or enqueued.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		WriteError(w, errors.NewValidationError("failed to read webhook body", err))
		return
	}
	receipt, err := s.receiver.Receive(r.Context(), webhooks.Delivery{
		ID:        r.Header.Get(webhooks.DeliveryHeader),
		Event:     r.Header.Get(webhooks.EventHeader),
		Signature: r.Header.Get(webhooks.SignatureHeader),
		Body:      body,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	status := http.StatusOK
	if receipt.JobID != "" && !receipt.Duplicate {
		status = http.StatusAccepted
	}
	WriteJSON(w, receipt, status)
}
