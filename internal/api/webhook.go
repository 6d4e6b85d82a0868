package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/punchamoorthee/savingsledger/internal/domain"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

// SignPayload returns the hex HMAC-SHA512 of body, as the provider sends it.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, header string) bool {
	if len(h.webhookSecret) == 0 || header == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// DepositWebhookHandler applies a provider deposit once its signature checks
// out. Redelivery of the same reference is answered with the earlier result.
func (h *Handler) DepositWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}
	if !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("deposit webhook rejected: bad signature")
		respondWithError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload domain.DepositWebhookPayload
	if !h.decode(w, r, &payload) {
		return
	}
	amount, err := domain.ParseDecimal(string(payload.Amount))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	result, err := h.transfers.DepositExternal(r.Context(), domain.DepositEvent{
		AccountNumber: payload.AccountNumber,
		Reference:     payload.Reference,
		Amount:        amount,
		SenderName:    payload.SenderName,
		SenderBank:    payload.SenderBank,
	})
	if err != nil {
		h.logger.Error("deposit webhook failed",
			zap.String("reference", payload.Reference),
			zap.Error(err),
		)
		h.respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"duplicate":      result.Duplicate,
		"transaction_id": result.Transaction.ID,
		"wallet_balance": result.WalletBalance,
	})
}
