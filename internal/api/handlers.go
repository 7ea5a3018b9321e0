// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/pricing"
	"github.com/rovshanmuradov/presale-transfer/internal/storage"
	"github.com/rovshanmuradov/presale-transfer/internal/transfer"
)

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type transferResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
}

type transferStatusResponse struct {
	Signature    string `json:"signature"`
	BuyerAddress string `json:"buyerAddress"`
	TokenAmount  uint64 `json:"tokenAmount"`
	FeeTier      int    `json:"feeTier"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}

type userRequest struct {
	WalletAddress  string `json:"walletAddress"`
	ActiveReferral string `json:"activeReferral"`
}

type rewardsRequest struct {
	RefCode      string          `json:"refCode"`
	RewardAmount decimal.Decimal `json:"rewardAmount"`
}

type rewardsResponse struct {
	Success bool            `json:"success"`
	Rewards decimal.Decimal `json:"rewards"`
	Message string          `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// decodeJSON читает тело не длиннее maxBodyBytes
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transfer.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	for _, amount := range []decimal.Decimal{req.PaidAmount, req.PaidUnitPriceUSD, req.RemainingSupply} {
		if err := pricing.CheckMagnitude(amount); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}
	}

	res, err := h.transfers.Transfer(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, transferResponse{Success: true, Signature: res.Signature.String()})
		return
	}

	if errors.Is(err, transfer.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	body := errorResponse{Error: "Failed to transfer tokens", Details: err.Error()}
	if res != nil && !res.Signature.IsZero() {
		body.Signature = res.Signature.String()
	}
	var unknown *transfer.ConfirmationUnknownError
	if errors.As(err, &unknown) {
		body.Error = "Transfer confirmation unknown"
		body.Details = fmt.Sprintf("reconcile signature %s manually: %v", unknown.Signature, unknown.Last)
		body.Signature = unknown.Signature.String()
	}
	h.logger.Error("Transfer request failed",
		zap.String("buyer", req.BuyerAddress),
		zap.String("signature", body.Signature),
		zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, body)
}

func (h *Handler) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	sig, err := solana.SignatureFromBase58(r.PathValue("signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signature", err.Error())
		return
	}

	rec, err := h.records.GetTransfer(r.Context(), sig.String())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Transfer not found", sig.String())
		return
	case err != nil:
		h.logger.Error("Failed to load transfer record", zap.String("signature", sig.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, transferStatusResponse{
		Signature:    rec.Signature,
		BuyerAddress: rec.BuyerAddress,
		TokenAmount:  rec.TokenAmount,
		FeeTier:      rec.FeeTier,
		Status:       rec.Status,
		Error:        rec.Error,
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	address := strings.TrimSpace(req.WalletAddress)
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		writeError(w, http.StatusBadRequest, storage.ErrInvalidAddress.Error(), "")
		return
	}

	user, err := h.users.FindOrCreate(r.Context(), address, req.ActiveReferral)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, user)
	case errors.Is(err, storage.ErrInvalidAddress),
		errors.Is(err, storage.ErrInvalidReferral),
		errors.Is(err, storage.ErrSelfReferral):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		h.logger.Error("Failed to find or create user", zap.String("wallet", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}

func (h *Handler) handleUpdateRewards(w http.ResponseWriter, r *http.Request) {
	var req rewardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	refCode := strings.TrimSpace(req.RefCode)
	if refCode == "" {
		writeError(w, http.StatusBadRequest, "Valid referral code is required", "")
		return
	}
	if pricing.CheckMagnitude(req.RewardAmount) != nil || !req.RewardAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Valid reward amount is required", "")
		return
	}
	// вознаграждения хранятся с точностью до центов
	if !req.RewardAmount.Equal(req.RewardAmount.Round(2)) {
		writeError(w, http.StatusBadRequest, "Valid reward amount is required", "at most 2 decimal places")
		return
	}

	user, err := h.users.IncrementReward(r.Context(), refCode, req.RewardAmount)
	if err != nil {
		h.logger.Error("Failed to update rewards", zap.String("ref_code", refCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	if user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to update rewards", "")
		return
	}

	writeJSON(w, http.StatusOK, rewardsResponse{
		Success: true,
		Rewards: user.ReferralRewards,
		Message: fmt.Sprintf("Successfully added %s to referral rewards", req.RewardAmount.String()),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
