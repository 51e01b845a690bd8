package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"balance-service/internal/errors"
	"balance-service/internal/service"
)

type TransactionHandler struct {
	engine *service.Engine
	// sharedSecret authenticates server-to-server premium purchase calls.
	sharedSecret string
}

func NewTransactionHandler(engine *service.Engine, sharedSecret string) *TransactionHandler {
	return &TransactionHandler{engine: engine, sharedSecret: sharedSecret}
}

type WithdrawRequest struct {
	Subject     string            `json:"subject"`
	AmountMinor int64             `json:"amount_minor"`
	Method      string            `json:"method"`
	Destination map[string]string `json:"destination,omitempty"`
	Passcode    string            `json:"passcode"`
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	info, err := h.engine.Withdraw(r.Context(), service.WithdrawRequest{
		Subject:     req.Subject,
		AmountMinor: req.AmountMinor,
		Method:      req.Method,
		Destination: req.Destination,
		Passcode:    req.Passcode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type PremiumPurchaseRequest struct {
	Buyer     string `json:"buyer"`
	BuyerName string `json:"buyer_name"`
	Owner     string `json:"owner,omitempty"`
	OwnerName string `json:"owner_name,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	Passcode  string `json:"passcode"`
	SecretKey string `json:"secret_key"`
}

func (h *TransactionHandler) PremiumPurchase(w http.ResponseWriter, r *http.Request) {
	var req PremiumPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	// Only the main groups server may call this; fail closed when no secret
	// is configured.
	if h.sharedSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.SecretKey), []byte(h.sharedSecret)) != 1 {
		writeError(w, errors.ErrUnauthorized)
		return
	}

	result, err := h.engine.PremiumPurchase(r.Context(), service.PremiumPurchaseRequest{
		Buyer:     req.Buyer,
		BuyerName: req.BuyerName,
		Owner:     req.Owner,
		OwnerName: req.OwnerName,
		GroupName: req.GroupName,
		Passcode:  req.Passcode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type PromoUnlockRequest struct {
	Subject  string `json:"subject"`
	Passcode string `json:"passcode"`
}

func (h *TransactionHandler) PromoUnlock(w http.ResponseWriter, r *http.Request) {
	var req PromoUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	result, err := h.engine.PromoUnlock(r.Context(), req.Subject, req.Passcode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type PromoSubmissionRequest struct {
	Subject  string `json:"subject"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Method   string `json:"method,omitempty"`
	Contact  string `json:"contact,omitempty"`
	Image    string `json:"image"`
	Kind     string `json:"kind"`
}

func (h *TransactionHandler) PromoSubmission(w http.ResponseWriter, r *http.Request) {
	var req PromoSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	err := h.engine.SubmitPromoProof(r.Context(), service.PromoSubmission{
		Subject:  req.Subject,
		Name:     req.Name,
		Username: req.Username,
		Method:   req.Method,
		Contact:  req.Contact,
		Image:    req.Image,
		Kind:     req.Kind,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "submission sent to admin"})
}
