package handler

import (
	"encoding/json"
	"net/http"

	"balance-service/internal/errors"
	"balance-service/internal/service"
)

type BalanceHandler struct {
	engine *service.Engine
}

func NewBalanceHandler(engine *service.Engine) *BalanceHandler {
	return &BalanceHandler{engine: engine}
}

type BalanceRequest struct {
	Subject string `json:"subject"`
}

func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	info, err := h.engine.GetBalance(r.Context(), req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
