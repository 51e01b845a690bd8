package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"balance-service/internal/errors"
	"balance-service/internal/service"
)

// AdminHandler serves the operator surface. Authentication happens in the
// admin middleware, not here.
type AdminHandler struct {
	engine *service.Engine
}

func NewAdminHandler(engine *service.Engine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

func (h *AdminHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	info, err := h.engine.GetBalance(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type AdjustmentRequest struct {
	Subject     string `json:"subject"`
	AmountMinor int64  `json:"amount_minor"`
	Direction   string `json:"direction"`
}

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	info, err := h.engine.AdminAdjust(r.Context(), req.Subject, req.AmountMinor,
		service.AdjustmentDirection(req.Direction))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type MembersResponse struct {
	Members []string `json:"members"`
}

func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	members, err := h.engine.AdminAddMember(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MembersResponse{Members: members})
}

func (h *AdminHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	members, err := h.engine.AdminRemoveMember(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MembersResponse{Members: members})
}
