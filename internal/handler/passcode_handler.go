package handler

import (
	"encoding/json"
	"net/http"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
	"balance-service/internal/service"
)

type PasscodeHandler struct {
	engine *service.Engine
}

func NewPasscodeHandler(engine *service.Engine) *PasscodeHandler {
	return &PasscodeHandler{engine: engine}
}

type IssuePasscodeRequest struct {
	Subject string `json:"subject"`
	Purpose string `json:"purpose"`
}

// Issue requests a one-time code. The code itself is only ever delivered to
// the subject's chat, never echoed back over HTTP.
func (h *PasscodeHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssuePasscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body"))
		return
	}

	if err := h.engine.IssuePasscode(r.Context(), req.Subject, domain.PasscodePurpose(req.Purpose)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "passcode sent"})
}
