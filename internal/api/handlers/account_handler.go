package handlers

import (
	"net/http"

	"riskwatch/internal/service"
)

// AccountHandler - ключи API биржи пользователя
//
// Ключи проверяются на бирже, шифруются и сохраняются; приостановленный
// из-за недействительных ключей опрос возобновляется. Ключи никогда не
// возвращаются в ответах.
type AccountHandler struct {
	accountService service.AccountServiceInterface
}

// NewAccountHandler создает новый AccountHandler
func NewAccountHandler(accountService service.AccountServiceInterface) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// SetCredentialsRequest - тело PUT /accounts/{userId}/credentials
type SetCredentialsRequest struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// SetCredentials сохраняет ключи
// PUT /api/v1/accounts/{userId}/credentials
func (h *AccountHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	var req SetCredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, err)
		return
	}

	acc, err := h.accountService.SetCredentials(r.Context(), userID, req.APIKey, req.SecretKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

// GetAccount возвращает состояние подключения (без ключей)
// GET /api/v1/accounts/{userId}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	acc, err := h.accountService.GetAccount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

// DeleteAccount удаляет ключи
// DELETE /api/v1/accounts/{userId}
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	if err := h.accountService.DeleteAccount(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
