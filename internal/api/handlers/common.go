package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskwatch/internal/api/middleware"
	"riskwatch/internal/exchange"
	"riskwatch/internal/monitor"
	"riskwatch/internal/repository"
	"riskwatch/internal/service"
	"riskwatch/pkg/utils"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize - ограничение тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// Лимиты списков
const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Коды ошибок в ErrorResponse.Code
const (
	CodeValidation             = "validation_error"
	CodeNotFound               = "not_found"
	CodeReconfigureCredentials = "reconfigure_credentials"
	CodeRateLimited            = "rate_limited"
	CodeExchangeUnavailable    = "exchange_unavailable"
	CodeConflict               = "conflict"
	CodeInternal               = "internal_error"
)

// respondJSON пишет ответ в JSON
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.L().Debug("response encode failed", utils.Err(err))
	}
}

// respondError пишет ErrorResponse
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// decodeJSON читает тело запроса с ограничением размера.
// Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// respondBadBody отвечает 400 на нечитаемое тело
func respondBadBody(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request body",
		Code:    CodeValidation,
		Details: err.Error(),
	})
}

// writeServiceError отображает ошибку сервисного слоя в HTTP ответ.
//
// ValidationError → 400, не найдено → 404, ключи недействительны или не
// расшифровываются → 409 reconfigure_credentials, лимит биржи → 429 с
// Retry-After, недоступность биржи → 502, остальное → 500 без деталей.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   verr.Error(),
			Code:    CodeValidation,
			Details: verr.Field,
		})
		return
	}

	switch {
	case errors.Is(err, repository.ErrProfileNotFound),
		errors.Is(err, repository.ErrAlertNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return

	case errors.Is(err, service.ErrCredentialsUnreadable),
		errors.Is(err, service.ErrInvalidCredentials),
		exchange.IsAuthError(err):
		respondError(w, http.StatusConflict, CodeReconfigureCredentials,
			"exchange credentials must be re-entered")
		return

	case errors.Is(err, monitor.ErrReconcileRunning):
		respondError(w, http.StatusConflict, CodeConflict, err.Error())
		return
	}

	if rl, ok := exchange.AsRateLimit(err); ok {
		if secs := int((rl.RetryAfter + time.Second - 1) / time.Second); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		respondError(w, http.StatusTooManyRequests, CodeRateLimited, "exchange rate limit reached")
		return
	}

	if errors.Is(err, service.ErrVerificationFailed) || exchange.IsTransient(err) {
		respondError(w, http.StatusBadGateway, CodeExchangeUnavailable, "exchange is unavailable")
		return
	}

	utils.L().WithComponent("api").Error("request failed",
		utils.RequestID(middleware.RequestID(r.Context())),
		utils.String("path", r.URL.Path),
		utils.Err(err),
	)
	respondError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// userIDVar возвращает {userId} из пути
func userIDVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])
	if userID == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "user id is required")
		return "", false
	}
	return userID, true
}

// parseLimit читает ?limit= с умолчанием и верхней границей
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

// parseBool читает булев query-параметр, пустое значение - false
func parseBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
