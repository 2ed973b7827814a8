package middleware

import (
	"net/http"
	"strconv"

	"riskwatch/pkg/crypto"
	"riskwatch/pkg/ratelimit"
	"riskwatch/pkg/utils"
)

// AdminTokenHeader - заголовок с админским токеном
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth защищает админские маршруты bcrypt-токеном.
//
// Пустой tokenHash выключает админский API (403). Неверный токен
// регистрируется в gate как попытка входа по IP клиента: после
// исчерпания лимита ответ 429 с Retry-After, до этого 401.
// Верный токен лимит не расходует.
func AdminAuth(tokenHash string, gate *ratelimit.Gate) func(http.Handler) http.Handler {
	log := utils.L().WithComponent("admin_auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				writeError(w, http.StatusForbidden, "admin_disabled", "admin API is disabled")
				return
			}

			err := crypto.VerifyToken(r.Header.Get(AdminTokenHeader), tokenHash)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if gate != nil {
				d := gate.Check(r.Context(), ip, ratelimit.AttemptLogin)
				if !d.Allowed {
					log.Warn("admin auth locked out", utils.String("client_ip", ip), utils.RetryAfter(d.RetryAfter))
					w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
					writeError(w, http.StatusTooManyRequests, "rate_limited", "too many failed attempts")
					return
				}
			}

			log.Info("admin auth rejected", utils.String("client_ip", ip), utils.Err(err))
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
		})
	}
}

// writeError пишет ошибку в формате handlers.ErrorResponse
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":` + strconv.Quote(message) + `,"code":"` + code + `"}`))
}
