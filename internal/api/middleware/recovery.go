package middleware

import (
	"net/http"
	"runtime/debug"

	"riskwatch/pkg/utils"

	"go.uber.org/zap"
)

// Recovery - middleware для восстановления после паники в handlers.
//
// Паника логируется со stack trace и ID запроса, клиент получает
// 500 без текста паники.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("handler panic",
					utils.RequestID(RequestID(r.Context())),
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)

				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
