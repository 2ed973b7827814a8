package api

import (
	"net/http"

	"riskwatch/internal/api/handlers"
	"riskwatch/internal/api/middleware"
	"riskwatch/internal/service"
	"riskwatch/internal/websocket"
	"riskwatch/pkg/ratelimit"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	ProfileService      service.ProfileServiceInterface
	AccountService      service.AccountServiceInterface
	AlertService        service.AlertServiceInterface
	NotificationService service.NotificationServiceInterface
	Monitor             handlers.MonitorControl
	Reconciler          handlers.ReconcileControl

	Hub           *websocket.Hub
	OriginChecker *websocket.OriginChecker

	// AdminTokenHash - bcrypt хеш X-Admin-Token; пустой - админский API выключен
	AdminTokenHash string
	AdminGate      *ratelimit.Gate
	CORSOrigins    []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /profile/{userId}                 GET, PUT - риск-профиль
//	├── /accounts/{userId}                GET, DELETE - подключение биржи
//	├── /accounts/{userId}/credentials    PUT - ключи API
//	├── /alerts/{userId}                  GET - алерты
//	├── /alerts/{id}/ack                  POST - подтвердить алерт
//	├── /alarm/{userId}                   GET - состояние сирены
//	├── /alarm/{userId}/stop              POST - заглушить сирену
//	├── /notifications/{userId}           GET - история уведомлений
//	├── /notifications/{userId}/read      POST - отметить прочитанными
//	├── /killswitch/{userId}              POST - закрыть все позиции
//	├── /monitor/reconcile                GET - прогресс последней сверки
//	├── /monitor/{userId}                 GET - состояние опроса
//	└── /admin/ (X-Admin-Token)
//	    ├── /alerts/test                  POST, DELETE - тестовые алерты
//	    └── /reconcile                    POST - запустить сверку
//
// /ws?user=<id> - события в реальном времени
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. Logging
// 3. CORS
// 4. AdminAuth (только /api/v1/admin)
//
// Первые три оборачивают весь router: mux.Use срабатывает только на
// совпавших маршрутах, а preflight OPTIONS и 404 тоже должны их пройти.
func SetupRoutes(deps *Dependencies) http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.ProfileService != nil {
		h := handlers.NewProfileHandler(deps.ProfileService)
		api.HandleFunc("/profile/{userId}", h.GetProfile).Methods("GET")
		api.HandleFunc("/profile/{userId}", h.UpdateProfile).Methods("PUT")
	}

	if deps.AccountService != nil {
		h := handlers.NewAccountHandler(deps.AccountService)
		api.HandleFunc("/accounts/{userId}", h.GetAccount).Methods("GET")
		api.HandleFunc("/accounts/{userId}", h.DeleteAccount).Methods("DELETE")
		api.HandleFunc("/accounts/{userId}/credentials", h.SetCredentials).Methods("PUT")
	}

	if deps.AlertService != nil {
		h := handlers.NewAlertHandler(deps.AlertService)
		api.HandleFunc("/alerts/{userId}", h.ListAlerts).Methods("GET")
		api.HandleFunc("/alerts/{id:[0-9]+}/ack", h.Acknowledge).Methods("POST")
		api.HandleFunc("/alarm/{userId}", h.AlarmStatus).Methods("GET")
		api.HandleFunc("/alarm/{userId}/stop", h.StopAlarm).Methods("POST")
	}

	if deps.NotificationService != nil {
		h := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications/{userId}", h.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications/{userId}/read", h.MarkRead).Methods("POST")
	}

	var monitorHandler *handlers.MonitorHandler
	if deps.Monitor != nil && deps.Reconciler != nil {
		monitorHandler = handlers.NewMonitorHandler(deps.Monitor, deps.Reconciler)
		api.HandleFunc("/killswitch/{userId}", monitorHandler.KillSwitch).Methods("POST")
		// reconcile раньше {userId}: mux выбирает первый совпавший маршрут
		api.HandleFunc("/monitor/reconcile", monitorHandler.LastReconcile).Methods("GET")
		api.HandleFunc("/monitor/{userId}", monitorHandler.Status).Methods("GET")
	}

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminAuth(deps.AdminTokenHash, deps.AdminGate))
	if deps.AlertService != nil {
		h := handlers.NewAdminHandler(deps.AlertService)
		admin.HandleFunc("/alerts/test", h.SendTestAlert).Methods("POST")
		admin.HandleFunc("/alerts/test", h.ClearTestAlerts).Methods("DELETE")
	}
	if monitorHandler != nil {
		admin.HandleFunc("/reconcile", monitorHandler.RunReconcile).Methods("POST")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws", deps.Hub.Handler(deps.OriginChecker)).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return middleware.Recovery(middleware.Logging(middleware.CORS(deps.CORSOrigins)(router)))
}
