package handlers

import (
	"context"
	"net/http"

	"riskwatch/internal/monitor"
)

// MonitorControl - опрос и kill-switch (monitor.Scheduler)
type MonitorControl interface {
	Status(userID string) (monitor.PollerStatus, bool)
	Flatten(ctx context.Context, userID string) (*monitor.FlattenResult, error)
}

// ReconcileControl - сверка дневного PnL (monitor.Reconciler)
type ReconcileControl interface {
	Run(ctx context.Context) (monitor.Progress, error)
	Last() monitor.Progress
}

var (
	_ MonitorControl   = (*monitor.Scheduler)(nil)
	_ ReconcileControl = (*monitor.Reconciler)(nil)
)

// MonitorHandler - состояние мониторинга, kill-switch и сверка
type MonitorHandler struct {
	monitor    MonitorControl
	reconciler ReconcileControl
}

// NewMonitorHandler создает новый MonitorHandler
func NewMonitorHandler(m MonitorControl, r ReconcileControl) *MonitorHandler {
	return &MonitorHandler{monitor: m, reconciler: r}
}

// Status возвращает состояние опроса пользователя
// GET /api/v1/monitor/{userId}
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	status, found := h.monitor.Status(userID)
	if !found {
		respondError(w, http.StatusNotFound, CodeNotFound, "user is not monitored")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// KillSwitch закрывает все позиции пользователя рыночными reduce-only ордерами.
// Ошибки по отдельным символам возвращаются в результате со статусом 200,
// ордера не повторяются.
// POST /api/v1/killswitch/{userId}
func (h *MonitorHandler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDVar(w, r)
	if !ok {
		return
	}

	res, err := h.monitor.Flatten(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// LastReconcile возвращает прогресс последней сверки
// GET /api/v1/monitor/reconcile
func (h *MonitorHandler) LastReconcile(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.reconciler.Last())
}

// RunReconcile запускает сверку в фоне и сразу отвечает 202.
// Идущая сверка - 409.
// POST /api/v1/admin/reconcile
func (h *MonitorHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler.Last().Running {
		writeServiceError(w, r, monitor.ErrReconcileRunning)
		return
	}

	// Сверка переживает запрос; прогресс доступен через Last и OnProgress
	ctx := context.WithoutCancel(r.Context())
	go h.reconciler.Run(ctx)

	respondJSON(w, http.StatusAccepted, SuccessResponse{Message: "reconciliation started"})
}
