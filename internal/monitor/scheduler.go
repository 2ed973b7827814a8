// Package monitor - фоновые задачи мониторинга риска: живой опрос аккаунтов,
// сверка дневного PnL, напоминания о подписке и kill-switch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/internal/risk"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/routine"
	"riskwatch/pkg/utils"
)

// Config - параметры планировщика
type Config struct {
	PollInterval      time.Duration // живой опрос
	PollTimeout       time.Duration // таймаут одного опроса
	MaxInFlight       int           // одновременных опросов одного пользователя
	RefreshInterval   time.Duration // синхронизация списка активных аккаунтов
	KillSwitchTimeout time.Duration // на каждый ордер закрытия

	ReconcileInterval    time.Duration
	ReconcileWindowDays  int
	ReconcileParallelism int

	RenewalInterval    time.Duration
	RenewalLeadTime    time.Duration // за сколько до истечения напоминать
	RenewalDedupWindow time.Duration
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		PollTimeout:       10 * time.Second,
		MaxInFlight:       2,
		RefreshInterval:   time.Minute,
		KillSwitchTimeout: 10 * time.Second,

		ReconcileInterval:    24 * time.Hour,
		ReconcileWindowDays:  30,
		ReconcileParallelism: 4,

		RenewalInterval:    time.Hour,
		RenewalLeadTime:    72 * time.Hour,
		RenewalDedupWindow: 24 * time.Hour,
	}
}

// Deps - зависимости планировщика
type Deps struct {
	Client        exchange.Client
	Profiles      ProfileStore
	Alerts        AlertStore
	Accounts      AccountStore
	Credentials   CredentialSource
	DailyPnL      DailyPnLStore
	Subscriptions SubscriptionStore
	Notifier      Notifier
	Alarm         Alarm
}

// PollerStatus - состояние пуллера пользователя
type PollerStatus struct {
	UserID      string       `json:"user_id"`
	Running     bool         `json:"running"`
	Paused      bool         `json:"paused"`
	PauseReason string       `json:"pause_reason,omitempty"`
	SkipUntil   *time.Time   `json:"skip_until,omitempty"` // пауза после rate limit
	LastPollAt  *time.Time   `json:"last_poll_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Seq         uint64       `json:"seq"` // номер последнего применённого опроса
	State       risk.State   `json:"state"`
	Last        *risk.Result `json:"last,omitempty"`
}

// StatusListener получает статус после каждого применённого опроса
type StatusListener func(PollerStatus)

// poller - состояние живого опроса одного пользователя
type poller struct {
	userID   string
	inflight chan struct{}

	// effects упорядочивает побочные эффекты оценок (алерты, сирена, kill-switch)
	effects sync.Mutex

	mu          sync.Mutex
	issued      uint64 // выданные номера опросов
	applied     uint64 // последний применённый номер
	state       risk.State
	last        *risk.Result
	lastPollAt  time.Time
	lastErr     string
	paused      bool
	pauseReason string
	skipUntil   time.Time
}

func (p *poller) nextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++
	return p.issued
}

// overtaken - после seq уже применён более новый опрос
func (p *poller) overtaken(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return seq != p.applied
}

// Scheduler управляет пуллерами пользователей и фоновыми задачами
type Scheduler struct {
	cfg        Config
	deps       Deps
	killSwitch *KillSwitch
	reconciler *Reconciler
	renewal    *RenewalSweeper
	log        *utils.Logger
	now        func() time.Time

	routines *routine.Manager
	listener StatusListener

	mu      sync.Mutex
	pollers map[string]*poller
}

// NewScheduler создаёт планировщик; задачи не запускаются до Start
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}

	s := &Scheduler{
		cfg:        cfg,
		deps:       deps,
		killSwitch: NewKillSwitch(deps.Client, cfg.KillSwitchTimeout),
		log:        utils.L().WithComponent("scheduler"),
		now:        time.Now,
		pollers:    make(map[string]*poller),
	}
	s.reconciler = NewReconciler(cfg, deps)
	s.renewal = NewRenewalSweeper(cfg, deps.Subscriptions, deps.Notifier)
	return s
}

// SetStatusListener подключает realtime-рассылку статусов (websocket hub)
func (s *Scheduler) SetStatusListener(l StatusListener) {
	s.listener = l
}

// KillSwitch возвращает исполнитель kill-switch (ручной вызов из API)
func (s *Scheduler) KillSwitch() *KillSwitch { return s.killSwitch }

// Reconciler возвращает сверку дневного PnL (ручной запуск из админки)
func (s *Scheduler) Reconciler() *Reconciler { return s.reconciler }

// Renewal возвращает сборщик напоминаний о подписке
func (s *Scheduler) Renewal() *RenewalSweeper { return s.renewal }

// Start запускает пуллеры активных аккаунтов и фоновые задачи.
// Все задачи останавливаются при отмене ctx или по Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.routines = routine.NewManager(ctx)

	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("load active accounts: %w", err)
	}

	s.runPeriodic("refresh", s.cfg.RefreshInterval, func(ctx context.Context) {
		if err := s.refresh(ctx); err != nil {
			s.log.Warn("refresh active accounts failed", utils.Err(err))
		}
	})
	if s.cfg.ReconcileInterval > 0 {
		s.runPeriodic("reconcile", s.cfg.ReconcileInterval, func(ctx context.Context) {
			if _, err := s.reconciler.Run(ctx); err != nil && !errors.Is(err, ErrReconcileRunning) {
				s.log.Warn("reconciliation failed", utils.Err(err))
			}
		})
	}
	if s.cfg.RenewalInterval > 0 {
		s.runPeriodic("renewal", s.cfg.RenewalInterval, func(ctx context.Context) {
			if _, err := s.renewal.Sweep(ctx); err != nil {
				s.log.Warn("renewal sweep failed", utils.Err(err))
			}
		})
	}

	s.log.Info("scheduler started",
		utils.Int("pollers", len(s.Pollers())),
		utils.String("poll_interval", s.cfg.PollInterval.String()),
	)
	return nil
}

// Stop отменяет все задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	if s.routines == nil {
		return
	}
	s.routines.ShutdownAll()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runPeriodic(id string, interval time.Duration, fn func(ctx context.Context)) {
	err := s.routines.Run(id, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
	if err != nil {
		s.log.Warn("periodic task not started", utils.String("task", id), utils.Err(err))
	}
}

// ============ Пуллеры ============

func pollerID(userID string) string { return "poll:" + userID }

// refresh запускает пуллеры новых активных аккаунтов и останавливает
// пуллеры отвязанных. Приостановленные пуллеры не трогаются: их аккаунт
// помечен неактивным до Resume.
func (s *Scheduler) refresh(ctx context.Context) error {
	accounts, err := s.deps.Accounts.ListActive(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		active[acc.UserID] = true
		s.startPoller(acc.UserID)
	}

	for _, id := range s.Pollers() {
		p := s.getPoller(id)
		if p == nil || active[id] {
			continue
		}
		p.mu.Lock()
		paused := p.paused
		p.mu.Unlock()
		if !paused {
			s.stopPoller(id)
		}
	}
	return nil
}

// startPoller запускает живой опрос пользователя (повторный вызов ничего не делает)
func (s *Scheduler) startPoller(userID string) {
	s.mu.Lock()
	p, ok := s.pollers[userID]
	if !ok {
		p = &poller{userID: userID, inflight: make(chan struct{}, s.cfg.MaxInFlight)}
		s.pollers[userID] = p
	}
	s.mu.Unlock()

	if s.routines == nil || s.routines.Running(pollerID(userID)) {
		return
	}

	err := s.routines.RunTask(&routine.Task{
		ID:      pollerID(userID),
		Handler: func(ctx context.Context) error { return s.pollLoop(ctx, p) },
		OnStart: func(string) { ActivePollers.Inc() },
		OnDone:  func(string) { ActivePollers.Dec() },
	})
	if err != nil && !errors.Is(err, routine.ErrRoutineExists) {
		s.log.Warn("poller not started", utils.UserID(userID), utils.Err(err))
	}
}

func (s *Scheduler) stopPoller(userID string) {
	if s.routines != nil {
		_ = s.routines.Shutdown(pollerID(userID))
	}
	s.mu.Lock()
	delete(s.pollers, userID)
	s.mu.Unlock()
}

func (s *Scheduler) getPoller(userID string) *poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollers[userID]
}

// Pollers возвращает отсортированный список пользователей с пуллером
func (s *Scheduler) Pollers() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Status возвращает состояние пуллера пользователя
func (s *Scheduler) Status(userID string) (PollerStatus, bool) {
	p := s.getPoller(userID)
	if p == nil {
		return PollerStatus{UserID: userID}, false
	}
	st := s.statusOf(p)
	return st, true
}

func (s *Scheduler) statusOf(p *poller) PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PollerStatus{
		UserID:      p.userID,
		Paused:      p.paused,
		PauseReason: p.pauseReason,
		LastError:   p.lastErr,
		Seq:         p.applied,
		State:       p.state,
		Last:        p.last,
	}
	if s.routines != nil {
		st.Running = s.routines.Running(pollerID(p.userID))
	}
	if !p.lastPollAt.IsZero() {
		t := p.lastPollAt
		st.LastPollAt = &t
	}
	if !p.skipUntil.IsZero() && p.skipUntil.After(s.now()) {
		t := p.skipUntil
		st.SkipUntil = &t
	}
	return st
}

// Resume снимает паузу после обновления ключей и запускает опрос
func (s *Scheduler) Resume(userID string) {
	s.mu.Lock()
	p, ok := s.pollers[userID]
	s.mu.Unlock()

	if ok {
		p.mu.Lock()
		wasPaused := p.paused
		p.paused = false
		p.pauseReason = ""
		p.lastErr = ""
		p.skipUntil = time.Time{}
		p.mu.Unlock()
		if wasPaused {
			PausedPollers.Dec()
		}
	}

	s.startPoller(userID)
	s.log.Info("poller resumed", utils.UserID(userID))
}

// pollLoop - тело задачи пуллера. Каждый тик запускает опрос в отдельной
// горутине, чтобы медленный ответ не сдвигал расписание; результаты
// применяются только в порядке выдачи номеров.
func (s *Scheduler) pollLoop(ctx context.Context, p *poller) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	launch := func() {
		select {
		case p.inflight <- struct{}{}:
		default:
			RecordPoll("skipped", 0)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.inflight }()
			s.PollOnce(ctx, p.userID)
		}()
	}

	launch()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			launch()
		}
	}
}

// PollOnce выполняет один цикл опроса пользователя: снимок, оценка, алерты.
// Ошибки логируются и не прерывают цикл.
func (s *Scheduler) PollOnce(ctx context.Context, userID string) {
	p := s.getPoller(userID)
	if p == nil {
		return
	}
	log := s.log.WithUser(userID)

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		RecordPoll("skipped", 0)
		return
	}
	if s.now().Before(p.skipUntil) {
		p.mu.Unlock()
		RecordPoll("rate_limited", 0)
		return
	}
	p.mu.Unlock()

	seq := p.nextSeq()

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	profile, err := s.deps.Profiles.Get(pollCtx, userID)
	if err != nil {
		s.pollFailed(p, "error", err, 0)
		log.Warn("load risk profile failed", utils.Err(err))
		return
	}

	creds, err := s.deps.Credentials.Credentials(pollCtx, userID)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			s.pause(ctx, p, "credentials unreadable, please re-enter API keys", err)
			return
		}
		s.pollFailed(p, "error", err, 0)
		log.Warn("load credentials failed", utils.Err(err))
		return
	}

	start := time.Now()
	snap, err := s.deps.Client.FetchAccountSnapshot(pollCtx, creds)
	latency := float64(time.Since(start).Microseconds()) / 1000

	rl, rateLimited := exchange.AsRateLimit(err)
	switch {
	case err == nil:
	case exchange.IsAuthError(err):
		RecordPoll("auth", latency)
		s.pause(ctx, p, "exchange rejected API keys, please reconfigure credentials", err)
		return
	case rateLimited:
		p.mu.Lock()
		p.skipUntil = s.now().Add(rl.RetryAfter)
		p.lastErr = err.Error()
		p.mu.Unlock()
		RecordPoll("rate_limited", latency)
		log.Warn("exchange rate limit, polls suspended", utils.RetryAfter(rl.RetryAfter))
		return
	default:
		if ctx.Err() != nil {
			return
		}
		s.pollFailed(p, "error", err, latency)
		log.Warn("fetch account snapshot failed", utils.Err(err), utils.Seq(seq))
		return
	}

	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.now()
	}

	res, ok := s.apply(p, seq, *profile, *snap)
	if !ok {
		RecordPoll("stale", latency)
		log.Debug("stale poll result dropped", utils.Seq(seq))
		return
	}
	RecordPoll("ok", latency)

	s.handleResult(ctx, p, seq, *profile, res)

	if s.listener != nil {
		s.listener(s.statusOf(p))
	}
}

// apply применяет оценку, только если seq новее последнего применённого.
// Возвращает false для устаревшего ответа.
func (s *Scheduler) apply(p *poller, seq uint64, profile models.RiskProfile, snap models.AccountSnapshot) (risk.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq <= p.applied {
		return risk.Result{}, false
	}

	res := risk.Evaluate(profile, snap, p.state)
	p.applied = seq
	p.state = res.Next
	p.last = &res
	p.lastPollAt = s.now()
	p.lastErr = ""
	return res, true
}

// handleResult выполняет побочные эффекты оценки: сброс сирен, запись
// алертов, уведомления, сирены и kill-switch.
//
// Эффекты одного пользователя выполняются по очереди. Если за время ожидания
// применён более новый опрос, эффекты результата seq отбрасываются: сирену
// и kill-switch определяет только последнее состояние.
func (s *Scheduler) handleResult(ctx context.Context, p *poller, seq uint64, profile models.RiskProfile, res risk.Result) {
	userID := p.userID
	log := s.log.WithUser(userID)

	p.effects.Lock()
	defer p.effects.Unlock()

	if p.overtaken(seq) {
		log.Debug("poll result overtaken, effects dropped", utils.Seq(seq))
		return
	}

	if len(res.Cleared) > 0 && s.deps.Alarm != nil {
		if s.deps.Alarm.Clear(userID, res.Cleared...) {
			log.Info("alarm cleared, condition recovered")
		}
	}

	for _, a := range res.Alerts {
		created, rec, err := s.deps.Alerts.RecordIfAbsent(ctx, userID, a.Type, res.EvaluatedAt, a.PercentAtTrigger)
		switch {
		case err != nil:
			RecordAlert(string(a.Type), "failed")
			log.Error("record alert failed", utils.AlertType(string(a.Type)), utils.Err(err))
		case created:
			RecordAlert(string(a.Type), "created")
			log.Info("alert recorded",
				utils.AlertType(string(a.Type)),
				utils.RiskLevel(a.Level.String()),
				utils.Percent(a.PercentAtTrigger.InexactFloat64()),
			)
			s.notifyAlert(ctx, userID, a, rec)
		default:
			RecordAlert(string(a.Type), "deduped")
			log.Debug("alert already recorded today", utils.AlertType(string(a.Type)))
		}

		// Запись алерта могла ждать долго: пока шла запись, сирену мог сбросить новый опрос
		if p.overtaken(seq) {
			log.Debug("poll result overtaken, alarm not triggered", utils.Seq(seq))
			return
		}

		// Сирена звучит на каждом переднем фронте, даже если запись дня уже есть
		if s.deps.Alarm != nil {
			s.deps.Alarm.Trigger(userID, a.Type, profile.SirenType)
		}

		if a.Type == models.AlertEmergency && profile.AutoFlatten {
			s.autoFlatten(ctx, userID)
		}
	}
}

func (s *Scheduler) notifyAlert(ctx context.Context, userID string, a risk.Alert, rec *models.AlertRecord) {
	if s.deps.Notifier == nil {
		return
	}

	title := fmt.Sprintf("Loss threshold reached: %s", a.Level)
	if a.Type == models.AlertGain {
		title = "Gain threshold reached"
	}
	n := &models.Notification{
		UserID:   userID,
		Type:     models.NotificationTypeAlert,
		Severity: models.SeverityForAlert(a.Type),
		Title:    title,
		Message:  fmt.Sprintf("%s alert at %s%% of initial balance", a.Type, a.PercentAtTrigger.StringFixed(2)),
		Meta: map[string]interface{}{
			"alert_id":   rec.ID,
			"alert_type": string(a.Type),
			"level":      a.Level.String(),
			"percent":    a.PercentAtTrigger.String(),
		},
	}
	if err := s.deps.Notifier.Publish(ctx, n); err != nil {
		s.log.Warn("publish alert notification failed", utils.UserID(userID), utils.Err(err))
	}
}

func (s *Scheduler) autoFlatten(ctx context.Context, userID string) {
	log := s.log.WithUser(userID)

	result, err := s.Flatten(ctx, userID)
	if err != nil {
		log.Error("auto-flatten failed", utils.Err(err))
		return
	}
	log.Warn("auto-flatten executed",
		utils.Int("closed", len(result.Closed)),
		utils.Int("failed", len(result.Errors)),
	)
}

// Flatten закрывает все позиции пользователя и публикует итог.
// Ошибка - только если ключи недоступны или список позиций не получен.
func (s *Scheduler) Flatten(ctx context.Context, userID string) (*FlattenResult, error) {
	creds, err := s.deps.Credentials.Credentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	result, err := s.killSwitch.FlattenAllPositions(ctx, creds)
	if err != nil {
		return nil, err
	}
	s.NotifyFlatten(ctx, userID, result)
	return result, nil
}

// NotifyFlatten публикует итог kill-switch пользователю
func (s *Scheduler) NotifyFlatten(ctx context.Context, userID string, result *FlattenResult) {
	if s.deps.Notifier == nil {
		return
	}
	severity := models.SeverityWarn
	if !result.OK() {
		severity = models.SeverityCritical
	}
	n := &models.Notification{
		UserID:   userID,
		Type:     models.NotificationTypeKillSwitch,
		Severity: severity,
		Title:    "Kill-switch executed",
		Message:  fmt.Sprintf("closed %d positions, %d failed", len(result.Closed), len(result.Errors)),
		Meta:     map[string]interface{}{"closed": result.Closed, "errors": result.Errors},
	}
	if err := s.deps.Notifier.Publish(ctx, n); err != nil {
		s.log.Warn("publish kill-switch notification failed", utils.UserID(userID), utils.Err(err))
	}
}

// pause останавливает опрос до Resume: ключи неверны, повторять бессмысленно
func (s *Scheduler) pause(ctx context.Context, p *poller, reason string, cause error) {
	p.mu.Lock()
	already := p.paused
	p.paused = true
	p.pauseReason = reason
	p.lastErr = cause.Error()
	p.mu.Unlock()

	if already {
		return
	}
	PausedPollers.Inc()

	log := s.log.WithUser(p.userID)
	log.Warn("poller paused", utils.String("reason", reason), utils.Err(cause))

	if err := s.deps.Accounts.SetStatus(ctx, p.userID, false, cause.Error()); err != nil {
		log.Warn("mark account inactive failed", utils.Err(err))
	}

	if s.deps.Notifier != nil {
		n := &models.Notification{
			UserID:   p.userID,
			Type:     models.NotificationTypeCredentials,
			Severity: models.SeverityError,
			Title:    "Reconfigure exchange credentials",
			Message:  reason,
			Meta:     map[string]interface{}{"action": "reconfigure_credentials"},
		}
		if err := s.deps.Notifier.Publish(ctx, n); err != nil {
			log.Warn("publish credentials notification failed", utils.Err(err))
		}
	}

	if s.listener != nil {
		s.listener(s.statusOf(p))
	}
}

func (s *Scheduler) pollFailed(p *poller, result string, err error, latency float64) {
	RecordPoll(result, latency)
	p.mu.Lock()
	p.lastErr = err.Error()
	p.mu.Unlock()
}
