package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// ErrReconcileRunning - сверка уже выполняется
var ErrReconcileRunning = errors.New("reconciliation already running")

// Границы окна сверки в днях
const (
	MinReconcileWindowDays = 1
	MaxReconcileWindowDays = 365
	maxProgressErrors      = 50
)

// Progress - прогресс сверки {completed, total}. Failed входит в Completed:
// это число завершённых заданий, из них неудачных Failed.
type Progress struct {
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	Total      int        `json:"total"`
	Running    bool       `json:"running"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
}

// Succeeded - число успешно сверенных дней
func (p Progress) Succeeded() int {
	return p.Completed - p.Failed
}

// Partial - часть дней сверена, часть нет
func (p Progress) Partial() bool {
	return p.Failed > 0 && p.Failed < p.Completed
}

type reconcileJob struct {
	userID string
	market string
	day    time.Time
}

// Reconciler заполняет daily_pnl за недостающие дни окна по всем активным аккаунтам
type Reconciler struct {
	client      exchange.Client
	accounts    AccountStore
	credentials CredentialSource
	dailyPnL    DailyPnLStore
	windowDays  int
	parallelism int
	log         *utils.Logger
	now         func() time.Time

	running atomic.Bool

	mu         sync.Mutex
	last       Progress
	onProgress func(Progress)
}

// NewReconciler создаёт сверку; окно ограничивается [1, 365] днями
func NewReconciler(cfg Config, deps Deps) *Reconciler {
	window := cfg.ReconcileWindowDays
	if window < MinReconcileWindowDays {
		window = MinReconcileWindowDays
	}
	if window > MaxReconcileWindowDays {
		window = MaxReconcileWindowDays
	}
	parallelism := cfg.ReconcileParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Reconciler{
		client:      deps.Client,
		accounts:    deps.Accounts,
		credentials: deps.Credentials,
		dailyPnL:    deps.DailyPnL,
		windowDays:  window,
		parallelism: parallelism,
		log:         utils.L().WithComponent("reconcile"),
		now:         time.Now,
	}
}

// OnProgress подписывает на прогресс (вызывается после каждого задания)
func (r *Reconciler) OnProgress(fn func(Progress)) {
	r.mu.Lock()
	r.onProgress = fn
	r.mu.Unlock()
}

// Last возвращает прогресс текущей или последней сверки
func (r *Reconciler) Last() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.last
	p.Errors = append([]string(nil), r.last.Errors...)
	return p
}

// Run выполняет сверку. Ошибки отдельных дней не прерывают работу:
// они считаются в Failed, результат - частичный успех.
// Ошибка возвращается только если сверку не удалось начать или её отменили.
func (r *Reconciler) Run(ctx context.Context) (Progress, error) {
	if !r.running.CompareAndSwap(false, true) {
		return r.Last(), ErrReconcileRunning
	}
	defer r.running.Store(false)

	start := r.now()
	r.reset(start)

	jobs, err := r.plan(ctx)
	if err != nil {
		r.finish()
		return r.Last(), fmt.Errorf("plan reconciliation: %w", err)
	}
	r.setTotal(len(jobs))
	r.log.Info("reconciliation started", utils.Int("jobs", len(jobs)), utils.Int("window_days", r.windowDays))

	// Ключи расшифровываются один раз на пользователя; неверные ключи
	// отменяют остальные дни этого пользователя без запросов к бирже
	var credsMu sync.Mutex
	credsCache := make(map[string]models.Credentials)
	badUsers := make(map[string]error)

	resolve := func(ctx context.Context, userID string) (models.Credentials, error) {
		credsMu.Lock()
		defer credsMu.Unlock()
		if err, bad := badUsers[userID]; bad {
			return models.Credentials{}, err
		}
		if c, ok := credsCache[userID]; ok {
			return c, nil
		}
		c, err := r.credentials.Credentials(ctx, userID)
		if err != nil {
			badUsers[userID] = err
			return models.Credentials{}, err
		}
		credsCache[userID] = c
		return c, nil
	}
	markBad := func(userID string, err error) {
		credsMu.Lock()
		badUsers[userID] = err
		credsMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, job := range jobs {
		job := job
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := r.runJob(gctx, job, resolve)
			if exchange.IsAuthError(err) {
				markBad(job.userID, err)
			}
			r.record(job, err)
			// Отмена контекста - единственная причина прервать всю сверку
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}

	waitErr := g.Wait()
	if waitErr == nil && ctx.Err() != nil {
		waitErr = ctx.Err()
	}
	r.finish()
	progress := r.Last()

	r.log.Info("reconciliation finished",
		utils.Progress(progress.Completed, progress.Total),
		utils.Int("failed", progress.Failed),
		utils.Elapsed(r.now().Sub(start)),
	)
	if waitErr != nil {
		return progress, waitErr
	}
	return progress, nil
}

// plan строит задания: активные аккаунты × рынки × недостающие дни
func (r *Reconciler) plan(ctx context.Context) ([]reconcileJob, error) {
	accounts, err := r.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	days := utils.TrailingDays(r.now(), r.windowDays)
	var jobs []reconcileJob
	for _, acc := range accounts {
		for _, market := range models.Markets {
			missing, err := r.dailyPnL.MissingDays(ctx, acc.UserID, market, days)
			if err != nil {
				return nil, fmt.Errorf("missing days for %s/%s: %w", acc.UserID, market, err)
			}
			for _, day := range missing {
				jobs = append(jobs, reconcileJob{userID: acc.UserID, market: market, day: day})
			}
		}
	}
	return jobs, nil
}

func (r *Reconciler) runJob(ctx context.Context, job reconcileJob, resolve func(context.Context, string) (models.Credentials, error)) error {
	creds, err := resolve(ctx, job.userID)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	pnl, err := r.client.FetchDailyPnL(ctx, creds, job.market, job.day)
	if err != nil {
		return err
	}
	pnl.UserID = job.userID
	pnl.Market = job.market
	pnl.Day = job.day
	pnl.SyncedAt = r.now()

	if err := r.dailyPnL.Upsert(ctx, pnl); err != nil {
		return fmt.Errorf("upsert daily pnl: %w", err)
	}
	return nil
}

// ============ Прогресс ============

func (r *Reconciler) reset(start time.Time) {
	r.mu.Lock()
	r.last = Progress{Running: true, StartedAt: start}
	r.mu.Unlock()
	UpdateReconcileProgress(Progress{})
}

func (r *Reconciler) setTotal(total int) {
	r.mu.Lock()
	r.last.Total = total
	p := r.last
	r.mu.Unlock()
	UpdateReconcileProgress(p)
}

func (r *Reconciler) record(job reconcileJob, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	ReconcileDays.WithLabelValues(job.market, result).Inc()

	r.mu.Lock()
	r.last.Completed++
	if err != nil {
		r.last.Failed++
		if len(r.last.Errors) < maxProgressErrors {
			r.last.Errors = append(r.last.Errors,
				fmt.Sprintf("%s %s %s: %v", job.userID, job.market, job.day.Format("2006-01-02"), err))
		}
	}
	p := r.last
	fn := r.onProgress
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("reconcile day failed",
			utils.UserID(job.userID),
			utils.Market(job.market),
			utils.Day(job.day),
			utils.Err(err),
		)
	}
	UpdateReconcileProgress(p)
	if fn != nil {
		fn(p)
	}
}

func (r *Reconciler) finish() {
	r.mu.Lock()
	now := r.now()
	r.last.Running = false
	r.last.FinishedAt = &now
	r.mu.Unlock()
}
