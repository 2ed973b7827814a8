package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// RenewalSweeper напоминает об истекающих и истёкших подписках.
// Дубли отсекаются тем же примитивом, что и у алертов: вставка, только если
// за окно нет уведомления с тем же заголовком.
type RenewalSweeper struct {
	subs        SubscriptionStore
	notifier    Notifier
	leadTime    time.Duration
	expiredFor  time.Duration
	dedupWindow time.Duration
	log         *utils.Logger
	now         func() time.Time
}

// NewRenewalSweeper создаёт сборщик напоминаний
func NewRenewalSweeper(cfg Config, subs SubscriptionStore, notifier Notifier) *RenewalSweeper {
	lead := cfg.RenewalLeadTime
	if lead <= 0 {
		lead = 72 * time.Hour
	}
	window := cfg.RenewalDedupWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RenewalSweeper{
		subs:        subs,
		notifier:    notifier,
		leadTime:    lead,
		expiredFor:  24 * time.Hour,
		dedupWindow: window,
		log:         utils.L().WithComponent("renewal"),
		now:         time.Now,
	}
}

// SweepResult - итог одного прохода
type SweepResult struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Deduped int `json:"deduped"`
	Failed  int `json:"failed"`
}

// Sweep публикует напоминания по подпискам, истекающим в пределах leadTime
// или истёкшим не более суток назад. Ошибка отдельной подписки не прерывает проход.
func (r *RenewalSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := r.now()

	subs, err := r.subs.ListExpiringBefore(ctx, now.Add(r.leadTime))
	if err != nil {
		return res, fmt.Errorf("list expiring subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.ExpiresAt.Before(now.Add(-r.expiredFor)) {
			continue
		}
		res.Scanned++

		n := renewalNotice(sub, now)
		sent, err := r.notifier.PublishOnce(ctx, n, r.dedupWindow)
		switch {
		case err != nil:
			res.Failed++
			RenewalNotices.WithLabelValues("failed").Inc()
			r.log.Warn("renewal notice failed", utils.UserID(sub.UserID), utils.Err(err))
		case sent:
			res.Sent++
			RenewalNotices.WithLabelValues("sent").Inc()
		default:
			res.Deduped++
			RenewalNotices.WithLabelValues("deduped").Inc()
		}
	}

	if res.Scanned > 0 {
		r.log.Info("renewal sweep finished",
			utils.Int("scanned", res.Scanned),
			utils.Int("sent", res.Sent),
			utils.Int("deduped", res.Deduped),
			utils.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// renewalNotice - уведомление с заголовком, стабильным в пределах окна дедупликации
func renewalNotice(sub *models.Subscription, now time.Time) *models.Notification {
	n := &models.Notification{
		UserID: sub.UserID,
		Type:   models.NotificationTypeSubscription,
		Meta: map[string]interface{}{
			"plan":       sub.Plan,
			"expires_at": sub.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}

	if !sub.ExpiresAt.After(now) {
		n.Severity = models.SeverityError
		n.Title = "Subscription expired"
		n.Message = fmt.Sprintf("Your %s plan expired on %s. Renew to keep monitoring active.",
			sub.Plan, sub.ExpiresAt.UTC().Format("2006-01-02"))
		return n
	}

	days := int(math.Ceil(sub.ExpiresAt.Sub(now).Hours() / 24))
	n.Severity = models.SeverityWarn
	n.Title = "Subscription expiring soon"
	n.Message = fmt.Sprintf("Your %s plan expires in %d day(s), on %s.",
		sub.Plan, days, sub.ExpiresAt.UTC().Format("2006-01-02"))
	return n
}
