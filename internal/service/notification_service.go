package service

import (
	"context"
	"time"

	"riskwatch/internal/models"
	"riskwatch/internal/pubsub"
	"riskwatch/pkg/utils"
)

// Лимиты выдачи истории
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationService - приёмник уведомлений.
//
// Отвечает за:
// - Запись уведомления в историю (источник истины)
// - Публикацию события в топик пользователя для realtime UI
// - Дедупликацию по заголовку в окне (напоминания о подписке, "переподключите ключи")
//
// Ошибка публикации не отменяет запись: дашборд догрузит историю при переподключении.
type NotificationService struct {
	repo   NotificationRepositoryInterface
	broker pubsub.Broker
	log    *utils.Logger
}

// NewNotificationService создает новый экземпляр NotificationService.
// broker может быть nil (только история).
func NewNotificationService(repo NotificationRepositoryInterface, broker pubsub.Broker) *NotificationService {
	return &NotificationService{
		repo:   repo,
		broker: broker,
		log:    utils.L().WithComponent("notifications"),
	}
}

// Publish записывает уведомление и рассылает его подписчикам
func (s *NotificationService) Publish(ctx context.Context, n *models.Notification) error {
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.broadcast(ctx, n)
	return nil
}

// PublishOnce публикует уведомление, только если у пользователя не было
// уведомления с тем же заголовком за window. Возвращает false для дубля.
func (s *NotificationService) PublishOnce(ctx context.Context, n *models.Notification, window time.Duration) (bool, error) {
	created, err := s.repo.CreateIfNoRecentTitle(ctx, n, window)
	if err != nil {
		return false, err
	}
	if created {
		s.broadcast(ctx, n)
	}
	return created, nil
}

func (s *NotificationService) broadcast(ctx context.Context, n *models.Notification) {
	if s.broker == nil {
		return
	}
	if err := pubsub.PublishEvent(ctx, s.broker, n.UserID, pubsub.EventNotification, n); err != nil {
		s.log.Warn("notification publish failed",
			utils.UserID(n.UserID),
			utils.String("title", n.Title),
			utils.Err(err),
		)
	}
}

// List возвращает историю уведомлений пользователя (новые сверху)
func (s *NotificationService) List(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	return s.repo.ListByUser(ctx, userID, limit, unreadOnly)
}

// MarkRead отмечает уведомления прочитанными; пустой ids - все
func (s *NotificationService) MarkRead(ctx context.Context, userID string, ids []int64) (int64, error) {
	return s.repo.MarkRead(ctx, userID, ids)
}

// Cleanup удаляет уведомления старше retention
func (s *NotificationService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("old notifications removed", utils.Int64("deleted", deleted))
	}
	return deleted, nil
}
