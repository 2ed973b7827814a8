package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskwatch/internal/models"
	"riskwatch/internal/pubsub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, b pubsub.Broker) pubsub.Subscription {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), pubsub.AllUsers)
	require.NoError(t, err)
	return sub
}

func nextEvent(t *testing.T, sub pubsub.Subscription) *pubsub.Event {
	t.Helper()
	select {
	case msg := <-sub.C():
		ev, err := pubsub.DecodeEvent(msg.Payload)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func noEvent(t *testing.T, sub pubsub.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected event on %s", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_StoresAndBroadcasts(t *testing.T) {
	repo := &MockNotificationRepository{}
	broker := pubsub.NewMemoryBroker()
	defer broker.Close()
	sub := subscribe(t, broker)
	svc := NewNotificationService(repo, broker)

	n := &models.Notification{
		UserID:   "u1",
		Type:     models.NotificationTypeAlert,
		Severity: models.SeverityCritical,
		Title:    "Emergency loss",
		Message:  "Loss 6% of initial balance",
	}
	require.NoError(t, svc.Publish(context.Background(), n))
	assert.NotZero(t, n.ID)

	ev := nextEvent(t, sub)
	assert.Equal(t, pubsub.EventNotification, ev.Type)
	assert.Equal(t, "u1", ev.UserID)
	assert.Contains(t, string(ev.Data), "Emergency loss")
}

func TestPublish_StoreFailureNotBroadcast(t *testing.T) {
	repo := &MockNotificationRepository{createErr: errors.New("db down")}
	broker := pubsub.NewMemoryBroker()
	defer broker.Close()
	sub := subscribe(t, broker)
	svc := NewNotificationService(repo, broker)

	err := svc.Publish(context.Background(), &models.Notification{UserID: "u1", Title: "x"})
	assert.EqualError(t, err, "db down")
	noEvent(t, sub)
}

func TestPublish_BrokerClosedStillStored(t *testing.T) {
	repo := &MockNotificationRepository{}
	broker := pubsub.NewMemoryBroker()
	require.NoError(t, broker.Close())
	svc := NewNotificationService(repo, broker)

	require.NoError(t, svc.Publish(context.Background(), &models.Notification{UserID: "u1", Title: "x"}))
	assert.Len(t, repo.items, 1)
}

func TestPublishOnce_DedupByTitle(t *testing.T) {
	repo := &MockNotificationRepository{}
	broker := pubsub.NewMemoryBroker()
	defer broker.Close()
	sub := subscribe(t, broker)
	svc := NewNotificationService(repo, broker)
	ctx := context.Background()

	mk := func(user string) *models.Notification {
		return &models.Notification{UserID: user, Type: models.NotificationTypeSubscription, Title: "Subscription expiring soon"}
	}

	created, err := svc.PublishOnce(ctx, mk("u1"), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	nextEvent(t, sub)

	created, err = svc.PublishOnce(ctx, mk("u1"), 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	noEvent(t, sub)

	created, err = svc.PublishOnce(ctx, mk("u2"), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, created, "dedup is per user")
}

func TestList_LimitClamp(t *testing.T) {
	repo := &MockNotificationRepository{}
	svc := NewNotificationService(repo, nil)

	_, err := svc.List(context.Background(), "u1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, 100, repo.lastLimit)

	_, err = svc.List(context.Background(), "u1", 10000, false)
	require.NoError(t, err)
	assert.Equal(t, 500, repo.lastLimit)
}

func TestMarkRead(t *testing.T) {
	repo := &MockNotificationRepository{}
	svc := NewNotificationService(repo, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Publish(ctx, &models.Notification{UserID: "u1", Title: "n"}))
	}

	n, err := svc.MarkRead(ctx, "u1", []int64{1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = svc.MarkRead(ctx, "u1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	unread, err := svc.List(ctx, "u1", 0, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestCleanup(t *testing.T) {
	repo := &MockNotificationRepository{}
	svc := NewNotificationService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.Publish(ctx, &models.Notification{UserID: "u1", Title: "old", CreatedAt: time.Now().Add(-40 * 24 * time.Hour)}))
	require.NoError(t, svc.Publish(ctx, &models.Notification{UserID: "u1", Title: "fresh"}))

	deleted, err := svc.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	require.Len(t, repo.items, 1)
	assert.Equal(t, "fresh", repo.items[0].Title)
}
