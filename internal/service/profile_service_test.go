package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskwatch/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func boolPtr(b bool) *bool { return &b }

func sirenPtr(s models.SirenType) *models.SirenType { return &s }

// ============ Валидация ============

func TestUpdateProfile_ThresholdBounds(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"below min", "0.99", true},
		{"min", "1", false},
		{"middle", "12.5", false},
		{"max", "50", false},
		{"above max", "50.01", true},
		{"negative", "-5", true},
	}

	for _, tt := range tests {
		t.Run("loss "+tt.name, func(t *testing.T) {
			svc := NewProfileService(NewMockProfileRepository(), nil)
			_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{LossThresholdPercent: dec(tt.value)})
			assertValidation(t, err, tt.wantErr, "loss_threshold_percent")
		})
		t.Run("gain "+tt.name, func(t *testing.T) {
			svc := NewProfileService(NewMockProfileRepository(), nil)
			_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{GainThresholdPercent: dec(tt.value)})
			assertValidation(t, err, tt.wantErr, "gain_threshold_percent")
		})
	}
}

func assertValidation(t *testing.T, err error, wantErr bool, field string) {
	t.Helper()
	if !wantErr {
		assert.NoError(t, err)
		return
	}
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, field, verr.Field)
}

func TestUpdateProfile_InitialBalanceMustBePositive(t *testing.T) {
	svc := NewProfileService(NewMockProfileRepository(), nil)

	for _, v := range []string{"0", "-1"} {
		_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{InitialBalance: dec(v)})
		assertValidation(t, err, true, "initial_balance")
	}
}

func TestUpdateProfile_UnknownSiren(t *testing.T) {
	svc := NewProfileService(NewMockProfileRepository(), nil)

	_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{SirenType: sirenPtr("foghorn")})
	assertValidation(t, err, true, "siren_type")
}

func TestUpdateProfile_AllOrNothing(t *testing.T) {
	repo := NewMockProfileRepository()
	svc := NewProfileService(repo, nil)

	_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{
		InitialBalance:       dec("1000"),
		LossThresholdPercent: dec("60"),
	})
	require.Error(t, err)
	assert.Zero(t, repo.upserts, "nothing persisted on validation failure")

	p, err := svc.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.InitialBalance.IsZero())
}

func TestUpdateProfile_NilRequest(t *testing.T) {
	svc := NewProfileService(NewMockProfileRepository(), nil)
	_, err := svc.UpdateProfile(context.Background(), "u1", nil)
	assertValidation(t, err, true, "body")
}

// ============ Частичное обновление ============

func TestUpdateProfile_PartialUpdate(t *testing.T) {
	repo := NewMockProfileRepository()
	svc := NewProfileService(repo, nil)
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, "u1", &UpdateProfileRequest{
		InitialBalance: dec("1000"),
		SirenType:      sirenPtr(models.SirenAirRaid),
	})
	require.NoError(t, err)

	p, err := svc.UpdateProfile(ctx, "u1", &UpdateProfileRequest{GainEnabled: boolPtr(true)})
	require.NoError(t, err)

	assert.True(t, p.InitialBalance.Equal(decimal.NewFromInt(1000)), "untouched field kept")
	assert.Equal(t, models.SirenAirRaid, p.SirenType)
	assert.True(t, p.GainEnabled)
	assert.True(t, p.LossThresholdPercent.Equal(decimal.NewFromInt(5)), "default loss threshold kept")
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestUpdateProfile_ThresholdsIndependent(t *testing.T) {
	svc := NewProfileService(NewMockProfileRepository(), nil)

	// Порог прибыли ниже порога убытка - допустимо
	p, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{
		LossThresholdPercent: dec("20"),
		GainThresholdPercent: dec("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "20", p.LossThresholdPercent.String())
	assert.Equal(t, "2", p.GainThresholdPercent.String())
}

func TestUpdateProfile_RepositoryError(t *testing.T) {
	repo := NewMockProfileRepository()
	repo.upsertErr = errors.New("db down")
	svc := NewProfileService(repo, nil)

	_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{AutoFlatten: boolPtr(true)})
	assert.EqualError(t, err, "db down")
}

// ============ Уведомление администратора ============

func TestUpdateProfile_NotifiesAdminOnRiskChange(t *testing.T) {
	notifier := &MockAdminNotifier{}
	dispatcher := NewAdminDispatcher(notifier, time.Second)
	svc := NewProfileService(NewMockProfileRepository(), dispatcher)

	_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{
		LossThresholdPercent: dec("7"),
		GainEnabled:          boolPtr(true),
	})
	require.NoError(t, err)
	dispatcher.Wait()

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, AdminEventRiskSettingsChanged, events[0].Type)
	assert.Equal(t, "u1", events[0].UserID)
	assert.ElementsMatch(t, []string{"loss_threshold_percent", "gain_enabled"}, events[0].Changed)
}

func TestUpdateProfile_NoAdminNotifyForCosmeticChange(t *testing.T) {
	notifier := &MockAdminNotifier{}
	dispatcher := NewAdminDispatcher(notifier, time.Second)
	svc := NewProfileService(NewMockProfileRepository(), dispatcher)

	_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{
		SirenType:            sirenPtr(models.SirenFire),
		LossThresholdPercent: dec("5"), // совпадает с текущим
	})
	require.NoError(t, err)
	dispatcher.Wait()

	assert.Empty(t, notifier.Events())
}

func TestUpdateProfile_AdminFailureDoesNotFailSave(t *testing.T) {
	repo := NewMockProfileRepository()
	notifier := &MockAdminNotifier{err: errors.New("kafka unavailable")}
	dispatcher := NewAdminDispatcher(notifier, time.Second)
	svc := NewProfileService(repo, dispatcher)

	p, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{LossEnabled: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, p.LossEnabled)
	dispatcher.Wait()
	assert.Equal(t, 1, repo.upserts)
}

func TestUpdateProfile_SaveDoesNotWaitForAdmin(t *testing.T) {
	notifier := &MockAdminNotifier{block: make(chan struct{})}
	dispatcher := NewAdminDispatcher(notifier, 5*time.Second)
	svc := NewProfileService(NewMockProfileRepository(), dispatcher)

	done := make(chan error, 1)
	go func() {
		_, err := svc.UpdateProfile(context.Background(), "u1", &UpdateProfileRequest{GainThresholdPercent: dec("15")})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("save blocked on admin notify")
	}

	close(notifier.block)
	dispatcher.Wait()
	assert.Len(t, notifier.Events(), 1)
}
