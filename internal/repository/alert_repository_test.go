package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"riskwatch/internal/models"
)

var alertRowColumns = []string{"id", "user_id", "type", "percent_at_trigger", "day", "acknowledged", "acknowledged_at", "is_test", "created_at"}

func newAlertRepoMock(t *testing.T) (*AlertRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	repo := NewAlertRepository(db)
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC) }
	return repo, mock, func() { db.Close() }
}

// ============================================================
// RecordIfAbsent
// ============================================================

func TestAlertRepositoryRecordIfAbsent(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		wantCreated bool
		wantID      int64
		expectError bool
	}{
		{
			name: "first breach of the day",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO alert_records .+ ON CONFLICT \(user_id, type, day\) WHERE NOT is_test DO NOTHING RETURNING id, created_at`).
					WithArgs("u1", "emergency", sqlmock.AnyArg(), day, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, created))
			},
			wantCreated: true,
			wantID:      7,
		},
		{
			name: "second breach same day returns existing row",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO alert_records`).
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
				mock.ExpectQuery(`SELECT .+ FROM alert_records WHERE user_id = \$1 AND type = \$2 AND day = \$3 AND NOT is_test`).
					WithArgs("u1", "emergency", day).
					WillReturnRows(sqlmock.NewRows(alertRowColumns).
						AddRow(7, "u1", "emergency", "6.0000", day, false, nil, false, created))
			},
			wantCreated: false,
			wantID:      7,
		},
		{
			name: "unique violation is treated as conflict",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO alert_records`).
					WillReturnError(&pq.Error{Code: pgUniqueViolation})
				mock.ExpectQuery(`SELECT .+ FROM alert_records`).
					WillReturnRows(sqlmock.NewRows(alertRowColumns).
						AddRow(9, "u1", "emergency", "6.0000", day, true, created, false, created))
			},
			wantCreated: false,
			wantID:      9,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO alert_records`).
					WillReturnError(errors.New("connection reset"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, closeDB := newAlertRepoMock(t)
			defer closeDB()

			tt.mockSetup(mock)

			// время внутри дня должно обрезаться до даты
			created, rec, err := repo.RecordIfAbsent(context.Background(), "u1", models.AlertEmergency,
				day.Add(15*time.Hour), decimal.RequireFromString("6"))

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if created != tt.wantCreated {
					t.Errorf("created = %v, want %v", created, tt.wantCreated)
				}
				if rec.ID != tt.wantID || rec.Type != models.AlertEmergency {
					t.Errorf("unexpected record %+v", rec)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

// ============================================================
// Acknowledge
// ============================================================

func TestAlertRepositoryAcknowledge(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	firstAck := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	repo, mock, closeDB := newAlertRepoMock(t)
	defer closeDB()

	// Повторное подтверждение: COALESCE сохраняет первое время
	mock.ExpectQuery(`UPDATE alert_records SET acknowledged = TRUE, acknowledged_at = COALESCE\(acknowledged_at, \$2\) WHERE id = \$1 RETURNING`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(7, "u1", "emergency", "6", day, true, firstAck, false, day))

	rec, err := repo.Acknowledge(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Acknowledged || rec.AcknowledgedAt == nil || !rec.AcknowledgedAt.Equal(firstAck) {
		t.Errorf("unexpected record %+v", rec)
	}

	mock.ExpectQuery(`UPDATE alert_records`).
		WithArgs(int64(404), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Acknowledge(context.Background(), 404); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryAcknowledgeAll(t *testing.T) {
	repo, mock, closeDB := newAlertRepoMock(t)
	defer closeDB()

	mock.ExpectExec(`UPDATE alert_records SET acknowledged = TRUE, acknowledged_at = \$2 WHERE user_id = \$1 AND NOT acknowledged`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.AcknowledgeAll(context.Background(), "u1")
	if err != nil || n != 2 {
		t.Errorf("AcknowledgeAll = (%d, %v), want (2, nil)", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// Test alerts
// ============================================================

func TestAlertRepositoryInsertTest(t *testing.T) {
	repo, mock, closeDB := newAlertRepoMock(t)
	defer closeDB()

	mock.ExpectQuery(`INSERT INTO alert_records .+ VALUES \(\$1, \$2, \$3, \$4, TRUE, \$5\)`).
		WithArgs("u1", "warning", sqlmock.AnyArg(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))

	rec, err := repo.InsertTest(context.Background(), "u1", models.AlertWarning, decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsTest || rec.ID != 11 {
		t.Errorf("unexpected record %+v", rec)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryClearTest(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		mockSetup func(mock sqlmock.Sqlmock)
	}{
		{
			name:   "all users",
			userID: "",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM alert_records WHERE is_test$`).
					WillReturnResult(sqlmock.NewResult(0, 3))
			},
		},
		{
			name:   "single user",
			userID: "u1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM alert_records WHERE is_test AND user_id = \$1`).
					WithArgs("u1").
					WillReturnResult(sqlmock.NewResult(0, 3))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, closeDB := newAlertRepoMock(t)
			defer closeDB()

			tt.mockSetup(mock)

			n, err := repo.ClearTest(context.Background(), tt.userID)
			if err != nil || n != 3 {
				t.Errorf("ClearTest = (%d, %v), want (3, nil)", n, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

// ============================================================
// Listing
// ============================================================

func TestAlertRepositoryListByUser(t *testing.T) {
	repo, mock, closeDB := newAlertRepoMock(t)
	defer closeDB()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM alert_records WHERE user_id = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2`).
		WithArgs("u1", 100).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(2, "u1", "gain", "10.5", day, false, nil, false, day).
			AddRow(1, "u1", "emergency", "6", day, true, day, false, day))

	alerts, err := repo.ListByUser(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Type != models.AlertGain || !alerts[0].PercentAtTrigger.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("unexpected first alert %+v", alerts[0])
	}
	if alerts[1].AcknowledgedAt == nil {
		t.Error("acknowledged_at must be scanned")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
