package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/utils"
)

// Ошибки сервиса аккаунтов
var (
	// ErrCredentialsUnreadable - сохранённые ключи не расшифровываются
	// (сменился ключ шифрования или данные повреждены). Пользователь должен ввести их заново.
	ErrCredentialsUnreadable = errors.New("stored credentials are unreadable")
	ErrInvalidCredentials    = errors.New("invalid API credentials")
	ErrVerificationFailed    = errors.New("failed to verify credentials with exchange")
)

// verifyTimeout - лимит на проверочный запрос к бирже
const verifyTimeout = 15 * time.Second

// AccountService - бизнес-логика привязки аккаунта биржи.
//
// Ключи проверяются запросом к бирже, шифруются AES-GCM и только
// после этого сохраняются. Расшифрованные ключи живут в памяти.
type AccountService struct {
	accounts AccountRepositoryInterface
	cipher   *crypto.CredentialCipher
	client   exchange.Client
	pollers  PollerControl
	admin    *AdminDispatcher
	log      *utils.Logger
}

// NewAccountService создает новый экземпляр сервиса.
// client == nil - ключи сохраняются без проверки.
func NewAccountService(accounts AccountRepositoryInterface, cipher *crypto.CredentialCipher, client exchange.Client) *AccountService {
	return &AccountService{
		accounts: accounts,
		cipher:   cipher,
		client:   client,
		log:      utils.L().WithComponent("accounts"),
	}
}

// SetPollerControl подключает планировщик для возобновления опроса.
//
// Вызывается после создания планировщика в main.go:
//
//	accountService := service.NewAccountService(...)
//	scheduler := monitor.NewScheduler(cfg, deps{Credentials: accountService})
//	accountService.SetPollerControl(scheduler)
func (s *AccountService) SetPollerControl(p PollerControl) {
	s.pollers = p
}

// SetAdminDispatcher подключает уведомления администратора
func (s *AccountService) SetAdminDispatcher(d *AdminDispatcher) {
	s.admin = d
}

// SetCredentials проверяет, шифрует и сохраняет ключи пользователя.
// Выполняет:
// 1. Проверку формата
// 2. Тестовый запрос к бирже (если клиент задан)
// 3. Шифрование обоих ключей
// 4. Сохранение с active=true и сбросом last_error
// 5. Возобновление приостановленного опроса
func (s *AccountService) SetCredentials(ctx context.Context, userID, apiKey, secretKey string) (*models.ExchangeAccount, error) {
	creds := models.Credentials{
		APIKey:    strings.TrimSpace(apiKey),
		SecretKey: strings.TrimSpace(secretKey),
	}
	if creds.APIKey == "" {
		return nil, &ValidationError{Field: "api_key", Message: "required"}
	}
	if creds.SecretKey == "" {
		return nil, &ValidationError{Field: "secret_key", Message: "required"}
	}

	if s.client != nil {
		vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
		_, err := s.client.FetchAccountSnapshot(vctx, creds)
		cancel()
		if err != nil {
			if exchange.IsAuthError(err) {
				return nil, errors.Join(ErrInvalidCredentials, err)
			}
			return nil, errors.Join(ErrVerificationFailed, err)
		}
	}

	encAPIKey, err := s.cipher.Encrypt(creds.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := s.cipher.Encrypt(creds.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret key: %w", err)
	}

	acc := &models.ExchangeAccount{
		UserID:       userID,
		APIKeyEnc:    encAPIKey,
		SecretKeyEnc: encSecret,
		Active:       true,
	}
	if err := s.accounts.Upsert(ctx, acc); err != nil {
		return nil, err
	}

	s.log.Info("exchange credentials stored", utils.UserID(userID), utils.String("credentials", creds.String()))

	if s.pollers != nil {
		s.pollers.Resume(userID)
	}
	s.admin.Submit(AdminEvent{Type: AdminEventCredentialsUpdated, UserID: userID})
	return acc, nil
}

// GetAccount возвращает привязанный аккаунт (без ключей)
func (s *AccountService) GetAccount(ctx context.Context, userID string) (*models.ExchangeAccount, error) {
	return s.accounts.Get(ctx, userID)
}

// Credentials расшифровывает ключи пользователя.
// Ошибка расшифровки оборачивает и ErrCredentialsUnreadable, и crypto.ErrDecryptionFailed.
func (s *AccountService) Credentials(ctx context.Context, userID string) (models.Credentials, error) {
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return models.Credentials{}, err
	}

	apiKey, err := s.cipher.Decrypt(acc.APIKeyEnc)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%w: api key: %w", ErrCredentialsUnreadable, err)
	}
	secret, err := s.cipher.Decrypt(acc.SecretKeyEnc)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%w: secret key: %w", ErrCredentialsUnreadable, err)
	}
	return models.Credentials{APIKey: apiKey, SecretKey: secret}, nil
}

// DeleteAccount отвязывает аккаунт; опрос остановится при следующей синхронизации списка
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	return s.accounts.Delete(ctx, userID)
}
