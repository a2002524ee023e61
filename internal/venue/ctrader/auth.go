package ctrader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"

	"github.com/sirupsen/logrus"
)

// Sequencer ведёт обязательную последовательность рукопожатия:
// авторизация приложения -> список аккаунтов по токену -> авторизация
// каждого выбранного аккаунта. Торговые запросы до завершения запрещены.
type Sequencer struct {
	session *Session
	log     *logger.Logger

	mu       sync.Mutex
	states   map[uint64]venue.AuthState
	accounts []models.TraderAccount
	selected []uint64
	ready    chan struct{}
}

func newSequencer(s *Session) *Sequencer {
	return &Sequencer{
		session: s,
		log:     s.log,
		states:  map[uint64]venue.AuthState{},
		ready:   make(chan struct{}),
	}
}

func (a *Sequencer) logEntry() *logrus.Entry {
	return a.log.WithComponent("auth")
}

// Authenticate выполняет первые два шага: авторизацию приложения и
// получение списка аккаунтов, привязанных к access-токену.
func (a *Sequencer) Authenticate(ctx context.Context) error {
	creds := a.session.creds

	a.logEntry().Info("Авторизация приложения.")

	_, err := a.session.request(ctx, PayloadApplicationAuthReq, applicationAuthReq{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	}, a.session.authTimeout)
	if err != nil {
		if errors.Is(err, venue.ErrTimeout) {
			return fmt.Errorf("Авторизация приложения: %w", venue.ErrAuthTimeout)
		}
		return fmt.Errorf("Авторизация приложения: %w", err)
	}

	accessToken, _ := creds.Tokens()
	frame, err := a.session.request(ctx, PayloadGetAccountsByAccessTokenReq, getAccountsByAccessTokenReq{
		AccessToken: accessToken,
	}, a.session.authTimeout)
	if err != nil {
		return fmt.Errorf("Запрос списка аккаунтов: %w", err)
	}

	var res getAccountsByAccessTokenRes
	if err := json.Unmarshal(frame.Payload, &res); err != nil {
		return fmt.Errorf("Не удалось разобрать список аккаунтов: %w", err)
	}
	if len(res.CtidTraderAccount) == 0 {
		return venue.ErrNoTradingAccounts
	}

	a.mu.Lock()
	a.accounts = a.accounts[:0]
	for _, acc := range res.CtidTraderAccount {
		a.accounts = append(a.accounts, models.TraderAccount{
			ID:     acc.CtidTraderAccountID,
			Login:  acc.TraderLogin,
			IsLive: acc.IsLive,
		})
		if a.states[acc.CtidTraderAccountID] < venue.AuthStateAppAuthenticated {
			a.states[acc.CtidTraderAccountID] = venue.AuthStateAppAuthenticated
		}
	}
	a.mu.Unlock()

	a.logEntry().WithField("accounts", len(res.CtidTraderAccount)).Info("Приложение авторизовано, аккаунты получены.")
	return nil
}

func (a *Sequencer) Accounts() []models.TraderAccount {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TraderAccount, len(a.accounts))
	copy(out, a.accounts)
	return out
}

// SelectAccounts фиксирует пару аккаунтов для стратегии.
// Меньше двух доступных аккаунтов — фатально; ровно два выбираются
// автоматически; больше двух требуют явного выбора.
func (a *Sequencer) SelectAccounts(ids ...uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.accounts) < 2 {
		return venue.ErrInsufficientAccounts
	}

	if len(ids) == 0 {
		if len(a.accounts) != 2 {
			return fmt.Errorf("Доступно аккаунтов: %d, требуется явный выбор двух.", len(a.accounts))
		}
		a.selected = []uint64{a.accounts[0].ID, a.accounts[1].ID}
		return nil
	}

	if len(ids) != 2 || ids[0] == ids[1] {
		return fmt.Errorf("Нужно выбрать два разных аккаунта.")
	}
	for _, id := range ids {
		if !a.knownLocked(id) {
			return fmt.Errorf("Неизвестный аккаунт: %d", id)
		}
	}
	a.selected = []uint64{ids[0], ids[1]}
	return nil
}

func (a *Sequencer) knownLocked(id uint64) bool {
	for _, acc := range a.accounts {
		if acc.ID == id {
			return true
		}
	}
	return false
}

func (a *Sequencer) Selected() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint64, len(a.selected))
	copy(out, a.selected)
	return out
}

// AuthorizeSelected авторизует выбранные аккаунты. Аккаунты независимы
// и авторизуются параллельно; сигнал готовности публикуется, когда
// оба достигли ACCOUNT_AUTHORIZED.
func (a *Sequencer) AuthorizeSelected(ctx context.Context) error {
	selected := a.Selected()
	if len(selected) != 2 {
		return venue.ErrInsufficientAccounts
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(selected))

	for _, id := range selected {
		wg.Add(1)
		go func(accountID uint64) {
			defer wg.Done()
			if err := a.authorizeAccount(ctx, accountID); err != nil {
				errCh <- fmt.Errorf("Авторизация аккаунта %d: %w", accountID, err)
			}
		}(id)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}

	a.mu.Lock()
	select {
	case <-a.ready:
	default:
		close(a.ready)
	}
	a.mu.Unlock()

	a.logEntry().Info("Оба аккаунта авторизованы, торговля разрешена.")
	return nil
}

func (a *Sequencer) authorizeAccount(ctx context.Context, accountID uint64) error {
	if a.State(accountID) < venue.AuthStateAppAuthenticated {
		return venue.ErrNotAuthorized
	}

	accessToken, _ := a.session.creds.Tokens()
	_, err := a.session.request(ctx, PayloadAccountAuthReq, accountAuthReq{
		CtidTraderAccountID: accountID,
		AccessToken:         accessToken,
	}, a.session.authTimeout)
	if err != nil && !venue.IsProtocolCode(err, venue.CodeAlreadyLoggedIn) {
		return err
	}

	a.mu.Lock()
	if a.states[accountID] < venue.AuthStateAccountAuthorized {
		a.states[accountID] = venue.AuthStateAccountAuthorized
	}
	a.mu.Unlock()

	a.log.WithAccount(accountID).Info("Торговый аккаунт авторизован.")
	return nil
}

// Ready закрывается, когда оба выбранных аккаунта авторизованы.
func (a *Sequencer) Ready() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

func (a *Sequencer) State(accountID uint64) venue.AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[accountID]
}

func (a *Sequencer) Authorized(accountID uint64) bool {
	return a.State(accountID) == venue.AuthStateAccountAuthorized
}

// Reset возвращает все аккаунты в UNAUTHENTICATED после обрыва соединения.
func (a *Sequencer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.states {
		a.states[id] = venue.AuthStateUnauthenticated
	}
	select {
	case <-a.ready:
		a.ready = make(chan struct{})
	default:
	}
}
