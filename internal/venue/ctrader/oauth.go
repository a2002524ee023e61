package ctrader

import (
	"context"
	"fmt"
	"time"

	"straddlebot/internal/logger"

	"github.com/go-resty/resty/v2"
)

// TokenClient обменивает код авторизации на пару токенов и обновляет их
// по refresh-токену через HTTP-эндпоинт брокера.
type TokenClient struct {
	rest  *resty.Client
	creds *Credentials
	log   *logger.Logger
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	ErrorCode    string `json:"errorCode"`
	Description  string `json:"description"`
}

func NewTokenClient(tokenURL string, creds *Credentials, log *logger.Logger) *TokenClient {
	rest := resty.New().
		SetBaseURL(tokenURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &TokenClient{rest: rest, creds: creds, log: log}
}

// ExchangeCode обменивает код авторизации на токены и сохраняет их в памяти.
func (t *TokenClient) ExchangeCode(ctx context.Context, code, redirectURI string) error {
	params := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
		"client_id":     t.creds.ClientID,
		"client_secret": t.creds.ClientSecret,
	}
	return t.requestTokens(ctx, params)
}

// Refresh обновляет токены по refresh-токену.
func (t *TokenClient) Refresh(ctx context.Context) error {
	_, refresh := t.creds.Tokens()
	if refresh == "" {
		return fmt.Errorf("Refresh-токен отсутствует.")
	}

	params := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
		"client_id":     t.creds.ClientID,
		"client_secret": t.creds.ClientSecret,
	}
	return t.requestTokens(ctx, params)
}

func (t *TokenClient) requestTokens(ctx context.Context, params map[string]string) error {
	var body tokenResponse

	resp, err := t.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		SetError(&body).
		Post("")
	if err != nil {
		return fmt.Errorf("Запрос токена: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Запрос токена: статус %s", resp.Status())
	}
	if body.ErrorCode != "" {
		return fmt.Errorf("Запрос токена: %s (code=%s)", body.Description, body.ErrorCode)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("Сервер не вернул access-токен.")
	}

	t.creds.SetTokens(body.AccessToken, body.RefreshToken)
	t.log.WithComponent("oauth").Info("Токены доступа обновлены.")
	return nil
}
