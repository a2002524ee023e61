package ctrader

import "sync"

// Credentials хранит реквизиты приложения и пару токенов доступа.
// Токены обновляются на лету после обмена кода авторизации.
type Credentials struct {
	ClientID     string
	ClientSecret string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

func NewCredentials(clientID, clientSecret, accessToken, refreshToken string) *Credentials {
	return &Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

func (c *Credentials) Tokens() (access string, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.refreshToken
}

func (c *Credentials) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}
