package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// API — минимальный клиент Telegram Bot API на длинных опросах.
type API struct {
	rest *resty.Client
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func NewAPI(token string) *API {
	rest := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + token).
		SetTimeout(60 * time.Second)

	return &API{rest: rest}
}

func (a *API) GetUpdates(ctx context.Context, offset int64, pollTimeout int) ([]Update, error) {
	var body apiResponse

	resp, err := a.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          fmt.Sprintf("%d", offset),
			"timeout":         fmt.Sprintf("%d", pollTimeout),
			"allowed_updates": `["message"]`,
		}).
		SetResult(&body).
		SetError(&body).
		Get("/getUpdates")
	if err != nil {
		return nil, fmt.Errorf("Запрос getUpdates: %w", err)
	}
	if resp.IsError() || !body.OK {
		return nil, fmt.Errorf("Ответ getUpdates: %s (%s)", resp.Status(), body.Description)
	}

	var updates []Update
	if err := json.Unmarshal(body.Result, &updates); err != nil {
		return nil, fmt.Errorf("Не удалось разобрать getUpdates: %w", err)
	}
	return updates, nil
}

func (a *API) SendMessage(ctx context.Context, chatID int64, text string) error {
	var body apiResponse

	resp, err := a.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    fmt.Sprintf("%d", chatID),
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetResult(&body).
		SetError(&body).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("Запрос sendMessage: %w", err)
	}
	if resp.IsError() || !body.OK {
		return fmt.Errorf("Ответ sendMessage: %s (%s)", resp.Status(), body.Description)
	}
	return nil
}
