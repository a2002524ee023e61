package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"straddlebot/internal/bridge"
	"straddlebot/internal/config"
	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/store"
	"straddlebot/internal/straddle"
	"straddlebot/internal/venue/ctrader"
)

const commandTimeout = 30 * time.Second

// Deps — зависимости бота. Все обращения к сессии и трекеру идут
// только через мост, чтобы не смешивать потоки команд и событий.
type Deps struct {
	Session  *ctrader.Session
	Tokens   *ctrader.TokenClient
	Bridge   *bridge.Bridge
	Tracker  *straddle.Tracker
	Strategy *straddle.Strategy
	Store    *store.Store
	Settings *config.Settings
	Log      *logger.Logger
}

type Bot struct {
	cfg  config.TelegramConfig
	api  *API
	deps Deps
}

func New(cfg config.TelegramConfig, deps Deps) *Bot {
	return &Bot{
		cfg:  cfg,
		api:  NewAPI(cfg.Token),
		deps: deps,
	}
}

func (b *Bot) logEntry() *logrus.Entry {
	return b.deps.Log.WithComponent("telegram")
}

// Run крутит цикл длинных опросов до отмены контекста.
func (b *Bot) Run(ctx context.Context) {
	b.logEntry().Info("Запуск телеграм-бота.")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.logEntry().Info("Остановка телеграм-бота.")
			return
		default:
		}

		updates, err := b.api.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logEntry().WithError(err).Error("Ошибка опроса обновлений.")
			time.Sleep(3 * time.Second)
			continue
		}

		for _, upd := range updates {
			offset = upd.UpdateID + 1
			if upd.Message == nil {
				continue
			}
			b.handleMessage(ctx, upd.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	if b.cfg.ChatID != 0 && msg.Chat.ID != b.cfg.ChatID {
		b.logEntry().WithFields(logrus.Fields{
			"chat_id":  msg.Chat.ID,
			"username": msg.From.Username,
		}).Warn("Сообщение из чужого чата отброшено.")
		return
	}

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	command, args := fields[0], fields[1:]

	b.logEntry().WithField("command", command).Info("Команда из чата.")

	reply, err := b.dispatch(ctx, command, args)
	if err != nil {
		reply = fmt.Sprintf("❌ %v", err)
	}
	if reply == "" {
		return
	}
	if err := b.api.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		b.logEntry().WithError(err).Error("Не удалось отправить ответ.")
	}
}

func (b *Bot) dispatch(ctx context.Context, command string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case "/start", "/help":
		return mainMenuText(), nil
	case "/authorize":
		return b.cmdAuthorize(ctx, args)
	case "/accounts":
		return b.cmdAccounts(ctx)
	case "/select":
		return b.cmdSelect(ctx, args)
	case "/straddle":
		return b.cmdStraddle(ctx, args)
	case "/active":
		return b.cmdActive(ctx)
	case "/stats":
		return b.cmdStats(ctx)
	case "/history":
		return b.cmdHistory(ctx)
	case "/settings":
		return settingsText(b.deps.Settings.All()), nil
	case "/toggle":
		return b.cmdToggle(args)
	case "/setsl":
		return b.cmdSetTicks(args, func(s *config.SymbolSettings, v int64) { s.StopLossTicks = v })
	case "/setts":
		return b.cmdSetTicks(args, func(s *config.SymbolSettings, v int64) { s.TrailingStopTicks = v })
	case "/setvol":
		return b.cmdSetVolume(args)
	default:
		return "Неизвестная команда. /help — список команд.", nil
	}
}

// cmdAuthorize меняет код авторизации на токены и проходит рукопожатие.
func (b *Bot) cmdAuthorize(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "Формат: /authorize <код> <redirect_uri>", nil
	}
	code, redirectURI := args[0], args[1]

	err := b.deps.Bridge.Void(ctx, func() error {
		if err := b.deps.Tokens.ExchangeCode(ctx, code, redirectURI); err != nil {
			return err
		}
		return b.deps.Session.Auth().Authenticate(ctx)
	})
	if err != nil {
		return "", err
	}
	return "✅ Токены получены, приложение авторизовано. /accounts — список счетов.", nil
}

func (b *Bot) cmdAccounts(ctx context.Context) (string, error) {
	type listing struct {
		accounts []models.TraderAccount
		selected []uint64
		balances map[uint64]float64
	}

	res, err := b.deps.Bridge.Do(ctx, func() (interface{}, error) {
		accounts, err := b.deps.Session.GetTraderAccounts(ctx)
		if err != nil {
			return nil, err
		}
		out := listing{
			accounts: accounts,
			selected: b.deps.Session.Auth().Selected(),
			balances: make(map[uint64]float64),
		}
		for _, acc := range accounts {
			if !b.deps.Session.Auth().Authorized(acc.ID) {
				continue
			}
			balance, err := b.deps.Session.GetAccountBalance(ctx, acc.ID)
			if err != nil {
				b.logEntry().WithError(err).WithField("account_id", acc.ID).
					Warn("Не удалось получить баланс счёта.")
				continue
			}
			out.balances[acc.ID] = balance
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}

	l := res.(listing)
	return accountsText(l.accounts, l.selected, l.balances), nil
}

func (b *Bot) cmdSelect(ctx context.Context, args []string) (string, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return "Формат: /select <id счёта> <id счёта>", nil
		}
		ids = append(ids, id)
	}

	err := b.deps.Bridge.Void(ctx, func() error {
		if err := b.deps.Session.Auth().SelectAccounts(ids...); err != nil {
			return err
		}
		if err := b.deps.Session.Auth().AuthorizeSelected(ctx); err != nil {
			return err
		}
		_, err := b.deps.Session.GetSymbols(ctx, b.deps.Session.Auth().Selected()[0])
		return err
	})
	if err != nil {
		return "", err
	}
	return "✅ Счета выбраны и авторизованы. Можно открывать стрэдлы.", nil
}

func (b *Bot) cmdStraddle(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Формат: /straddle <символ>", nil
	}
	symbol := strings.ToUpper(args[0])

	err := b.deps.Bridge.Void(ctx, func() error {
		selected := b.deps.Session.Auth().Selected()
		if len(selected) != 2 {
			return fmt.Errorf("Выбрано счетов: %d, нужно ровно два. /select", len(selected))
		}
		return b.deps.Strategy.OpenStraddle(ctx, symbol, selected[0], selected[1])
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Стрэдл по %s открыт.", symbol), nil
}

func (b *Bot) cmdActive(ctx context.Context) (string, error) {
	res, err := b.deps.Bridge.Do(ctx, func() (interface{}, error) {
		return b.deps.Tracker.Active(), nil
	})
	if err != nil {
		return "", err
	}
	return activeText(res.([]straddle.Position)), nil
}

func (b *Bot) cmdStats(ctx context.Context) (string, error) {
	stats, err := b.deps.Store.Stats(ctx)
	if err != nil {
		return "", err
	}
	return statsText(stats), nil
}

func (b *Bot) cmdHistory(ctx context.Context) (string, error) {
	trades, err := b.deps.Store.GetAllTrades(ctx)
	if err != nil {
		return "", err
	}
	return historyText(trades), nil
}

func (b *Bot) cmdToggle(args []string) (string, error) {
	if len(args) != 1 {
		return "Формат: /toggle <символ>", nil
	}
	symbol := strings.ToUpper(args[0])

	var enabled bool
	if !b.deps.Settings.Update(symbol, func(s *config.SymbolSettings) {
		s.Enabled = !s.Enabled
		enabled = s.Enabled
	}) {
		return fmt.Sprintf("Символ %s не настроен.", symbol), nil
	}
	if enabled {
		return fmt.Sprintf("✅ Торговля по %s включена.", symbol), nil
	}
	return fmt.Sprintf("⏸ Торговля по %s выключена.", symbol), nil
}

func (b *Bot) cmdSetTicks(args []string, apply func(*config.SymbolSettings, int64)) (string, error) {
	if len(args) != 2 {
		return "Формат: /setsl|/setts <символ> <тики>", nil
	}
	symbol := strings.ToUpper(args[0])
	ticks, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || ticks <= 0 {
		return "Тики должны быть положительным числом.", nil
	}

	if !b.deps.Settings.Update(symbol, func(s *config.SymbolSettings) { apply(s, ticks) }) {
		return fmt.Sprintf("Символ %s не настроен.", symbol), nil
	}
	return fmt.Sprintf("✅ %s: %d тиков.", symbol, ticks), nil
}

func (b *Bot) cmdSetVolume(args []string) (string, error) {
	if len(args) != 2 {
		return "Формат: /setvol <символ> <лоты>", nil
	}
	symbol := strings.ToUpper(args[0])
	volume, err := strconv.ParseFloat(args[1], 64)
	if err != nil || volume <= 0 {
		return "Объём должен быть положительным числом.", nil
	}

	if !b.deps.Settings.Update(symbol, func(s *config.SymbolSettings) { s.Volume = volume }) {
		return fmt.Sprintf("Символ %s не настроен.", symbol), nil
	}
	return fmt.Sprintf("✅ %s: объём %.2f лота.", symbol, volume), nil
}
