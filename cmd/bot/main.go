package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"straddlebot/internal/bridge"
	"straddlebot/internal/config"
	"straddlebot/internal/logger"
	"straddlebot/internal/store"
	"straddlebot/internal/straddle"
	"straddlebot/internal/telegram"
	"straddlebot/internal/venue"
	"straddlebot/internal/venue/ctrader"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	log.Info("Бот запущен.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Storage.DBFile, log)
	if err != nil {
		log.WithError(err).Fatal("Не удалось открыть журнал сделок.")
	}
	defer db.Close()

	creds := ctrader.NewCredentials(cfg.Venue.ClientID, cfg.Venue.ClientSecret,
		cfg.Venue.AccessToken, cfg.Venue.RefreshToken)
	tokens := ctrader.NewTokenClient(cfg.Venue.TokenURL, creds, log)
	session := ctrader.New(cfg.Venue.WSUrl, creds, cfg.Venue.RequestTimeout, cfg.Venue.AuthTimeout, log)

	settings := config.NewSettings(cfg.Symbols)
	tracker := straddle.NewTracker(session, db, settings, log)
	session.SubscribeExecutionEvents(tracker.HandleExecutionEvent)
	strategy := straddle.NewStrategy(session, tracker, settings, log)

	br := bridge.New(64, log)
	go br.Run(ctx)

	reconnectCh := make(chan struct{}, 1)
	session.OnDisconnect(func(cause error) {
		log.WithError(cause).Warn("Соединение с торговым сервером потеряно.")
		select {
		case reconnectCh <- struct{}{}:
		default:
		}
	})

	go connectLoop(ctx, session, log, reconnectCh)

	bot := telegram.New(cfg.Telegram, telegram.Deps{
		Session:  session,
		Tokens:   tokens,
		Bridge:   br,
		Tracker:  tracker,
		Strategy: strategy,
		Store:    db,
		Settings: settings,
		Log:      log,
	})
	go bot.Run(ctx)

	<-sigCh

	cancel()
	session.Close()

	log.Info("Бот остановлен.")
}

// connectLoop держит сессию живой: начальное подключение и повторные
// после обрывов, с растущей паузой. Выбор пары аккаунтов автоматический,
// пока аккаунтов ровно два; иначе ждём /select из чата.
func connectLoop(ctx context.Context, session *ctrader.Session, log *logger.Logger, reconnectCh <-chan struct{}) {
	backoff := time.Second

	for {
		err := session.Connect(ctx)
		switch {
		case err == nil:
			backoff = time.Second
			if err := authorizePair(ctx, session, log); err != nil {
				log.WithError(err).Error("Не удалось авторизовать пару аккаунтов.")
			}
			select {
			case <-ctx.Done():
				return
			case <-reconnectCh:
			}
		case errors.Is(err, venue.ErrNoTradingAccounts):
			log.WithError(err).Fatal("Нет торговых аккаунтов по токену доступа.")
		default:
			log.WithError(err).Error("Не удалось подключиться к торговому серверу.")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func authorizePair(ctx context.Context, session *ctrader.Session, log *logger.Logger) error {
	auth := session.Auth()

	if err := auth.SelectAccounts(); err != nil {
		if errors.Is(err, venue.ErrInsufficientAccounts) {
			return err
		}
		log.WithFields(logrus.Fields{"accounts": len(auth.Accounts())}).
			Warn("Аккаунтов больше двух, жду явного выбора через /select.")
		return nil
	}
	if err := auth.AuthorizeSelected(ctx); err != nil {
		return err
	}

	// Каталог символов нужен стратегии для поиска symbolId по имени.
	if _, err := session.GetSymbols(ctx, auth.Selected()[0]); err != nil {
		return err
	}
	return nil
}
