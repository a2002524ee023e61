package straddle

import (
	"context"
	"fmt"

	"straddlebot/internal/config"
	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"
)

// OrderPlacer — часть сессии, нужная стратегии для открытия пары.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, accountID uint64, symbolID int64, side models.TradeSide, volume int64, stopLossTicks int64) (models.ExecutionEvent, error)
	SymbolID(name string) (int64, bool)
	SubscribeSpots(ctx context.Context, accountID uint64, symbolIDs []int64) error
}

// Strategy открывает стрэдл: BUY на первом аккаунте, SELL на втором,
// по рыночным ценам, объём и стоп-лосс из настроек символа.
type Strategy struct {
	session  OrderPlacer
	tracker  *Tracker
	settings *config.Settings
	log      *logger.Logger
}

func NewStrategy(session OrderPlacer, tracker *Tracker, settings *config.Settings, log *logger.Logger) *Strategy {
	return &Strategy{
		session:  session,
		tracker:  tracker,
		settings: settings,
		log:      log,
	}
}

// OpenStraddle размещает обе ноги и регистрирует пару в трекере.
// Ноги размещаются последовательно: сессия допускает только одно
// ожидающее подтверждение размещения одновременно.
func (s *Strategy) OpenStraddle(ctx context.Context, symbol string, account1, account2 uint64) error {
	if s.tracker.HasActive(symbol) {
		return venue.ErrDuplicateStraddle
	}

	settings, ok := s.settings.Symbol(symbol)
	if !ok {
		return fmt.Errorf("Символ не настроен: %s", symbol)
	}
	if !settings.Enabled {
		return fmt.Errorf("Символ выключен в настройках: %s", symbol)
	}

	symbolID, ok := s.session.SymbolID(symbol)
	if !ok {
		return fmt.Errorf("Символ не найден в каталоге: %s", symbol)
	}

	volume := int64(settings.Volume * 100)
	if volume <= 0 {
		return fmt.Errorf("Объём не задан для символа: %s", symbol)
	}

	entry := s.log.WithComponent("strategy").WithField("symbol", symbol)
	entry.WithFields(map[string]interface{}{
		"volume":          volume,
		"stop_loss_ticks": settings.StopLossTicks,
	}).Info("Открытие стрэдла.")

	buyEvent, err := s.session.PlaceOrder(ctx, account1, symbolID, models.TradeSideBuy, volume, settings.StopLossTicks)
	if err != nil {
		return fmt.Errorf("Размещение BUY ноги: %w", err)
	}

	sellEvent, err := s.session.PlaceOrder(ctx, account2, symbolID, models.TradeSideSell, volume, settings.StopLossTicks)
	if err != nil {
		// Пара не собрана: одинокая BUY нога остаётся под защитой своего
		// стоп-лосса, оператор разбирается вручную.
		entry.WithError(err).Error("SELL нога не размещена, стрэдл не собран.")
		return fmt.Errorf("Размещение SELL ноги: %w", err)
	}

	buy := Leg{
		AccountID:  account1,
		OrderID:    buyEvent.OrderID,
		PositionID: buyEvent.PositionID,
		Side:       models.TradeSideBuy,
		OpenPrice:  buyEvent.OpenPrice,
	}
	sell := Leg{
		AccountID:  account2,
		OrderID:    sellEvent.OrderID,
		PositionID: sellEvent.PositionID,
		Side:       models.TradeSideSell,
		OpenPrice:  sellEvent.OpenPrice,
	}

	if err := s.tracker.AddStraddle(symbol, buy, sell); err != nil {
		return err
	}

	if err := s.session.SubscribeSpots(ctx, account1, []int64{symbolID}); err != nil {
		entry.WithError(err).Warn("Не удалось подписаться на котировки.")
	}

	return nil
}
