package straddle

import (
	"context"
	"sync"
	"time"

	"straddlebot/internal/config"
	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateOpen         State = "OPEN"
	StateOneLegClosed State = "ONE_LEG_CLOSED"
	StateClosed       State = "CLOSED"
)

type Leg struct {
	AccountID  uint64           `json:"account_id"`
	OrderID    int64            `json:"order_id"`
	PositionID int64            `json:"position_id"`
	Side       models.TradeSide `json:"side"`
	OpenPrice  float64          `json:"open_price"`
}

type Position struct {
	Symbol    string    `json:"symbol"`
	Buy       Leg       `json:"buy"`
	Sell      Leg       `json:"sell"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`

	closedPositionID int64
	loserPnL         float64
	winnerSide       models.TradeSide
}

type PositionModifier interface {
	ModifyPosition(ctx context.Context, accountID uint64, positionID int64, mod venue.PositionModification) error
}

type TradeLogger interface {
	LogTrade(ctx context.Context, rec models.TradeRecord) error
}

// Tracker ведёт парные позиции стрэдла по символам. События исполнения
// обрабатываются строго в порядке прихода, в одной горутине на сессию.
type Tracker struct {
	client   PositionModifier
	store    TradeLogger
	settings *config.Settings
	log      *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*Position
	fills  map[int64]pendingFill
}

// Рыночная нога может исполниться раньше, чем стратегия зарегистрирует
// пару: такие исполнения придерживаются по orderId до AddStraddle.
type pendingFill struct {
	positionID int64
	openPrice  float64
	at         time.Time
}

const fillRetention = time.Minute

func NewTracker(client PositionModifier, store TradeLogger, settings *config.Settings, log *logger.Logger) *Tracker {
	return &Tracker{
		client:   client,
		store:    store,
		settings: settings,
		log:      log,
		now:      time.Now,
		active:   map[string]*Position{},
		fills:    map[int64]pendingFill{},
	}
}

func (t *Tracker) logEntry(symbol string) *logrus.Entry {
	entry := t.log.WithComponent("straddle")
	if symbol != "" {
		entry = entry.WithField("symbol", symbol)
	}
	return entry
}

// AddStraddle регистрирует пару после подтверждения обеих ног.
// Повторная регистрация по активному символу отклоняется: молчаливая
// перезапись осиротила бы обязательства по стопам первой пары.
func (t *Tracker) AddStraddle(symbol string, buy, sell Leg) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[symbol]; exists {
		return venue.ErrDuplicateStraddle
	}

	pos := &Position{
		Symbol:    symbol,
		Buy:       buy,
		Sell:      sell,
		State:     StateOpen,
		CreatedAt: t.now(),
	}
	t.applyPendingFillLocked(&pos.Buy)
	t.applyPendingFillLocked(&pos.Sell)
	t.active[symbol] = pos

	t.logEntry(symbol).WithFields(map[string]interface{}{
		"buy_order":  buy.OrderID,
		"sell_order": sell.OrderID,
	}).Info("Стрэдл зарегистрирован.")
	return nil
}

func (t *Tracker) HasActive(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[symbol]
	return ok
}

// Active возвращает снимок активных пар.
func (t *Tracker) Active() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.active))
	for _, pos := range t.active {
		out = append(out, *pos)
	}
	return out
}

// HandleExecutionEvent — вход машины состояний. События чужих позиций
// и повторные доставки игнорируются.
func (t *Tracker) HandleExecutionEvent(event models.ExecutionEvent) {
	switch event.Type {
	case models.ExecutionTypeOrderFilled, models.ExecutionTypeOrderClosed:
	default:
		return
	}

	t.mu.Lock()
	pos, leg := t.findLocked(event)
	if pos == nil {
		if event.Type == models.ExecutionTypeOrderFilled && event.OrderID != 0 {
			// Нога исполнилась раньше регистрации пары.
			t.rememberFillLocked(event)
		}
		t.mu.Unlock()
		return
	}

	if event.Type == models.ExecutionTypeOrderFilled {
		// Рыночная нога исполнилась: запоминаем позицию и цену входа.
		if leg.PositionID == 0 {
			leg.PositionID = event.PositionID
		}
		if event.OpenPrice > 0 {
			leg.OpenPrice = event.OpenPrice
		}
		t.mu.Unlock()
		t.logEntry(pos.Symbol).WithField("position_id", leg.PositionID).
			WithField("open_price", leg.OpenPrice).Debug("Нога исполнена.")
		return
	}

	switch pos.State {
	case StateOpen:
		t.handleFirstCloseLocked(pos, leg, event)
	case StateOneLegClosed:
		t.handleFinalCloseLocked(pos, leg, event)
	default:
		t.mu.Unlock()
	}
}

func (t *Tracker) rememberFillLocked(event models.ExecutionEvent) {
	now := t.now()
	for orderID, fill := range t.fills {
		if now.Sub(fill.at) > fillRetention {
			delete(t.fills, orderID)
		}
	}
	t.fills[event.OrderID] = pendingFill{
		positionID: event.PositionID,
		openPrice:  event.OpenPrice,
		at:         now,
	}
}

func (t *Tracker) applyPendingFillLocked(leg *Leg) {
	fill, ok := t.fills[leg.OrderID]
	if !ok {
		return
	}
	if leg.PositionID == 0 {
		leg.PositionID = fill.positionID
	}
	if fill.openPrice > 0 {
		leg.OpenPrice = fill.openPrice
	}
	delete(t.fills, leg.OrderID)
}

func (t *Tracker) findLocked(event models.ExecutionEvent) (*Position, *Leg) {
	for _, pos := range t.active {
		if legMatches(&pos.Buy, event) {
			return pos, &pos.Buy
		}
		if legMatches(&pos.Sell, event) {
			return pos, &pos.Sell
		}
	}
	return nil, nil
}

func legMatches(leg *Leg, event models.ExecutionEvent) bool {
	if leg.PositionID != 0 && event.PositionID != 0 {
		return leg.PositionID == event.PositionID
	}
	return leg.OrderID != 0 && leg.OrderID == event.OrderID
}

// handleFirstCloseLocked: закрылась первая нога, выжившая объявляется
// победителем. Переход выполняется до отправки команды на стоп и не
// откатывается при её неудаче: позиция на сервере действительно закрыта.
func (t *Tracker) handleFirstCloseLocked(pos *Position, closed *Leg, event models.ExecutionEvent) {
	winner := &pos.Buy
	if closed == &pos.Buy {
		winner = &pos.Sell
	}

	pos.State = StateOneLegClosed
	pos.closedPositionID = closed.PositionID
	if pos.closedPositionID == 0 {
		pos.closedPositionID = event.PositionID
	}
	pos.loserPnL = event.GrossProfit
	pos.winnerSide = winner.Side

	symbol := pos.Symbol
	winnerCopy := *winner
	t.mu.Unlock()

	t.logEntry(symbol).WithFields(map[string]interface{}{
		"closed_side": closed.Side,
		"winner_side": winnerCopy.Side,
		"loser_pnl":   event.GrossProfit,
	}).Info("Первая нога закрыта, перенос стопа победителя в безубыток.")

	trailingTicks := int64(0)
	if settings, ok := t.settings.Symbol(symbol); ok {
		trailingTicks = settings.TrailingStopTicks
	}

	stopLoss := winnerCopy.OpenPrice
	mod := venue.PositionModification{
		StopLoss:              &stopLoss,
		TrailingStop:          true,
		TrailingDistanceTicks: trailingTicks,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.client.ModifyPosition(ctx, winnerCopy.AccountID, winnerCopy.PositionID, mod); err != nil {
		// Состояние не откатываем: источник истины — сервер.
		t.logEntry(symbol).WithError(err).WithField("position_id", winnerCopy.PositionID).
			Error("Не удалось перенести стоп победителя.")
	}
}

// handleFinalCloseLocked: закрылась вторая нога, пара завершена.
func (t *Tracker) handleFinalCloseLocked(pos *Position, closed *Leg, event models.ExecutionEvent) {
	if pos.closedPositionID != 0 && event.PositionID == pos.closedPositionID {
		// Повторная доставка закрытия первой ноги.
		t.mu.Unlock()
		return
	}

	duration := t.now().Sub(pos.CreatedAt)
	record := models.TradeRecord{
		Symbol:          pos.Symbol,
		Side:            pos.winnerSide,
		EntryPrice:      event.OpenPrice,
		ExitPrice:       event.ClosePrice,
		PnL:             pos.loserPnL + event.GrossProfit,
		DurationSeconds: int64(duration.Seconds()),
		Timestamp:       t.now(),
	}
	if record.EntryPrice == 0 {
		record.EntryPrice = closed.OpenPrice
	}

	pos.State = StateClosed
	delete(t.active, pos.Symbol)
	t.mu.Unlock()

	t.logEntry(record.Symbol).WithFields(map[string]interface{}{
		"pnl":      record.PnL,
		"duration": record.DurationSeconds,
	}).Info("Стрэдл завершён.")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.store.LogTrade(ctx, record); err != nil {
		t.logEntry(record.Symbol).WithError(err).Error("Не удалось записать сделку в журнал.")
	}
}
