package straddle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddlebot/internal/config"
	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"
)

type fakeModifier struct {
	mu    sync.Mutex
	calls []modifyCall
	err   error
}

type modifyCall struct {
	accountID  uint64
	positionID int64
	mod        venue.PositionModification
}

func (f *fakeModifier) ModifyPosition(ctx context.Context, accountID uint64, positionID int64, mod venue.PositionModification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, modifyCall{accountID: accountID, positionID: positionID, mod: mod})
	return f.err
}

type fakeJournal struct {
	mu      sync.Mutex
	records []models.TradeRecord
}

func (f *fakeJournal) LogTrade(ctx context.Context, rec models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func testSettings() *config.Settings {
	return config.NewSettings(map[string]config.SymbolSettings{
		"EURUSD": {Enabled: true, StopLossTicks: 100, TrailingStopTicks: 50, Volume: 0.1},
	})
}

func newTestTracker(t *testing.T) (*Tracker, *fakeModifier, *fakeJournal) {
	modifier := &fakeModifier{}
	journal := &fakeJournal{}
	tracker := NewTracker(modifier, journal, testSettings(), logger.New(logger.Config{Level: "error"}))
	return tracker, modifier, journal
}

func addPair(t *testing.T, tracker *Tracker) {
	t.Helper()
	require.NoError(t, tracker.AddStraddle("EURUSD",
		Leg{AccountID: 1, OrderID: 101, Side: models.TradeSideBuy},
		Leg{AccountID: 2, OrderID: 202, Side: models.TradeSideSell},
	))
}

func fillLegs(tracker *Tracker) {
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderFilled, OrderID: 101, PositionID: 1001, OpenPrice: 1.1000,
	})
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderFilled, OrderID: 202, PositionID: 2002, OpenPrice: 1.0998,
	})
}

func TestTrackerLifecycle(t *testing.T) {
	tracker, modifier, journal := newTestTracker(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tracker.now = func() time.Time {
		out := clock
		clock = clock.Add(30 * time.Second)
		return out
	}

	addPair(t, tracker)
	fillLegs(tracker)

	// BUY нога выбита стоп-лоссом: SELL объявлена победителем.
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 1001, GrossProfit: -50,
		OpenPrice: 1.1000, ClosePrice: 1.0900,
	})

	active := tracker.Active()
	require.Len(t, active, 1)
	assert.Equal(t, StateOneLegClosed, active[0].State)

	require.Len(t, modifier.calls, 1)
	call := modifier.calls[0]
	assert.Equal(t, uint64(2), call.accountID)
	assert.Equal(t, int64(2002), call.positionID)
	require.NotNil(t, call.mod.StopLoss)
	// Стоп победителя переносится в его цену входа.
	assert.InDelta(t, 1.0998, *call.mod.StopLoss, 1e-9)
	assert.True(t, call.mod.TrailingStop)
	assert.Equal(t, int64(50), call.mod.TrailingDistanceTicks)

	// Победитель закрывается трейлингом.
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 2002, GrossProfit: 80,
		OpenPrice: 1.0998, ClosePrice: 1.0918,
	})

	assert.Empty(t, tracker.Active())
	require.Len(t, journal.records, 1)
	record := journal.records[0]
	assert.Equal(t, "EURUSD", record.Symbol)
	assert.Equal(t, models.TradeSideSell, record.Side)
	assert.InDelta(t, 1.0998, record.EntryPrice, 1e-9)
	assert.InDelta(t, 1.0918, record.ExitPrice, 1e-9)
	// PnL пары: убыток проигравшей плюс результат победителя.
	assert.InDelta(t, 30.0, record.PnL, 1e-9)
	assert.Greater(t, record.DurationSeconds, int64(0))

	// Одна запись на пару, один перенос стопа.
	assert.Len(t, modifier.calls, 1)
}

func TestTrackerDuplicateCloseIsIdempotent(t *testing.T) {
	tracker, modifier, journal := newTestTracker(t)

	addPair(t, tracker)
	fillLegs(tracker)

	closeBuy := models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 1001, GrossProfit: -50,
	}
	tracker.HandleExecutionEvent(closeBuy)
	// Повторная доставка того же закрытия.
	tracker.HandleExecutionEvent(closeBuy)

	assert.Len(t, modifier.calls, 1)
	assert.Empty(t, journal.records)
	require.Len(t, tracker.Active(), 1)
	assert.Equal(t, StateOneLegClosed, tracker.Active()[0].State)
}

func TestTrackerModifyFailureDoesNotRollback(t *testing.T) {
	tracker, modifier, journal := newTestTracker(t)
	modifier.err = errors.New("обрыв")

	addPair(t, tracker)
	fillLegs(tracker)

	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 1001, GrossProfit: -50,
	})

	// Переход состояния сохранён: позиция на сервере действительно закрыта.
	require.Len(t, tracker.Active(), 1)
	assert.Equal(t, StateOneLegClosed, tracker.Active()[0].State)

	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 2002, GrossProfit: 80,
	})
	assert.Empty(t, tracker.Active())
	assert.Len(t, journal.records, 1)
}

func TestTrackerIgnoresForeignEvents(t *testing.T) {
	tracker, modifier, journal := newTestTracker(t)

	addPair(t, tracker)
	fillLegs(tracker)

	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 9999, GrossProfit: -10,
	})
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderAccepted, OrderID: 101,
	})

	assert.Empty(t, modifier.calls)
	assert.Empty(t, journal.records)
	assert.Equal(t, StateOpen, tracker.Active()[0].State)
}

func TestTrackerRejectsDuplicatePair(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	addPair(t, tracker)
	err := tracker.AddStraddle("EURUSD",
		Leg{AccountID: 1, OrderID: 301, Side: models.TradeSideBuy},
		Leg{AccountID: 2, OrderID: 302, Side: models.TradeSideSell},
	)
	require.ErrorIs(t, err, venue.ErrDuplicateStraddle)
}

func TestTrackerFillsBeforeRegistration(t *testing.T) {
	tracker, modifier, _ := newTestTracker(t)

	// Рыночные ноги исполняются в окне между размещением и регистрацией
	// пары: исполнения приходят до AddStraddle.
	fillLegs(tracker)
	addPair(t, tracker)

	active := tracker.Active()
	require.Len(t, active, 1)
	assert.Equal(t, int64(1001), active[0].Buy.PositionID)
	assert.InDelta(t, 1.1000, active[0].Buy.OpenPrice, 1e-9)
	assert.Equal(t, int64(2002), active[0].Sell.PositionID)
	assert.InDelta(t, 1.0998, active[0].Sell.OpenPrice, 1e-9)

	// Перенос стопа в безубыток указывает на реальную позицию и цену
	// входа победителя, а не на нулевые значения.
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderClosed, PositionID: 1001, GrossProfit: -50,
	})

	require.Len(t, modifier.calls, 1)
	call := modifier.calls[0]
	assert.Equal(t, int64(2002), call.positionID)
	require.NotNil(t, call.mod.StopLoss)
	assert.InDelta(t, 1.0998, *call.mod.StopLoss, 1e-9)
}

func TestTrackerStaleFillsExpire(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }

	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderFilled, OrderID: 900, PositionID: 9000, OpenPrice: 1.5,
	})

	// Спустя больше минуты старое исполнение уже не сверяется с новой парой.
	clock = clock.Add(2 * time.Minute)
	tracker.HandleExecutionEvent(models.ExecutionEvent{
		Type: models.ExecutionTypeOrderFilled, OrderID: 901, PositionID: 9010, OpenPrice: 1.6,
	})

	require.NoError(t, tracker.AddStraddle("EURUSD",
		Leg{AccountID: 1, OrderID: 900, Side: models.TradeSideBuy},
		Leg{AccountID: 2, OrderID: 901, Side: models.TradeSideSell},
	))

	active := tracker.Active()
	require.Len(t, active, 1)
	assert.Zero(t, active[0].Buy.PositionID)
	assert.Equal(t, int64(9010), active[0].Sell.PositionID)
}

func TestTrackerFilledLearnsPositionAndPrice(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	addPair(t, tracker)
	fillLegs(tracker)

	active := tracker.Active()
	require.Len(t, active, 1)
	assert.Equal(t, int64(1001), active[0].Buy.PositionID)
	assert.InDelta(t, 1.1000, active[0].Buy.OpenPrice, 1e-9)
	assert.Equal(t, int64(2002), active[0].Sell.PositionID)
	assert.InDelta(t, 1.0998, active[0].Sell.OpenPrice, 1e-9)
}
