package ctrader

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddlebot/internal/logger"
	"straddlebot/internal/venue"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func TestCorrelatorSettlesByID(t *testing.T) {
	c := NewCorrelator(testLogger())

	p := c.Track(time.Second)
	frame := Frame{
		ClientMsgID: p.ID(),
		PayloadType: PayloadTraderRes,
		Payload:     json.RawMessage(`{"ctidTraderAccountId":7}`),
	}
	c.Dispatch(frame)

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PayloadTraderRes, got.PayloadType)
	assert.Equal(t, p.ID(), got.ClientMsgID)
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(testLogger())

	p := c.Track(10 * time.Millisecond)
	_, err := p.Await(context.Background())
	require.ErrorIs(t, err, venue.ErrTimeout)

	// Запоздавший ответ после таймаута не должен ничего ломать.
	c.Dispatch(Frame{ClientMsgID: p.ID(), PayloadType: PayloadTraderRes})
}

func TestCorrelatorKindConflict(t *testing.T) {
	c := NewCorrelator(testLogger())

	first, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = c.TrackKind(PayloadExecutionEvent, time.Second)
	require.ErrorIs(t, err, venue.ErrConcurrentRequestConflict)

	// После завершения первого запроса тип снова свободен.
	c.Dispatch(Frame{PayloadType: PayloadExecutionEvent, Payload: json.RawMessage(`{"executionType":"ORDER_ACCEPTED"}`)})
	_, err = first.Await(context.Background())
	require.NoError(t, err)

	second, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)
	second.settle(Frame{}, venue.ErrConnectionLost)
}

func TestCorrelatorKindSettleAlsoFansOut(t *testing.T) {
	c := NewCorrelator(testLogger())

	var seen []uint32
	c.Subscribe(func(f Frame) { seen = append(seen, f.PayloadType) })

	p, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)

	c.Dispatch(Frame{PayloadType: PayloadExecutionEvent, Payload: json.RawMessage(`{"executionType":"ORDER_ACCEPTED"}`)})

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PayloadExecutionEvent, got.PayloadType)
	// Подтверждение ордера одновременно остаётся событием для трекера.
	assert.Equal(t, []uint32{PayloadExecutionEvent}, seen)
}

func TestCorrelatorUnsolicitedOrder(t *testing.T) {
	c := NewCorrelator(testLogger())

	var order []int64
	c.Subscribe(func(f Frame) {
		var payload executionEventPayload
		require.NoError(t, json.Unmarshal(f.Payload, &payload))
		order = append(order, payload.Order.OrderID)
	})

	for i := int64(1); i <= 5; i++ {
		payload, _ := json.Marshal(map[string]interface{}{"order": map[string]interface{}{"orderId": i}})
		c.Dispatch(Frame{PayloadType: PayloadExecutionEvent, Payload: payload})
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
}

func TestCorrelatorForeignExecutionDoesNotSettleOrderWait(t *testing.T) {
	c := NewCorrelator(testLogger())

	var seen []string
	c.Subscribe(func(f Frame) {
		var payload executionEventPayload
		require.NoError(t, json.Unmarshal(f.Payload, &payload))
		seen = append(seen, payload.ExecutionType)
	})

	p, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)

	// Закрытие старой позиции приходит, пока ждём подтверждение
	// размещения: это событие не ответ на новый ордер.
	closed, _ := json.Marshal(map[string]interface{}{
		"executionType": "ORDER_CLOSED",
		"order":         map[string]interface{}{"orderId": 999},
		"position":      map[string]interface{}{"positionId": 7777},
	})
	c.Dispatch(Frame{PayloadType: PayloadExecutionEvent, Payload: closed})

	accepted, _ := json.Marshal(map[string]interface{}{
		"executionType": "ORDER_ACCEPTED",
		"order":         map[string]interface{}{"orderId": 501},
	})
	c.Dispatch(Frame{PayloadType: PayloadExecutionEvent, Payload: accepted})

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	var payload executionEventPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "ORDER_ACCEPTED", payload.ExecutionType)
	assert.Equal(t, int64(501), payload.Order.OrderID)

	// Оба события дошли до подписчиков в порядке прихода.
	assert.Equal(t, []string{"ORDER_CLOSED", "ORDER_ACCEPTED"}, seen)
}

func TestCorrelatorErrorWithoutIDSettlesKindWait(t *testing.T) {
	c := NewCorrelator(testLogger())

	p, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)

	payload, _ := json.Marshal(errorRes{ErrorCode: "TRADING_DISABLED", Description: "торговля запрещена"})
	c.Dispatch(Frame{PayloadType: PayloadErrorRes, Payload: payload})

	_, err = p.Await(context.Background())
	require.True(t, venue.IsProtocolCode(err, "TRADING_DISABLED"))
}

func TestCorrelatorErrorFrame(t *testing.T) {
	c := NewCorrelator(testLogger())

	p := c.Track(time.Second)
	payload, _ := json.Marshal(errorRes{ErrorCode: "INVALID_REQUEST", Description: "плохой запрос"})
	c.Dispatch(Frame{ClientMsgID: p.ID(), PayloadType: PayloadErrorRes, Payload: payload})

	_, err := p.Await(context.Background())
	var perr *venue.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "INVALID_REQUEST", perr.Code)
}

func TestCorrelatorOrderErrorSettlesOrderWait(t *testing.T) {
	c := NewCorrelator(testLogger())

	p, err := c.TrackKind(PayloadExecutionEvent, time.Second)
	require.NoError(t, err)

	payload, _ := json.Marshal(orderErrorEvent{ErrorCode: "NOT_ENOUGH_MONEY", Description: "мало средств"})
	c.Dispatch(Frame{PayloadType: PayloadOrderErrorEvent, Payload: payload})

	_, err = p.Await(context.Background())
	require.True(t, venue.IsProtocolCode(err, "NOT_ENOUGH_MONEY"))
}

func TestCorrelatorFailAll(t *testing.T) {
	c := NewCorrelator(testLogger())

	byID := c.Track(time.Minute)
	byKind, err := c.TrackKind(PayloadExecutionEvent, time.Minute)
	require.NoError(t, err)

	c.FailAll(venue.ErrConnectionLost)

	_, err = byID.Await(context.Background())
	require.ErrorIs(t, err, venue.ErrConnectionLost)
	_, err = byKind.Await(context.Background())
	require.ErrorIs(t, err, venue.ErrConnectionLost)
}

func TestCorrelatorSettleExactlyOnce(t *testing.T) {
	c := NewCorrelator(testLogger())

	p := c.Track(time.Minute)
	frame := Frame{ClientMsgID: p.ID(), PayloadType: PayloadTraderRes}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Dispatch(frame)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.FailAll(venue.ErrConnectionLost)
	}()
	wg.Wait()

	// Победить могла любая сторона, но строго одна.
	got, err := p.Await(context.Background())
	if err != nil {
		require.ErrorIs(t, err, venue.ErrConnectionLost)
	} else {
		assert.Equal(t, PayloadTraderRes, got.PayloadType)
	}

	select {
	case res := <-p.ch:
		t.Fatalf("повторное завершение запроса: %+v %v", res.frame, res.err)
	default:
	}
}

func TestCorrelatorAwaitHonorsContext(t *testing.T) {
	c := NewCorrelator(testLogger())

	p := c.Track(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Await(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}
