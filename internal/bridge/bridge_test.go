package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddlebot/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func TestBridgeExecutesInOrder(t *testing.T) {
	b := New(16, testLogger())

	// Очередь наполняется до запуска исполнителя: порядок исполнения
	// обязан совпасть с порядком постановки.
	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		n := i
		b.calls <- call{
			ctx: context.Background(),
			fn:  func() (interface{}, error) { results <- n; return nil, nil },
			out: make(chan outcome, 1),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := 0; i < 10; i++ {
		select {
		case n := <-results:
			assert.Equal(t, i, n)
		case <-time.After(2 * time.Second):
			t.Fatal("вызов не исполнен")
		}
	}
}

func TestBridgeReturnsValueAndError(t *testing.T) {
	b := New(0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	value, err := b.Do(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	_, err = b.Do(context.Background(), func() (interface{}, error) {
		return nil, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestBridgeSingleConsumer(t *testing.T) {
	b := New(32, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// Счётчик без собственной синхронизации: гонку поймает -race, если
	// вызовы исполняются более чем одной горутиной.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Void(context.Background(), func() error {
				counter++
				return nil
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestBridgeCancelledCallIsSkipped(t *testing.T) {
	b := New(8, testLogger())
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go b.Run(runCtx)

	callCtx, cancelCall := context.WithCancel(context.Background())
	cancelCall()

	executed := false
	err := b.Void(callCtx, func() error {
		executed = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, executed)
}

func TestBridgeStopDrainsQueue(t *testing.T) {
	b := New(8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	// Останавливаем исполнитель и убеждаемся, что ожидающий вызов
	// получает отказ, а не виснет навсегда.
	cancel()
	<-b.done

	err := b.Void(context.Background(), func() error { return nil })
	require.Error(t, err)
}
