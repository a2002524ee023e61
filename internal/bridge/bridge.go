package bridge

import (
	"context"

	"straddlebot/internal/logger"
)

// Bridge переносит вызовы из домена оркестрации (чат, стратегия) в домен
// соединения: очередь с единственным потребителем, каждый вызов исполняется
// ровно один раз в порядке поступления, результат доставляется ровно один раз.
type Bridge struct {
	calls chan call
	done  chan struct{}
	log   *logger.Logger
}

type call struct {
	ctx context.Context
	fn  func() (interface{}, error)
	out chan outcome
}

type outcome struct {
	value interface{}
	err   error
}

func New(buffer int, log *logger.Logger) *Bridge {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bridge{
		calls: make(chan call, buffer),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run исполняет вызовы до отмены контекста. Запускается одной горутиной.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.drain(ctx.Err())
			return
		case c := <-b.calls:
			b.execute(c)
		}
	}
}

func (b *Bridge) execute(c call) {
	if err := c.ctx.Err(); err != nil {
		c.out <- outcome{err: err}
		return
	}
	value, err := c.fn()
	c.out <- outcome{value: value, err: err}
}

func (b *Bridge) drain(err error) {
	for {
		select {
		case c := <-b.calls:
			c.out <- outcome{err: err}
		default:
			return
		}
	}
}

// Do ставит вызов в очередь и ждёт его результат.
func (b *Bridge) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	c := call{
		ctx: ctx,
		fn:  fn,
		out: make(chan outcome, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, context.Canceled
	case b.calls <- c:
	}

	select {
	case res := <-c.out:
		return res.value, res.err
	case <-b.done:
		// Исполнитель остановлен: очередь уже слита.
		select {
		case res := <-c.out:
			return res.value, res.err
		default:
			return nil, context.Canceled
		}
	}
}

// Void — удобная обёртка для вызовов без результата.
func (b *Bridge) Void(ctx context.Context, fn func() error) error {
	_, err := b.Do(ctx, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
