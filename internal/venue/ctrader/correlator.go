package ctrader

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Correlator сопоставляет ответы сервера с отправленными запросами.
// Запросы с clientMsgId ждут ответ по идентификатору; legacy-запросы,
// на которые сервер отвечает без эха идентификатора, ждут по типу кадра,
// причём не более одного такого запроса на тип одновременно.
type Correlator struct {
	mu     sync.Mutex
	seq    uint64
	byID   map[string]*Pending
	byKind map[uint32]*Pending
	subs   []func(Frame)
	log    *logger.Logger
}

type Pending struct {
	corr  *Correlator
	id    string
	kind  uint32
	timer *time.Timer
	done  bool
	ch    chan pendingResult
}

type pendingResult struct {
	frame Frame
	err   error
}

func NewCorrelator(log *logger.Logger) *Correlator {
	return &Correlator{
		byID:   map[string]*Pending{},
		byKind: map[uint32]*Pending{},
		log:    log,
	}
}

func (c *Correlator) logEntry() *logrus.Entry {
	return c.log.WithComponent("correlator")
}

// Track регистрирует запрос с корреляцией по clientMsgId.
func (c *Correlator) Track(timeout time.Duration) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	id := strconv.FormatUint(c.seq, 10) + "-" + raw[:12]

	p := &Pending{
		corr: c,
		id:   id,
		ch:   make(chan pendingResult, 1),
	}
	c.byID[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		p.settle(Frame{}, venue.ErrTimeout)
	})
	return p
}

// TrackKind регистрирует legacy-запрос, ожидающий кадр указанного типа.
// Повторный вызов при уже ожидающем запросе того же типа отклоняется,
// иначе первый вызов повис бы навсегда.
func (c *Correlator) TrackKind(kind uint32, timeout time.Duration) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.byKind[kind]; busy {
		return nil, venue.ErrConcurrentRequestConflict
	}

	c.seq++
	p := &Pending{
		corr: c,
		kind: kind,
		ch:   make(chan pendingResult, 1),
	}
	c.byKind[kind] = p
	p.timer = time.AfterFunc(timeout, func() {
		p.settle(Frame{}, venue.ErrTimeout)
	})
	return p, nil
}

func (c *Correlator) Subscribe(fn func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Dispatch вызывается из цикла чтения соединения, строго по порядку кадров.
func (c *Correlator) Dispatch(frame Frame) {
	switch frame.PayloadType {
	case PayloadErrorRes, PayloadOAErrorRes:
		c.dispatchError(frame)
		return
	case PayloadOrderErrorEvent:
		c.dispatchOrderError(frame)
		return
	}

	if frame.ClientMsgID != "" {
		c.mu.Lock()
		p, ok := c.byID[frame.ClientMsgID]
		c.mu.Unlock()
		if ok {
			p.settle(frame, nil)
			return
		}
		if !isUnsolicited(frame.PayloadType) {
			// Запоздавший ответ на запрос, который уже завершился по таймауту.
			c.logEntry().WithField("payload_type", frame.PayloadType).
				WithField("client_msg_id", frame.ClientMsgID).
				Debug("Ответ без ожидающего запроса, игнорируем.")
			return
		}
	}

	c.mu.Lock()
	p, ok := c.byKind[frame.PayloadType]
	c.mu.Unlock()
	if ok && !settlesKindWait(frame) {
		// Чужое событие исполнения (закрытие старой позиции) не является
		// ответом на размещение: только подписчикам.
		ok = false
	}
	if ok {
		p.settle(frame, nil)
	}

	if isUnsolicited(frame.PayloadType) {
		c.fanOut(frame)
		return
	}

	if !ok {
		c.logEntry().WithField("payload_type", frame.PayloadType).
			Debug("Кадр без ожидающего запроса, игнорируем.")
	}
}

func (c *Correlator) dispatchError(frame Frame) {
	var payload errorRes
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.logEntry().WithError(err).Warn("Не удалось разобрать кадр ошибки.")
		return
	}

	perr := &venue.ProtocolError{Code: payload.ErrorCode, Description: payload.Description}

	if frame.ClientMsgID != "" {
		c.mu.Lock()
		p, ok := c.byID[frame.ClientMsgID]
		c.mu.Unlock()
		if ok {
			p.settle(frame, perr)
			return
		}
	} else {
		// Ошибка без эха идентификатора может отвечать на legacy-запрос.
		c.mu.Lock()
		p, ok := c.byKind[PayloadExecutionEvent]
		c.mu.Unlock()
		if ok {
			p.settle(frame, perr)
			return
		}
	}

	c.logEntry().WithFields(map[string]interface{}{
		"code":        payload.ErrorCode,
		"description": payload.Description,
	}).Warn("Ошибка сервера без ожидающего запроса.")
}

func (c *Correlator) dispatchOrderError(frame Frame) {
	var payload orderErrorEvent
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.logEntry().WithError(err).Warn("Не удалось разобрать orderErrorEvent.")
		return
	}

	perr := &venue.ProtocolError{Code: payload.ErrorCode, Description: payload.Description}

	// Отклонение ордера приходит как orderErrorEvent: завершает ожидание
	// подтверждения размещения, если оно есть.
	c.mu.Lock()
	p, ok := c.byKind[PayloadExecutionEvent]
	c.mu.Unlock()
	if ok {
		p.settle(frame, perr)
		return
	}

	c.logEntry().WithFields(map[string]interface{}{
		"code":        payload.ErrorCode,
		"order_id":    payload.OrderID,
		"position_id": payload.PositionID,
		"description": payload.Description,
	}).Warn("Ошибка ордера без ожидающего запроса.")
}

func (c *Correlator) fanOut(frame Frame) {
	c.mu.Lock()
	subs := make([]func(Frame), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(frame)
	}
}

// FailAll завершает все ожидающие запросы одной ошибкой (обрыв соединения).
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pendings := make([]*Pending, 0, len(c.byID)+len(c.byKind))
	for _, p := range c.byID {
		pendings = append(pendings, p)
	}
	for _, p := range c.byKind {
		pendings = append(pendings, p)
	}
	c.mu.Unlock()

	for _, p := range pendings {
		p.settle(Frame{}, err)
	}
}

// settlesKindWait решает, завершает ли кадр ожидание по типу. Для событий
// исполнения ответом на размещение считаются только его исходы: прочие
// события того же типа кадра относятся к уже живущим позициям.
func settlesKindWait(frame Frame) bool {
	if frame.PayloadType != PayloadExecutionEvent {
		return true
	}
	var payload struct {
		ExecutionType string `json:"executionType"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return false
	}
	switch models.ExecutionType(payload.ExecutionType) {
	case models.ExecutionTypeOrderAccepted, models.ExecutionTypeOrderRejected, models.ExecutionTypeOrderExpired:
		return true
	}
	return false
}

func isUnsolicited(payloadType uint32) bool {
	switch payloadType {
	case PayloadExecutionEvent, PayloadSpotEvent, PayloadAccountsTokenInvalidatedEvent:
		return true
	}
	return false
}

func (p *Pending) ID() string {
	return p.id
}

// settle завершает запрос ровно один раз: ответом, таймаутом или обрывом.
// Проигравшая сторона гонки становится no-op.
func (p *Pending) settle(frame Frame, err error) bool {
	c := p.corr
	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		return false
	}
	p.done = true
	if p.id != "" {
		delete(c.byID, p.id)
	} else {
		delete(c.byKind, p.kind)
	}
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- pendingResult{frame: frame, err: err}
	return true
}

func (p *Pending) Await(ctx context.Context) (Frame, error) {
	select {
	case res := <-p.ch:
		return res.frame, res.err
	case <-ctx.Done():
		p.settle(Frame{}, ctx.Err())
		// Запись могла успеть завершиться ответом до отмены.
		select {
		case res := <-p.ch:
			return res.frame, res.err
		default:
			return Frame{}, ctx.Err()
		}
	}
}
