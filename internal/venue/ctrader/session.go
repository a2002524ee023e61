package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"straddlebot/internal/logger"
	"straddlebot/internal/models"
	"straddlebot/internal/venue"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const heartbeatInterval = 10 * time.Second

// Session владеет одним постоянным соединением с торговым сервером:
// запись идёт через единственную горутину-писателя, чтение скармливает
// кадры коррелятору, торговые методы требуют авторизованного аккаунта.
type Session struct {
	url            string
	creds          *Credentials
	log            *logger.Logger
	corr           *Correlator
	auth           *Sequencer
	requestTimeout time.Duration
	authTimeout    time.Duration

	writeCh chan Frame

	mu           sync.Mutex
	conn         *websocket.Conn
	stopCh       chan struct{}
	stopOnce     *sync.Once
	symbols      map[string]int64
	onDisconnect func(error)

	execMu       sync.Mutex
	execHandlers []func(models.ExecutionEvent)
}

func New(url string, creds *Credentials, requestTimeout, authTimeout time.Duration, log *logger.Logger) *Session {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	if authTimeout <= 0 {
		authTimeout = 10 * time.Second
	}
	s := &Session{
		url:            url,
		creds:          creds,
		log:            log,
		corr:           NewCorrelator(log),
		requestTimeout: requestTimeout,
		authTimeout:    authTimeout,
		writeCh:        make(chan Frame, 64),
		symbols:        map[string]int64{},
	}
	s.auth = newSequencer(s)
	s.corr.Subscribe(s.handleUnsolicited)
	return s
}

func (s *Session) logEntry() *logrus.Entry {
	return s.log.WithComponent("ctrader_session")
}

func (s *Session) Auth() *Sequencer {
	return s.auth
}

// OnDisconnect регистрирует хук реконнекта: ядро не переподключается само,
// политика повторов остаётся снаружи.
func (s *Session) OnDisconnect(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// Connect устанавливает соединение и сразу запускает рукопожатие.
func (s *Session) Connect(ctx context.Context) error {
	s.logEntry().WithField("url", s.url).Info("Подключение к торговому серверу.")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к торговому серверу: %w", err)
	}

	stopCh := make(chan struct{})
	once := &sync.Once{}
	s.mu.Lock()
	s.conn = conn
	s.stopCh = stopCh
	s.stopOnce = once
	s.mu.Unlock()
	conn.SetReadLimit(2 << 20)

	go s.writeLoop(conn, stopCh, once)
	go s.readLoop(conn, stopCh, once)
	go s.heartbeatLoop(stopCh)

	s.logEntry().Info("Соединение установлено.")

	return s.auth.Authenticate(ctx)
}

func (s *Session) Close() error {
	s.mu.Lock()
	conn, stopCh, once := s.conn, s.stopCh, s.stopOnce
	s.mu.Unlock()
	if once == nil {
		return nil
	}
	s.teardown(conn, stopCh, once, nil)
	return nil
}

// teardown сносит ровно одно соединение: повторный Connect создаёт
// свежие stopCh и once, поэтому обрыв старого чтения не трогает новое.
func (s *Session) teardown(conn *websocket.Conn, stopCh chan struct{}, once *sync.Once, cause error) {
	once.Do(func() {
		close(stopCh)
		if conn != nil {
			_ = conn.Close()
		}

		s.corr.FailAll(venue.ErrConnectionLost)
		s.auth.Reset()

		s.mu.Lock()
		hook := s.onDisconnect
		s.mu.Unlock()

		if cause != nil {
			s.logEntry().WithError(cause).Warn("Соединение с торговым сервером потеряно.")
			if hook != nil {
				hook(cause)
			}
		}
	})
}

func (s *Session) writeLoop(conn *websocket.Conn, stopCh chan struct{}, once *sync.Once) {
	for {
		select {
		case <-stopCh:
			return
		case frame := <-s.writeCh:
			if err := conn.WriteJSON(frame); err != nil {
				s.teardown(conn, stopCh, once, fmt.Errorf("Ошибка записи: %w", err))
				return
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, stopCh chan struct{}, once *sync.Once) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.teardown(conn, stopCh, once, fmt.Errorf("Ошибка чтения: %w", err))
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logEntry().WithError(err).Warn("Не удалось разобрать кадр.")
			continue
		}

		if frame.PayloadType == PayloadHeartbeatEvent {
			continue
		}

		s.corr.Dispatch(frame)
	}
}

func (s *Session) heartbeatLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.enqueue(Frame{PayloadType: PayloadHeartbeatEvent})
		}
	}
}

func (s *Session) enqueue(frame Frame) error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()
	if stopCh == nil {
		return venue.ErrConnectionLost
	}

	select {
	case <-stopCh:
		return venue.ErrConnectionLost
	case s.writeCh <- frame:
		return nil
	}
}

// request отправляет запрос с корреляцией по clientMsgId и ждёт ответ.
func (s *Session) request(ctx context.Context, payloadType uint32, payload any, timeout time.Duration) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("Не удалось подготовить запрос: %w", err)
	}

	p := s.corr.Track(timeout)
	frame := Frame{
		ClientMsgID: p.ID(),
		PayloadType: payloadType,
		Payload:     raw,
	}
	if err := s.enqueue(frame); err != nil {
		p.settle(Frame{}, err)
		return Frame{}, err
	}
	return p.Await(ctx)
}

// requestKind отправляет legacy-запрос, ответ на который сервер присылает
// кадром заданного типа без эха clientMsgId.
func (s *Session) requestKind(ctx context.Context, payloadType uint32, payload any, responseKind uint32, timeout time.Duration) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("Не удалось подготовить запрос: %w", err)
	}

	p, err := s.corr.TrackKind(responseKind, timeout)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{
		PayloadType: payloadType,
		Payload:     raw,
	}
	if err := s.enqueue(frame); err != nil {
		p.settle(Frame{}, err)
		return Frame{}, err
	}
	return p.Await(ctx)
}

func (s *Session) requireAuthorized(accountID uint64) error {
	if !s.auth.Authorized(accountID) {
		return venue.ErrNotAuthorized
	}
	return nil
}

func (s *Session) GetTraderAccounts(ctx context.Context) ([]models.TraderAccount, error) {
	accounts := s.auth.Accounts()
	if len(accounts) == 0 {
		return nil, venue.ErrNoTradingAccounts
	}
	return accounts, nil
}

func (s *Session) GetAccountBalance(ctx context.Context, accountID uint64) (float64, error) {
	if err := s.requireAuthorized(accountID); err != nil {
		return 0, err
	}

	frame, err := s.request(ctx, PayloadTraderReq, traderReq{CtidTraderAccountID: accountID}, s.requestTimeout)
	if err != nil {
		return 0, err
	}

	var res traderRes
	if err := json.Unmarshal(frame.Payload, &res); err != nil {
		return 0, fmt.Errorf("Не удалось разобрать баланс: %w", err)
	}

	return scaledMoney(res.Trader.Balance, res.Trader.MoneyDigits), nil
}

func (s *Session) GetSymbols(ctx context.Context, accountID uint64) ([]models.Symbol, error) {
	if err := s.requireAuthorized(accountID); err != nil {
		return nil, err
	}

	frame, err := s.request(ctx, PayloadSymbolsListReq, symbolsListReq{CtidTraderAccountID: accountID}, s.requestTimeout)
	if err != nil {
		return nil, err
	}

	var res symbolsListRes
	if err := json.Unmarshal(frame.Payload, &res); err != nil {
		return nil, fmt.Errorf("Не удалось разобрать список символов: %w", err)
	}

	out := make([]models.Symbol, 0, len(res.Symbol))
	s.mu.Lock()
	for _, sym := range res.Symbol {
		s.symbols[sym.SymbolName] = sym.SymbolID
		out = append(out, models.Symbol{
			ID:      sym.SymbolID,
			Name:    sym.SymbolName,
			Digits:  sym.Digits,
			Enabled: sym.Enabled,
		})
	}
	s.mu.Unlock()

	return out, nil
}

// SymbolID возвращает идентификатор символа из загруженного каталога.
func (s *Session) SymbolID(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.symbols[name]
	return id, ok
}

// PlaceOrder размещает рыночный ордер. Сервер подтверждает размещение
// событием исполнения без эха clientMsgId, поэтому одновременно может
// ожидаться только один ордер на сессию.
func (s *Session) PlaceOrder(ctx context.Context, accountID uint64, symbolID int64, side models.TradeSide, volume int64, stopLossTicks int64) (models.ExecutionEvent, error) {
	if err := s.requireAuthorized(accountID); err != nil {
		return models.ExecutionEvent{}, err
	}

	req := newOrderReq{
		CtidTraderAccountID: accountID,
		SymbolID:            symbolID,
		OrderType:           "MARKET",
		TradeSide:           string(side),
		Volume:              volume,
		RelativeStopLoss:    stopLossTicks,
	}

	frame, err := s.requestKind(ctx, PayloadNewOrderReq, req, PayloadExecutionEvent, s.requestTimeout)
	if err != nil {
		return models.ExecutionEvent{}, err
	}

	event, err := parseExecutionEvent(frame)
	if err != nil {
		return models.ExecutionEvent{}, err
	}
	if event.Type == models.ExecutionTypeOrderRejected || event.Type == models.ExecutionTypeOrderExpired {
		return event, &venue.ProtocolError{Code: string(event.Type), Description: "Ордер отклонён сервером."}
	}
	return event, nil
}

// ModifyPosition переносит стоп-лосс и включает трейлинг. Подтверждение
// на уровне провода не запрашивается: ошибки приходят orderErrorEvent
// и логируются коррелятором.
func (s *Session) ModifyPosition(ctx context.Context, accountID uint64, positionID int64, mod venue.PositionModification) error {
	if err := s.requireAuthorized(accountID); err != nil {
		return err
	}

	req := amendPositionSLTPReq{
		CtidTraderAccountID:  accountID,
		PositionID:           positionID,
		StopLoss:             mod.StopLoss,
		TakeProfit:           mod.TakeProfit,
		TrailingStopLoss:     mod.TrailingStop,
		TrailingStopDistance: mod.TrailingDistanceTicks,
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("Не удалось подготовить запрос: %w", err)
	}

	s.log.WithPosition(positionID).WithFields(map[string]interface{}{
		"stop_loss":     mod.StopLoss,
		"trailing":      mod.TrailingStop,
		"trailing_dist": mod.TrailingDistanceTicks,
	}).Info("Изменение позиции.")

	return s.enqueue(Frame{PayloadType: PayloadAmendPositionSLTPReq, Payload: raw})
}

func (s *Session) SubscribeSpots(ctx context.Context, accountID uint64, symbolIDs []int64) error {
	if err := s.requireAuthorized(accountID); err != nil {
		return err
	}

	_, err := s.request(ctx, PayloadSubscribeSpotsReq, subscribeSpotsReq{
		CtidTraderAccountID: accountID,
		SymbolID:            symbolIDs,
	}, s.requestTimeout)
	return err
}

// SubscribeExecutionEvents регистрирует обработчик событий исполнения.
// Обработчики вызываются строго в порядке прихода кадров.
func (s *Session) SubscribeExecutionEvents(handler func(models.ExecutionEvent)) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.execHandlers = append(s.execHandlers, handler)
}

func (s *Session) handleUnsolicited(frame Frame) {
	switch frame.PayloadType {
	case PayloadExecutionEvent:
		event, err := parseExecutionEvent(frame)
		if err != nil {
			s.logEntry().WithError(err).Warn("Не удалось разобрать событие исполнения.")
			return
		}
		s.execMu.Lock()
		handlers := make([]func(models.ExecutionEvent), len(s.execHandlers))
		copy(handlers, s.execHandlers)
		s.execMu.Unlock()
		for _, fn := range handlers {
			fn(event)
		}
	case PayloadSpotEvent:
		s.logEntry().Debug("Котировка.")
	case PayloadAccountsTokenInvalidatedEvent:
		s.logEntry().Warn("Токен доступа отозван сервером.")
	}
}

func parseExecutionEvent(frame Frame) (models.ExecutionEvent, error) {
	var payload executionEventPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return models.ExecutionEvent{}, fmt.Errorf("Не удалось разобрать событие исполнения: %w", err)
	}

	event := models.ExecutionEvent{
		AccountID:  payload.CtidTraderAccountID,
		Type:       models.ExecutionType(payload.ExecutionType),
		OrderID:    payload.Order.OrderID,
		PositionID: payload.Position.PositionID,
		SymbolID:   payload.Order.TradeData.SymbolID,
		Side:       models.TradeSide(payload.Order.TradeData.TradeSide),
		Volume:     payload.Order.TradeData.Volume,
		Raw:        frame.Payload,
	}
	if payload.Timestamp > 0 {
		event.Timestamp = time.UnixMilli(payload.Timestamp)
	} else {
		event.Timestamp = time.Now()
	}

	switch event.Type {
	case models.ExecutionTypeOrderClosed:
		event.OpenPrice = payload.Deal.ClosePositionDetail.EntryPrice
		event.ClosePrice = payload.Deal.ExecutionPrice
		digits := payload.Deal.ClosePositionDetail.MoneyDigits
		event.GrossProfit = scaledMoney(payload.Deal.ClosePositionDetail.GrossProfit, digits)
	default:
		event.OpenPrice = payload.Deal.ExecutionPrice
		if event.OpenPrice == 0 {
			event.OpenPrice = payload.Position.Price
		}
	}

	return event, nil
}

func scaledMoney(value int64, digits uint32) float64 {
	if digits == 0 {
		digits = 2
	}
	scale := 1.0
	for i := uint32(0); i < digits; i++ {
		scale *= 10
	}
	return float64(value) / scale
}

var _ venue.Session = (*Session)(nil)
