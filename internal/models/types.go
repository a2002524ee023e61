package models

import (
	"encoding/json"
	"time"
)

type TradeSide string
type ExecutionType string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"

	ExecutionTypeOrderAccepted ExecutionType = "ORDER_ACCEPTED"
	ExecutionTypeOrderFilled   ExecutionType = "ORDER_FILLED"
	ExecutionTypeOrderClosed   ExecutionType = "ORDER_CLOSED"
	ExecutionTypeOrderRejected ExecutionType = "ORDER_REJECTED"
	ExecutionTypeOrderExpired  ExecutionType = "ORDER_EXPIRED"
)

func (s TradeSide) Opposite() TradeSide {
	if s == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

type TraderAccount struct {
	ID          uint64  `json:"id"`
	Login       int64   `json:"login"`
	IsLive      bool    `json:"is_live"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	MoneyDigits uint32  `json:"money_digits"`
}

type ExecutionEvent struct {
	AccountID   uint64          `json:"account_id"`
	Type        ExecutionType   `json:"type"`
	OrderID     int64           `json:"order_id"`
	PositionID  int64           `json:"position_id"`
	SymbolID    int64           `json:"symbol_id"`
	Side        TradeSide       `json:"side"`
	Volume      int64           `json:"volume"`
	OpenPrice   float64         `json:"open_price"`
	ClosePrice  float64         `json:"close_price"`
	GrossProfit float64         `json:"gross_profit"`
	Timestamp   time.Time       `json:"timestamp"`
	Raw         json.RawMessage `json:"-"`
}

type Symbol struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Digits  int32  `json:"digits"`
	Enabled bool   `json:"enabled"`
}

type TradeRecord struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            TradeSide `json:"side"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	PnL             float64   `json:"pnl"`
	DurationSeconds int64     `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}
