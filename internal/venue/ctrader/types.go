package ctrader

import "encoding/json"

// Кадр протокола: тип полезной нагрузки плюс необязательный clientMsgId,
// по которому сервер возвращает ответ на конкретный запрос.
type Frame struct {
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	PayloadType uint32          `json:"payloadType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

const (
	PayloadErrorRes       uint32 = 50
	PayloadHeartbeatEvent uint32 = 51

	PayloadApplicationAuthReq uint32 = 2100
	PayloadApplicationAuthRes uint32 = 2101
	PayloadAccountAuthReq     uint32 = 2102
	PayloadAccountAuthRes     uint32 = 2103

	PayloadNewOrderReq          uint32 = 2106
	PayloadAmendPositionSLTPReq uint32 = 2110
	PayloadClosePositionReq     uint32 = 2111

	PayloadSymbolsListReq uint32 = 2114
	PayloadSymbolsListRes uint32 = 2115

	PayloadTraderReq uint32 = 2121
	PayloadTraderRes uint32 = 2122

	PayloadExecutionEvent    uint32 = 2126
	PayloadSubscribeSpotsReq uint32 = 2127
	PayloadSubscribeSpotsRes uint32 = 2128
	PayloadSpotEvent         uint32 = 2131
	PayloadOrderErrorEvent   uint32 = 2132

	PayloadOAErrorRes uint32 = 2142

	PayloadAccountsTokenInvalidatedEvent uint32 = 2147
	PayloadGetAccountsByAccessTokenReq   uint32 = 2149
	PayloadGetAccountsByAccessTokenRes   uint32 = 2150
)

type applicationAuthReq struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type getAccountsByAccessTokenReq struct {
	AccessToken string `json:"accessToken"`
}

type getAccountsByAccessTokenRes struct {
	CtidTraderAccount []struct {
		CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
		IsLive              bool   `json:"isLive"`
		TraderLogin         int64  `json:"traderLogin"`
	} `json:"ctidTraderAccount"`
}

type accountAuthReq struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	AccessToken         string `json:"accessToken"`
}

type traderReq struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
}

type traderRes struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	Trader              struct {
		Balance          int64  `json:"balance"`
		MoneyDigits      uint32 `json:"moneyDigits"`
		DepositAssetName string `json:"depositAssetName"`
	} `json:"trader"`
}

type symbolsListReq struct {
	CtidTraderAccountID    uint64 `json:"ctidTraderAccountId"`
	IncludeArchivedSymbols bool   `json:"includeArchivedSymbols"`
}

type symbolsListRes struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	Symbol              []struct {
		SymbolID   int64  `json:"symbolId"`
		SymbolName string `json:"symbolName"`
		Digits     int32  `json:"digits"`
		Enabled    bool   `json:"enabled"`
	} `json:"symbol"`
}

type newOrderReq struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	SymbolID            int64  `json:"symbolId"`
	OrderType           string `json:"orderType"`
	TradeSide           string `json:"tradeSide"`
	Volume              int64  `json:"volume"`
	RelativeStopLoss    int64  `json:"relativeStopLoss,omitempty"`
}

type amendPositionSLTPReq struct {
	CtidTraderAccountID   uint64   `json:"ctidTraderAccountId"`
	PositionID            int64    `json:"positionId"`
	StopLoss              *float64 `json:"stopLoss,omitempty"`
	TakeProfit            *float64 `json:"takeProfit,omitempty"`
	TrailingStopLoss      bool     `json:"trailingStopLoss,omitempty"`
	TrailingStopDistance  int64    `json:"trailingStopDistance,omitempty"`
	StopLossTriggerMethod string   `json:"stopLossTriggerMethod,omitempty"`
}

type subscribeSpotsReq struct {
	CtidTraderAccountID uint64  `json:"ctidTraderAccountId"`
	SymbolID            []int64 `json:"symbolId"`
}

type executionEventPayload struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	ExecutionType       string `json:"executionType"`
	Order               struct {
		OrderID   int64 `json:"orderId"`
		TradeData struct {
			SymbolID    int64  `json:"symbolId"`
			TradeSide   string `json:"tradeSide"`
			Volume      int64  `json:"volume"`
			OpenTimeRaw int64  `json:"openTimestamp"`
		} `json:"tradeData"`
	} `json:"order"`
	Position struct {
		PositionID int64   `json:"positionId"`
		Price      float64 `json:"price"`
	} `json:"position"`
	Deal struct {
		ExecutionPrice      float64 `json:"executionPrice"`
		ClosePositionDetail struct {
			EntryPrice  float64 `json:"entryPrice"`
			GrossProfit int64   `json:"grossProfit"`
			MoneyDigits uint32  `json:"moneyDigits"`
		} `json:"closePositionDetail"`
	} `json:"deal"`
	Timestamp int64 `json:"timestamp"`
}

type errorRes struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	ErrorCode           string `json:"errorCode"`
	Description         string `json:"description"`
}

type orderErrorEvent struct {
	CtidTraderAccountID uint64 `json:"ctidTraderAccountId"`
	ErrorCode           string `json:"errorCode"`
	OrderID             int64  `json:"orderId"`
	PositionID          int64  `json:"positionId"`
	Description         string `json:"description"`
}
