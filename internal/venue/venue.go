package venue

import (
	"context"
	"straddlebot/internal/models"
)

type PositionModification struct {
	StopLoss              *float64
	TakeProfit            *float64
	TrailingStop          bool
	TrailingDistanceTicks int64
}

type AuthState int32

const (
	AuthStateUnauthenticated AuthState = iota
	AuthStateAppAuthenticated
	AuthStateAccountAuthorized
)

func (s AuthState) String() string {
	switch s {
	case AuthStateAppAuthenticated:
		return "APP_AUTHENTICATED"
	case AuthStateAccountAuthorized:
		return "ACCOUNT_AUTHORIZED"
	default:
		return "UNAUTHENTICATED"
	}
}

type Session interface {
	Connect(ctx context.Context) error
	Close() error

	GetTraderAccounts(ctx context.Context) ([]models.TraderAccount, error)
	GetAccountBalance(ctx context.Context, accountID uint64) (float64, error)
	GetSymbols(ctx context.Context, accountID uint64) ([]models.Symbol, error)
	PlaceOrder(ctx context.Context, accountID uint64, symbolID int64, side models.TradeSide, volume int64, stopLossTicks int64) (models.ExecutionEvent, error)
	ModifyPosition(ctx context.Context, accountID uint64, positionID int64, mod PositionModification) error
	SubscribeSpots(ctx context.Context, accountID uint64, symbolIDs []int64) error
	SubscribeExecutionEvents(handler func(models.ExecutionEvent))
}
