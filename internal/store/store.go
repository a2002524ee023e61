package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"straddlebot/internal/logger"
	"straddlebot/internal/models"

	_ "modernc.org/sqlite"
)

// Store — журнал завершённых сделок. Записи только добавляются и никогда
// не изменяются.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	pnl REAL NOT NULL,
	duration_seconds INTEGER NOT NULL,
	timestamp TEXT NOT NULL
);
`

func New(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Не удалось открыть базу сделок: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Не удалось создать таблицу сделок: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LogTrade(ctx context.Context, rec models.TradeRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (symbol, side, entry_price, exit_price, pnl, duration_seconds, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExitPrice, rec.PnL, rec.DurationSeconds, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("Не удалось записать сделку: %w", err)
	}

	s.log.WithComponent("store").WithFields(map[string]interface{}{
		"symbol": rec.Symbol,
		"pnl":    rec.PnL,
		"side":   rec.Side,
	}).Info("Сделка записана в журнал.")
	return nil
}

// GetAllTrades возвращает сделки от новых к старым.
func (s *Store) GetAllTrades(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, symbol, side, entry_price, exit_price, pnl, duration_seconds, timestamp
FROM trades ORDER BY timestamp DESC, id DESC
`)
	if err != nil {
		return nil, fmt.Errorf("Не удалось прочитать журнал сделок: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var side, ts string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice, &rec.PnL, &rec.DurationSeconds, &ts); err != nil {
			return nil, fmt.Errorf("Не удалось разобрать запись сделки: %w", err)
		}
		rec.Side = models.TradeSide(side)
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type Stats struct {
	Total    int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	trades, err := s.GetAllTrades(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(trades)}
	for _, t := range trades {
		if t.PnL > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.TotalPnL += t.PnL
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	}
	return stats, nil
}
