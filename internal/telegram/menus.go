package telegram

import (
	"fmt"
	"sort"
	"strings"

	"straddlebot/internal/config"
	"straddlebot/internal/models"
	"straddlebot/internal/store"
	"straddlebot/internal/straddle"
)

func mainMenuText() string {
	return strings.Join([]string{
		"🤖 *Стрэдл-бот*",
		"",
		"/authorize <код> <redirect_uri> — обменять код авторизации на токены",
		"/accounts — список торговых счетов",
		"/select <id> <id> — выбрать и авторизовать два счёта",
		"/straddle <символ> — открыть стрэдл",
		"/active — активные стрэдлы",
		"/stats — статистика сделок",
		"/history — последние сделки",
		"/settings — настройки символов",
		"/toggle <символ> — включить/выключить символ",
		"/setsl <символ> <тики> — стоп-лосс",
		"/setts <символ> <тики> — трейлинг-стоп",
		"/setvol <символ> <лоты> — объём",
	}, "\n")
}

func accountsText(accounts []models.TraderAccount, selected []uint64, balances map[uint64]float64) string {
	if len(accounts) == 0 {
		return "Счетов нет. Сначала /authorize."
	}

	chosen := make(map[uint64]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}

	var sb strings.Builder
	sb.WriteString("💼 *Торговые счета*\n")
	for _, acc := range accounts {
		mode := "демо"
		if acc.IsLive {
			mode = "реал"
		}
		mark := "  "
		if chosen[acc.ID] {
			mark = "▶️"
		}
		sb.WriteString(fmt.Sprintf("%s `%d` — логин %d, %s", mark, acc.ID, acc.Login, mode))
		if balance, ok := balances[acc.ID]; ok {
			sb.WriteString(fmt.Sprintf(", %.2f %s", balance, acc.Currency))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func activeText(positions []straddle.Position) string {
	if len(positions) == 0 {
		return "Активных стрэдлов нет."
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})

	var sb strings.Builder
	sb.WriteString("📈 *Активные стрэдлы*\n")
	for _, pos := range positions {
		sb.WriteString(fmt.Sprintf("• %s [%s] с %s\n", pos.Symbol, pos.State,
			pos.CreatedAt.Format("02.01 15:04:05")))
		sb.WriteString(fmt.Sprintf("  BUY поз. %d @ %.5f / SELL поз. %d @ %.5f\n",
			pos.Buy.PositionID, pos.Buy.OpenPrice, pos.Sell.PositionID, pos.Sell.OpenPrice))
	}
	return sb.String()
}

func statsText(stats store.Stats) string {
	if stats.Total == 0 {
		return "Сделок ещё не было."
	}
	return fmt.Sprintf(
		"📊 *Статистика*\nСделок: %d\nВ плюс: %d\nВ минус: %d\nВинрейт: %.1f%%\nИтог: %+.2f",
		stats.Total, stats.Wins, stats.Losses, stats.WinRate, stats.TotalPnL)
}

func historyText(trades []models.TradeRecord) string {
	if len(trades) == 0 {
		return "Сделок ещё не было."
	}
	if len(trades) > 10 {
		trades = trades[:10]
	}

	var sb strings.Builder
	sb.WriteString("🧾 *Последние сделки*\n")
	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s %s %s %.5f → %.5f, %+.2f, %ds\n",
			t.Timestamp.Format("02.01 15:04"), t.Symbol, t.Side,
			t.EntryPrice, t.ExitPrice, t.PnL, t.DurationSeconds))
	}
	return sb.String()
}

func settingsText(all map[string]config.SymbolSettings) string {
	if len(all) == 0 {
		return "Символы не настроены."
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("⚙️ *Настройки символов*\n")
	for _, name := range names {
		s := all[name]
		state := "⏸"
		if s.Enabled {
			state = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s %s — SL %d т., TS %d т., %.2f лота\n",
			state, name, s.StopLossTicks, s.TrailingStopTicks, s.Volume))
	}
	return sb.String()
}
