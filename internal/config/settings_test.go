package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsUpdate(t *testing.T) {
	s := NewSettings(map[string]SymbolSettings{
		"EURUSD": {Enabled: true, StopLossTicks: 100, TrailingStopTicks: 50, Volume: 0.1},
	})

	ok := s.Update("EURUSD", func(sym *SymbolSettings) {
		sym.StopLossTicks = 80
		sym.Enabled = false
	})
	require.True(t, ok)

	sym, found := s.Symbol("EURUSD")
	require.True(t, found)
	assert.Equal(t, int64(80), sym.StopLossTicks)
	assert.False(t, sym.Enabled)
	// Нетронутые поля сохраняются.
	assert.Equal(t, int64(50), sym.TrailingStopTicks)

	assert.False(t, s.Update("UNKNOWN", func(sym *SymbolSettings) {}))
}

func TestSettingsAllReturnsCopy(t *testing.T) {
	s := NewSettings(map[string]SymbolSettings{
		"EURUSD": {Enabled: true, Volume: 0.1},
	})

	all := s.All()
	all["EURUSD"] = SymbolSettings{Volume: 99}

	sym, _ := s.Symbol("EURUSD")
	assert.InDelta(t, 0.1, sym.Volume, 1e-9)
}

func TestSettingsUnknownSymbol(t *testing.T) {
	s := NewSettings(nil)
	_, found := s.Symbol("EURUSD")
	assert.False(t, found)
}
