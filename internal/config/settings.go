package config

import "sync"

// Settings хранит изменяемые настройки по символам: команды чата могут
// менять стоп-лосс, трейлинг и объём на лету, ядро читает актуальные значения.
type Settings struct {
	mu      sync.RWMutex
	symbols map[string]SymbolSettings
}

func NewSettings(symbols map[string]SymbolSettings) *Settings {
	copied := make(map[string]SymbolSettings, len(symbols))
	for name, s := range symbols {
		copied[name] = s
	}
	return &Settings{symbols: copied}
}

func (s *Settings) Symbol(name string) (SymbolSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.symbols[name]
	return val, ok
}

func (s *Settings) All() map[string]SymbolSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string]SymbolSettings, len(s.symbols))
	for name, val := range s.symbols {
		copied[name] = val
	}
	return copied
}

func (s *Settings) Update(name string, fn func(*SymbolSettings)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.symbols[name]
	if !ok {
		return false
	}
	fn(&val)
	s.symbols[name] = val
	return true
}
