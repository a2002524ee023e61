package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Venue    VenueConfig
	Telegram TelegramConfig
	Storage  StorageConfig
	Runtime  RuntimeConfig
	Symbols  map[string]SymbolSettings
}

type VenueConfig struct {
	WSUrl          string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	AccessToken    string
	RefreshToken   string
	RequestTimeout time.Duration
	AuthTimeout    time.Duration
}

type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout int
}

type StorageConfig struct {
	DBFile string
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type SymbolSettings struct {
	Enabled           bool    `json:"enabled"`
	StopLossTicks     int64   `json:"stop_loss_ticks"`
	TrailingStopTicks int64   `json:"trailing_stop_ticks"`
	Volume            float64 `json:"volume"`
}

func Load() (*Config, error) {

	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	viper.SetDefault("venue.request_timeout", "10s")
	viper.SetDefault("venue.auth_timeout", "10s")
	viper.SetDefault("telegram.poll_timeout", 25)
	viper.SetDefault("storage.db_file", "trades.db")

	cfg.Venue = VenueConfig{
		WSUrl:          viper.GetString("venue.ws_url"),
		TokenURL:       viper.GetString("venue.token_url"),
		ClientID:       envSub("venue.client_id"),
		ClientSecret:   envSub("venue.client_secret"),
		AccessToken:    envSub("venue.access_token"),
		RefreshToken:   envSub("venue.refresh_token"),
		RequestTimeout: viper.GetDuration("venue.request_timeout"),
		AuthTimeout:    viper.GetDuration("venue.auth_timeout"),
	}

	cfg.Telegram = TelegramConfig{
		Token:       envSub("telegram.token"),
		ChatID:      viper.GetInt64("telegram.chat_id"),
		PollTimeout: viper.GetInt("telegram.poll_timeout"),
	}

	cfg.Storage = StorageConfig{
		DBFile: viper.GetString("storage.db_file"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	cfg.Symbols = map[string]SymbolSettings{}
	for name := range viper.GetStringMap("symbols") {
		prefix := "symbols." + name
		cfg.Symbols[strings.ToUpper(name)] = SymbolSettings{
			Enabled:           viper.GetBool(prefix + ".enabled"),
			StopLossTicks:     viper.GetInt64(prefix + ".stop_loss_ticks"),
			TrailingStopTicks: viper.GetInt64(prefix + ".trailing_stop_ticks"),
			Volume:            viper.GetFloat64(prefix + ".volume"),
		}
	}

	return cfg, nil
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
