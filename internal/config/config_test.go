package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(nil)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "ws://localhost:8000", cfg.Realtime.WSURL)
	require.Equal(t, []string{"general"}, cfg.Realtime.Rooms)
	require.Equal(t, 3*time.Second, cfg.Realtime.ReconnectInitial)
	require.Equal(t, 30*time.Second, cfg.Realtime.ReconnectMax)
	require.Equal(t, 3*time.Second, cfg.Realtime.TypingTTL)
	require.Equal(t, 50, cfg.Realtime.HistoryLimit)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Empty(t, cfg.Cache.Dir)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom([]string{
		"PORT=127.0.0.1:9090",
		"REALTIME_WS_URL=wss://pm.example.com/",
		"REALTIME_API_URL=https://pm.example.com",
		"REALTIME_TOKEN= abc ",
		"REALTIME_ROOMS=dev, ops,,dev",
		"REALTIME_RECONNECT_INITIAL=1s",
		"REALTIME_RECONNECT_MAX=10s",
		"REALTIME_HISTORY_LIMIT=20",
		"REALTIME_CACHE_DIR=/tmp/rt",
		"LOG_LEVEL=debug",
	})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	require.Equal(t, "wss://pm.example.com", cfg.Realtime.WSURL)
	require.Equal(t, "abc", cfg.Realtime.Token)
	require.Equal(t, []string{"dev", "ops"}, cfg.Realtime.Rooms)
	require.Equal(t, time.Second, cfg.Realtime.ReconnectInitial)
	require.Equal(t, 20, cfg.Realtime.HistoryLimit)
	require.Equal(t, "/tmp/rt", cfg.Cache.Dir)
	require.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][]string{
		"port with space":   {"PORT=80 80"},
		"http channel url":  {"REALTIME_WS_URL=http://localhost:8000"},
		"bad room":          {"REALTIME_ROOMS=a b"},
		"max below initial": {"REALTIME_RECONNECT_INITIAL=10s", "REALTIME_RECONNECT_MAX=5s"},
		"history limit":     {"REALTIME_HISTORY_LIMIT=0"},
		"log level":         {"LOG_LEVEL=verbose"},
		"bad duration":      {"REALTIME_TYPING_TTL=soon"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			require.Error(t, err)
		})
	}
}
