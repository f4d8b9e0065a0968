package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
)

// Config 聚合整个客户端的配置项。
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Cache    CacheConfig
	LogLevel string `validate:"oneof=DEBUG INFO WARN ERROR"`
}

// ServerConfig 描述本地状态 HTTP 服务配置。
type ServerConfig struct {
	Addr string `validate:"required"`
}

// RealtimeConfig describes the channels and the REST backend.
type RealtimeConfig struct {
	WSURL            string        `validate:"required,url"`
	APIURL           string        `validate:"required,url"`
	Token            string
	Rooms            []string      `validate:"dive,required"`
	ReconnectInitial time.Duration `validate:"gt=0"`
	ReconnectMax     time.Duration `validate:"gtefield=ReconnectInitial"`
	TypingTTL        time.Duration `validate:"gt=0"`
	HistoryLimit     int           `validate:"gte=1,lte=500"`
	PingInterval     time.Duration `validate:"gt=0"`
	ReadTimeout      time.Duration `validate:"gtfield=PingInterval"`
	WriteTimeout     time.Duration `validate:"gt=0"`
}

// CacheConfig 描述本地未读数缓存。Dir 为空时使用内存模式。
type CacheConfig struct {
	Dir string
}

// environment mirrors the raw variables.
type environment struct {
	Port             string        `env:"PORT,default=8080"`
	WSURL            string        `env:"REALTIME_WS_URL,default=ws://localhost:8000"`
	APIURL           string        `env:"REALTIME_API_URL,default=http://localhost:8000"`
	Token            string        `env:"REALTIME_TOKEN"`
	Rooms            string        `env:"REALTIME_ROOMS,default=general"`
	ReconnectInitial time.Duration `env:"REALTIME_RECONNECT_INITIAL,default=3s"`
	ReconnectMax     time.Duration `env:"REALTIME_RECONNECT_MAX,default=30s"`
	TypingTTL        time.Duration `env:"REALTIME_TYPING_TTL,default=3s"`
	HistoryLimit     int           `env:"REALTIME_HISTORY_LIMIT,default=50"`
	PingInterval     time.Duration `env:"REALTIME_PING_INTERVAL,default=25s"`
	ReadTimeout      time.Duration `env:"REALTIME_READ_TIMEOUT,default=60s"`
	WriteTimeout     time.Duration `env:"REALTIME_WRITE_TIMEOUT,default=10s"`
	CacheDir         string        `env:"REALTIME_CACHE_DIR"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	return LoadFrom(os.Environ())
}

// LoadFrom 从 KEY=VALUE 列表加载配置，便于测试。
func LoadFrom(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	var raw environment
	if err := env.Unmarshal(es, &raw); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	server, err := loadServerConfig(raw.Port)
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:   server,
		Realtime: realtime,
		Cache:    CacheConfig{Dir: strings.TrimSpace(raw.CacheDir)},
		LogLevel: strings.ToUpper(strings.TrimSpace(raw.LogLevel)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if u, _ := url.Parse(c.Realtime.WSURL); u == nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid REALTIME_WS_URL %q: scheme must be ws or wss", c.Realtime.WSURL)
	}
	if u, _ := url.Parse(c.Realtime.APIURL); u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid REALTIME_API_URL %q: scheme must be http or https", c.Realtime.APIURL)
	}
	return nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(port string) (ServerConfig, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func loadRealtimeConfig(raw environment) (RealtimeConfig, error) {
	rooms, err := ParseRooms(raw.Rooms)
	if err != nil {
		return RealtimeConfig{}, err
	}

	return RealtimeConfig{
		WSURL:            strings.TrimRight(strings.TrimSpace(raw.WSURL), "/"),
		APIURL:           strings.TrimRight(strings.TrimSpace(raw.APIURL), "/"),
		Token:            strings.TrimSpace(raw.Token),
		Rooms:            rooms,
		ReconnectInitial: raw.ReconnectInitial,
		ReconnectMax:     raw.ReconnectMax,
		TypingTTL:        raw.TypingTTL,
		HistoryLimit:     raw.HistoryLimit,
		PingInterval:     raw.PingInterval,
		ReadTimeout:      raw.ReadTimeout,
		WriteTimeout:     raw.WriteTimeout,
	}, nil
}

// ParseRooms splits a comma separated room list, dropping blanks and
// duplicates.
func ParseRooms(list string) ([]string, error) {
	rooms := lo.Uniq(lo.Compact(lo.Map(strings.Split(list, ","), func(room string, _ int) string {
		return strings.TrimSpace(room)
	})))
	for _, room := range rooms {
		if !chat.ValidRoomName(room) {
			return nil, fmt.Errorf("invalid room name %q", room)
		}
	}
	return rooms, nil
}
