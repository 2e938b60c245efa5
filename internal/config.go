package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		CORSAllow    []string      `yaml:"cors_allow"`
	} `yaml:"server"`

	Match struct {
		Duration    time.Duration `yaml:"duration"`
		Maps        []string      `yaml:"maps"`
		FallbackMap string        `yaml:"fallback_map"`
		HotWeight   int           `yaml:"hot_weight"` // 剛選中的地圖權重
	} `yaml:"match"`

	RateLimit struct {
		MaxMessages int           `yaml:"max_messages"`
		Window      time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	Heartbeat struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"heartbeat"`

	Persistence struct {
		DeleteTimeout time.Duration `yaml:"delete_timeout"`
	} `yaml:"persistence"`

	Postgres struct {
		DSN      string `yaml:"dsn"` // 空字串 = 不接持久化服務
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"postgres"`

	Events struct {
		Driver         string        `yaml:"driver"` // "", "redis", "nats"
		PublishTimeout time.Duration `yaml:"publish_timeout"`
	} `yaml:"events"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"` // 空字串 = 不驗證 token
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 參考行為的預設值
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.CORSAllow = []string{"*"}

	cfg.Match.Duration = 120 * time.Second
	cfg.Match.Maps = []string{"classic", "night", "canyon"}
	cfg.Match.HotWeight = 100

	cfg.RateLimit.MaxMessages = 20
	cfg.RateLimit.Window = time.Second

	cfg.Heartbeat.Interval = 30 * time.Second

	cfg.Persistence.DeleteTimeout = 5 * time.Second

	cfg.Postgres.MaxConns = 10

	cfg.Events.PublishTimeout = 3 * time.Second

	cfg.Redis.Addr = "localhost:6379"
	cfg.NATS.URL = "nats://localhost:4222"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置：預設值 → YAML 檔案 → 環境變數
//
// 檔案不存在時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig 從 YAML 內容解析（疊加在預設值之上）
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() {
	if v := getEnvInt("PORT", 0); v > 0 {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("EVENTS_DRIVER"); v != "" {
		c.Events.Driver = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CORS_ALLOW"); v != "" {
		c.Server.CORSAllow = splitCSV(v)
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if len(c.Match.Maps) == 0 {
		return errors.New("config: match.maps must not be empty")
	}
	seen := make(map[string]bool, len(c.Match.Maps))
	for _, m := range c.Match.Maps {
		if m == "" {
			return errors.New("config: match.maps contains an empty name")
		}
		if seen[m] {
			return fmt.Errorf("config: duplicate map %q", m)
		}
		seen[m] = true
	}
	if c.Match.FallbackMap != "" && !seen[c.Match.FallbackMap] {
		return fmt.Errorf("config: fallback map %q is not in match.maps", c.Match.FallbackMap)
	}
	if c.Match.Duration <= 0 {
		return errors.New("config: match.duration must be positive")
	}
	if c.Match.HotWeight < 1 {
		return errors.New("config: match.hot_weight must be at least 1")
	}
	if c.RateLimit.MaxMessages < 1 || c.RateLimit.Window <= 0 {
		return errors.New("config: rate_limit needs max_messages >= 1 and a positive window")
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New("config: heartbeat.interval must be positive")
	}
	if c.Persistence.DeleteTimeout <= 0 || c.Events.PublishTimeout <= 0 {
		return errors.New("config: persistence.delete_timeout and events.publish_timeout must be positive")
	}
	switch c.Events.Driver {
	case "", "redis", "nats":
	default:
		return fmt.Errorf("config: unknown events driver %q", c.Events.Driver)
	}
	return nil
}

// getEnvInt 解析整數環境變數，失敗時回傳預設值
func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// splitCSV 逗號分隔字串，去除空白與空項
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
