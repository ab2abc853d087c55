package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Media   MediaConfig   `mapstructure:"media"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite / postgres
	DSN    string `mapstructure:"dsn"`
}

// MediaConfig 媒体存储配置
type MediaConfig struct {
	Root    string `mapstructure:"root"`
	URLBase string `mapstructure:"url_base"`
}

// NotifyConfig 通知配置，NATSURL 为空时禁用
type NotifyConfig struct {
	NATSURL string `mapstructure:"nats_url"`
}

// GraphConfig 连接图配置
type GraphConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FactCooldown  time.Duration `mapstructure:"fact_cooldown"`
}

// LimitsConfig 入口限流配置
type LimitsConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BlockAfter        int           `mapstructure:"block_after"` // 连续违规次数
	BlockFor          time.Duration `mapstructure:"block_for"`
}

// Load 加载配置文件，onChange 非空时监听文件变更
func Load(configPath string, onChange func(*Config)) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("RENMAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if onChange != nil {
		v.OnConfigChange(func(fsnotify.Event) {
			var next Config
			if err := v.Unmarshal(&next); err != nil {
				slog.Error("重载配置失败", "error", err)
				return
			}
			onChange(&next)
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "renmai-server")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")

	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Storage
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/renmai.db")

	// Media
	v.SetDefault("media.root", "./data/media")
	v.SetDefault("media.url_base", "/media")

	// Notify
	v.SetDefault("notify.nats_url", "")

	// Graph
	v.SetDefault("graph.sweep_interval", "1h")
	v.SetDefault("graph.fact_cooldown", "168h")

	// Limits
	v.SetDefault("limits.requests_per_minute", 120)
	v.SetDefault("limits.block_after", 3)
	v.SetDefault("limits.block_for", "1h")
}

// SetupLogger 根据配置设置日志级别
func SetupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
