package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fansqz/debug-playground/constants"
	e "github.com/fansqz/debug-playground/error"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，如 DEBUGPLAY_SERVER_ADDR
const EnvPrefix = "DEBUGPLAY"

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Interpreter InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	Breakpoints BreakpointsConfig `mapstructure:"breakpoints" yaml:"breakpoints"`
	Inspector   InspectorConfig   `mapstructure:"inspector" yaml:"inspector"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	// Addr 前端连接的监听地址
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	// Path 日志文件，为空时输出到标准错误
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

type InterpreterConfig struct {
	// Backend yaegi 或 dap
	Backend           constants.InterpreterBackend `mapstructure:"backend" yaml:"backend"`
	RunTimeoutSeconds int                          `mapstructure:"run_timeout_seconds" yaml:"run_timeout_seconds"`
	DAP               DAPConfig                    `mapstructure:"dap" yaml:"dap"`
}

type DAPConfig struct {
	// Address adapter的地址，debug-playground dap 启动的adapter默认监听该地址
	Address               string                 `mapstructure:"address" yaml:"address"`
	Language              constants.LanguageType `mapstructure:"language" yaml:"language"`
	RequestTimeoutSeconds int                    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

type BreakpointsConfig struct {
	// LiveSync 程序暂停时允许修改断点
	LiveSync bool `mapstructure:"live_sync" yaml:"live_sync"`
}

type InspectorConfig struct {
	// FlashMillis 提示信息显示的时间
	FlashMillis int `mapstructure:"flash_millis" yaml:"flash_millis"`
}

type MetricsConfig struct {
	// Addr 为空时不暴露 /metrics
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8889"},
		Log:    LogConfig{Path: "", Level: "info"},
		Interpreter: InterpreterConfig{
			Backend:           constants.YaegiBackend,
			RunTimeoutSeconds: 10,
			DAP: DAPConfig{
				Address:               "127.0.0.1:8890",
				Language:              constants.LanguageGo,
				RequestTimeoutSeconds: 5,
			},
		},
		Breakpoints: BreakpointsConfig{LiveSync: false},
		Inspector:   InspectorConfig{FlashMillis: 1500},
		Metrics:     MetricsConfig{Addr: ""},
	}
}

// Load 读取配置文件，文件不存在时使用默认配置，环境变量优先于配置文件
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("log.path", cfg.Log.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("interpreter.backend", string(cfg.Interpreter.Backend))
	v.SetDefault("interpreter.run_timeout_seconds", cfg.Interpreter.RunTimeoutSeconds)
	v.SetDefault("interpreter.dap.address", cfg.Interpreter.DAP.Address)
	v.SetDefault("interpreter.dap.language", string(cfg.Interpreter.DAP.Language))
	v.SetDefault("interpreter.dap.request_timeout_seconds", cfg.Interpreter.DAP.RequestTimeoutSeconds)
	v.SetDefault("breakpoints.live_sync", cfg.Breakpoints.LiveSync)
	v.SetDefault("inspector.flash_millis", cfg.Inspector.FlashMillis)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Interpreter.Backend {
	case constants.YaegiBackend:
	case constants.DAPBackend:
		if c.Interpreter.DAP.Address == "" {
			return fmt.Errorf("interpreter.dap.address is required for the dap backend")
		}
		if _, err := constants.MainFileName(c.Interpreter.DAP.Language); err != nil {
			return fmt.Errorf("interpreter.dap.language %q: %w", c.Interpreter.DAP.Language, err)
		}
	default:
		return fmt.Errorf("interpreter.backend %q: %w", c.Interpreter.Backend, e.ErrBackendNotSupported)
	}
	if c.Interpreter.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("interpreter.run_timeout_seconds must be positive")
	}
	if c.Interpreter.DAP.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("interpreter.dap.request_timeout_seconds must be positive")
	}
	if c.Inspector.FlashMillis < 0 {
		return fmt.Errorf("inspector.flash_millis must not be negative")
	}
	return nil
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Interpreter.RunTimeoutSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Interpreter.DAP.RequestTimeoutSeconds) * time.Second
}

func (c Config) FlashDuration() time.Duration {
	return time.Duration(c.Inspector.FlashMillis) * time.Millisecond
}

// Save 把配置写入path，文件已存在并且force为false时返回错误
func Save(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
